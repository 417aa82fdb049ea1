package service

import (
	"context"
	"errors"
	"fmt"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码或 WS 错误回执。
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username taken")
	ErrAuthorization      = errors.New("not a member of this conversation")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrNoAdminAvailable   = errors.New("no admin available")
	ErrPersistence        = errors.New("persistence error")

	ErrInvalidMessage     = fmt.Errorf("%w: invalid message", ErrInvalidOperation)
	ErrSelfConversation   = fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidOperation)
	ErrPersistenceTimeout = fmt.Errorf("%w: timeout", ErrPersistence)
)

// storeErr 包装存储层错误；超时单独归类为 ErrPersistenceTimeout。
func storeErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
