package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/config"
	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/store"
)

// OnlineCounter 报告某用户当前的活跃连接数。
type OnlineCounter interface {
	Online(userID uint) int
}

// UserService 封装登录与用户目录。
type UserService struct {
	store   store.Gateway
	cfg     config.Config
	online  OnlineCounter
	timeout time.Duration
}

func NewUserService(st store.Gateway, cfg config.Config, online OnlineCounter) *UserService {
	return &UserService{store: st, cfg: cfg, online: online, timeout: cfg.StoreTimeout}
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken string        `json:"access_token"`
	User        auth.Identity `json:"user"`
}

// Login 校验用户名密码并签发访问 token。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken: at,
		User:        auth.Identity{UserID: user.ID, Name: user.Name, Role: user.Role},
	}, nil
}

// UserDTO 是对外输出的用户数据。
type UserDTO struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Online bool   `json:"online"`
}

// List 返回除自己以外的所有用户，附带在线状态。
func (s *UserService) List(ctx context.Context, exceptID uint) ([]UserDTO, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	users, err := s.store.ListUsers(ctx, exceptID)
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	out := make([]UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, UserDTO{ID: u.ID, Name: u.Name, Role: roleOrDefault(u.Role), Online: s.online.Online(u.ID) > 0})
	}
	return out, nil
}

// CreateUserRequest 是管理员创建账号的参数。
type CreateUserRequest struct {
	Name     string
	Username string
	Password string
	Role     string
}

// Create 由管理员调用，创建一个可以登录的账号。
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*UserDTO, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	req.Role = roleOrDefault(req.Role)
	if len(req.Username) < 2 || len(req.Username) > 64 {
		return nil, fmt.Errorf("%w: invalid username", ErrInvalidOperation)
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		return nil, fmt.Errorf("%w: invalid password", ErrInvalidOperation)
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: invalid role %q", ErrInvalidOperation, req.Role)
	}
	if req.Name == "" {
		req.Name = req.Username
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	u := models.User{Name: req.Name, Username: req.Username, PasswordHash: hash, Role: req.Role}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, storeErr(ctx, err)
	}
	return &UserDTO{ID: u.ID, Name: u.Name, Role: u.Role}, nil
}

func roleOrDefault(role string) string {
	if role == "" {
		return models.RoleUser
	}
	return role
}
