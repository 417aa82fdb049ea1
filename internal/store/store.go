// Package store is the persistence gateway for users, conversations and messages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

// NewMessage is the insert payload for a message; ID and CreatedAt are assigned by the store.
type NewMessage struct {
	ConversationID uint
	SenderID       uint
	Type           string
	Content        string
	Attachment     *models.Attachment
}

// NewConversation is created together with its members, and with Welcome when set, in one transaction.
type NewConversation struct {
	Kind    string
	Title   string
	PairKey string
	Members []uint
	Welcome *NewMessage
}

// Latest describes the newest message of a conversation and the unread count for one reader.
type Latest struct {
	Preview string
	At      *time.Time
	Unread  int64
}

// Gateway is everything the messaging core reads and writes.
type Gateway interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, exceptID uint) ([]models.User, error)
	FindAdminUser(ctx context.Context) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error

	FindDirectConversation(ctx context.Context, userA, userB uint) (uint, error)
	FindSupportConversation(ctx context.Context, userID uint) (uint, error)
	CreateConversation(ctx context.Context, nc NewConversation) (uint, error)
	IsMember(ctx context.Context, conversationID, userID uint) (bool, error)
	ListConversationIDs(ctx context.Context, userID uint) ([]uint, error)
	GetCounterpart(ctx context.Context, conversationID, userID uint) (*models.User, error)

	InsertMessage(ctx context.Context, m NewMessage) (uint, error)
	GetMessageWithSender(ctx context.Context, id uint) (*models.MessageView, error)
	ListMessages(ctx context.Context, conversationID uint, limit int, beforeID uint) ([]models.MessageView, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerID uint, at time.Time) (int64, error)
	GetLatestMessageAndUnread(ctx context.Context, conversationID, userID uint) (Latest, error)
}

// Preview returns the conversation-list text for a message.
func Preview(msgType, content, fileName string) string {
	if msgType == models.MessageFile {
		return fileName
	}
	return content
}
