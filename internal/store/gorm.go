package store

import (
	"context"
	"errors"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/models"

	"gorm.io/gorm"
)

// GormStore 基于 GORM 实现 Gateway，支持 Postgres 与 MySQL。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Gateway = (*GormStore)(nil)

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) ListUsers(ctx context.Context, exceptID uint) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Where("id <> ?", exceptID).Order("name asc").Find(&users).Error
	return users, translate(err)
}

// CreateUser 写入用户并回填 ID；用户名冲突返回 ErrDuplicate。
func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

// FindAdminUser 返回 id 最小的管理员。
func (s *GormStore) FindAdminUser(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("role = ?", models.RoleAdmin).Order("id asc").First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) FindDirectConversation(ctx context.Context, userA, userB uint) (uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Joins("JOIN conversation_members a ON a.conversation_id = conversations.id AND a.user_id = ?", userA).
		Joins("JOIN conversation_members b ON b.conversation_id = conversations.id AND b.user_id = ?", userB).
		Where("conversations.kind = ?", models.KindDirect).
		Order("conversations.id asc").
		Limit(1).
		Pluck("conversations.id", &ids).Error
	if err != nil {
		return 0, translate(err)
	}
	if len(ids) == 0 {
		return 0, ErrNotFound
	}
	return ids[0], nil
}

func (s *GormStore) FindSupportConversation(ctx context.Context, userID uint) (uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id AND cm.user_id = ?", userID).
		Where("conversations.kind = ?", models.KindSupport).
		Order("conversations.id asc").
		Limit(1).
		Pluck("conversations.id", &ids).Error
	if err != nil {
		return 0, translate(err)
	}
	if len(ids) == 0 {
		return 0, ErrNotFound
	}
	return ids[0], nil
}

// CreateConversation 在同一事务中写入会话、成员以及可选的欢迎消息。
// PairKey 冲突时返回 ErrDuplicate，调用方应重新查找已存在的会话。
func (s *GormStore) CreateConversation(ctx context.Context, nc NewConversation) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := models.Conversation{Kind: nc.Kind, Title: nc.Title}
		if nc.PairKey != "" {
			key := nc.PairKey
			conv.PairKey = &key
		}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		members := make([]models.ConversationMember, 0, len(nc.Members))
		for _, uid := range nc.Members {
			members = append(members, models.ConversationMember{ConversationID: conv.ID, UserID: uid})
		}
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		if nc.Welcome != nil {
			w := *nc.Welcome
			w.ConversationID = conv.ID
			msg := toMessage(w)
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
		}
		id = conv.ID
		return nil
	})
	if err != nil {
		return 0, translate(err)
	}
	return id, nil
}

func (s *GormStore) IsMember(ctx context.Context, conversationID, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	return n > 0, translate(err)
}

func (s *GormStore) ListConversationIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.ConversationMember{}).
		Where("user_id = ?", userID).
		Order("conversation_id asc").
		Pluck("conversation_id", &ids).Error
	return ids, translate(err)
}

func (s *GormStore) GetCounterpart(ctx context.Context, conversationID, userID uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Joins("JOIN conversation_members cm ON cm.user_id = users.id").
		Where("cm.conversation_id = ? AND users.id <> ?", conversationID, userID).
		Order("users.id asc").
		Take(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func toMessage(m NewMessage) models.Message {
	msg := models.Message{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        m.Content,
	}
	if m.Attachment != nil {
		msg.FileName = m.Attachment.Name
		msg.FilePath = m.Attachment.Path
	}
	return msg
}

func (s *GormStore) InsertMessage(ctx context.Context, m NewMessage) (uint, error) {
	msg := toMessage(m)
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return 0, translate(err)
	}
	return msg.ID, nil
}

func (s *GormStore) messageViews(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table("messages").
		Select("messages.*, users.name AS sender_name").
		Joins("JOIN users ON users.id = messages.sender_id")
}

func (s *GormStore) GetMessageWithSender(ctx context.Context, id uint) (*models.MessageView, error) {
	var v models.MessageView
	res := s.messageViews(ctx).Where("messages.id = ?", id).Limit(1).Scan(&v)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &v, nil
}

// ListMessages 分页查询会话消息，按 id 升序返回。
func (s *GormStore) ListMessages(ctx context.Context, conversationID uint, limit int, beforeID uint) ([]models.MessageView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.messageViews(ctx).Where("messages.conversation_id = ?", conversationID)
	if beforeID > 0 {
		q = q.Where("messages.id < ?", beforeID)
	}
	var out []models.MessageView
	if err := q.Order("messages.id desc").Limit(limit).Scan(&out).Error; err != nil {
		return nil, translate(err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *GormStore) MarkMessagesRead(ctx context.Context, conversationID, readerID uint, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, readerID).
		Update("read_at", at)
	return res.RowsAffected, translate(res.Error)
}

func (s *GormStore) GetLatestMessageAndUnread(ctx context.Context, conversationID, userID uint) (Latest, error) {
	var out Latest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last []models.Message
		if err := tx.Where("conversation_id = ?", conversationID).
			Order("created_at desc, id desc").
			Limit(1).
			Find(&last).Error; err != nil {
			return err
		}
		if len(last) == 1 {
			at := last[0].CreatedAt
			out.Preview = Preview(last[0].Type, last[0].Content, last[0].FileName)
			out.At = &at
		}
		return tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, userID).
			Count(&out.Unread).Error
	})
	return out, translate(err)
}
