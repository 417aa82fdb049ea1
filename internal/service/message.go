package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/metrics"
	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/store"

	"github.com/rs/zerolog/log"
)

// SendRequest 是一次发送请求；file 类型必须带附件，text 类型必须有内容。
type SendRequest struct {
	ConversationID uint
	Type           string
	Content        string
	Attachment     *models.Attachment
}

func (r *SendRequest) normalize() error {
	switch r.Type {
	case models.MessageText:
		if strings.TrimSpace(r.Content) == "" {
			return fmt.Errorf("%w: text message without content", ErrInvalidMessage)
		}
		r.Attachment = nil
	case models.MessageFile:
		if r.Attachment == nil || r.Attachment.Name == "" || r.Attachment.Path == "" {
			return fmt.Errorf("%w: file message without attachment", ErrInvalidMessage)
		}
		r.Content = ""
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, r.Type)
	}
	return nil
}

// MessageService 是唯一创建消息的路径，并负责已读回执。
// 同一会话的写入、广播和摘要重算按会话串行，保证推送顺序与落库顺序一致。
type MessageService struct {
	store     store.Gateway
	fan       Fanout
	summaries *SummaryService
	timeout   time.Duration
	now       func() time.Time
}

func NewMessageService(st store.Gateway, fan Fanout, summaries *SummaryService, timeout time.Duration) *MessageService {
	return &MessageService{
		store:     st,
		fan:       fan,
		summaries: summaries,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Send 持久化消息、回读规范记录，并向发送方和接收方的用户组推送 message:new。
// 持久化失败时不做任何广播，也不重试。
func (s *MessageService) Send(ctx context.Context, senderID uint, req SendRequest) (*models.MessageView, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := authorize(ctx, s.store, senderID, req.ConversationID); err != nil {
		return nil, err
	}

	unlock := s.summaries.lockConversation(req.ConversationID)
	defer unlock()

	id, err := s.store.InsertMessage(ctx, store.NewMessage{
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Type:           req.Type,
		Content:        req.Content,
		Attachment:     req.Attachment,
	})
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	msg, err := s.store.GetMessageWithSender(ctx, id)
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	metrics.MessagesSent.WithLabelValues(msg.Type).Inc()

	var recipientID uint
	if other, err := s.store.GetCounterpart(ctx, req.ConversationID, senderID); err != nil {
		log.Warn().Err(err).Uint("conversation_id", req.ConversationID).Uint("sender_id", senderID).Msg("resolve recipient")
	} else {
		recipientID = other.ID
	}

	ev := MessageNew{ConversationID: req.ConversationID, Message: *msg}
	s.fan.BroadcastToUser(senderID, ev)
	if recipientID != 0 {
		s.fan.BroadcastToUser(recipientID, ev)
	}

	s.recompute(ctx, senderID, req.ConversationID)
	if recipientID != 0 {
		s.recompute(ctx, recipientID, req.ConversationID)
	}
	return msg, nil
}

// MarkRead 把对方发来的未读消息标记为已读。没有新标记时不产生任何事件。
func (s *MessageService) MarkRead(ctx context.Context, userID, conversationID uint) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := authorize(ctx, s.store, userID, conversationID); err != nil {
		return 0, err
	}

	unlock := s.summaries.lockConversation(conversationID)
	defer unlock()

	n, err := s.store.MarkMessagesRead(ctx, conversationID, userID, s.now())
	if err != nil {
		return 0, storeErr(ctx, err)
	}
	if n == 0 {
		return 0, nil
	}
	metrics.MessagesRead.Add(float64(n))
	s.recompute(ctx, userID, conversationID)
	return n, nil
}

// List 返回会话历史，仅成员可读。
func (s *MessageService) List(ctx context.Context, userID, conversationID uint, limit int, beforeID uint) ([]models.MessageView, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := authorize(ctx, s.store, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, limit, beforeID)
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	return msgs, nil
}

func (s *MessageService) recompute(ctx context.Context, userID, conversationID uint) {
	if _, err := s.summaries.Recompute(ctx, userID, conversationID); err != nil {
		log.Error().Err(err).Uint("user_id", userID).Uint("conversation_id", conversationID).Msg("recompute summary")
	}
}
