package service

import (
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/ws"
)

const (
	EventMessageNew         = "message:new"
	EventConversationUpsert = "conversation:upsert"
	EventTyping             = "typing"
)

// Fanout 是服务层依赖的广播能力，由 ws.Hub 或跨节点 relay 实现。
type Fanout interface {
	BroadcastToUser(userID uint, ev ws.Event)
	BroadcastToConversation(conversationID uint, ev ws.Event)
}

type MessageNew struct {
	ConversationID uint               `json:"conversationId"`
	Message        models.MessageView `json:"message"`
}

func (MessageNew) EventType() string { return EventMessageNew }

// ConversationSummary 是某个用户视角下的会话摘要，只推送给该用户本人。
type ConversationSummary struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	LastMessage string     `json:"lastMessage"`
	LastAt      *time.Time `json:"lastAt"`
	Unread      int64      `json:"unread"`
}

type ConversationUpsert struct {
	ConversationSummary
}

func (ConversationUpsert) EventType() string { return EventConversationUpsert }

type Typing struct {
	ConversationID uint   `json:"conversationId"`
	UserID         uint   `json:"userId"`
	Name           string `json:"name"`
	IsTyping       bool   `json:"isTyping"`
}

func (Typing) EventType() string { return EventTyping }
