package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/metrics"
	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/mw"
	"github.com/PedroFSampaio/chat-interno/internal/service"
	"github.com/PedroFSampaio/chat-interno/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	opJoinConversation  = "joinConversation"
	opLeaveConversation = "leaveConversation"
	opMarkAsRead        = "markAsRead"
	opSendMessage       = "message:send"
	opTyping            = "typing"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrorEvent 只回给发起请求的那条连接。
type ErrorEvent struct {
	Op             string `json:"op"`
	ConversationID uint   `json:"conversation_id,omitempty"`
	Error          string `json:"error"`
}

func (ErrorEvent) EventType() string { return "error" }

type conversationRef struct {
	ConversationID uint `json:"conversation_id"`
}

type sendPayload struct {
	ConversationID uint   `json:"conversation_id"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	FileName       string `json:"file_name"`
	FilePath       string `json:"file_path"`
}

type typingPayload struct {
	ConversationID uint `json:"conversation_id"`
	IsTyping       bool `json:"is_typing"`
}

// Gateway 在升级前绑定身份，之后把入站帧分发到服务层。
type Gateway struct {
	binder  *auth.Binder
	hub     *ws.Hub
	fan     service.Fanout
	convSvc *service.ConversationService
	msgSvc  *service.MessageService
	events  *mw.Limiter
}

// NewGateway 的 eventsPerSecond 是单条连接的入站事件速率，突发允许两倍。
func NewGateway(binder *auth.Binder, hub *ws.Hub, fan service.Fanout, convSvc *service.ConversationService, msgSvc *service.MessageService, eventsPerSecond int) *Gateway {
	return &Gateway{
		binder:  binder,
		hub:     hub,
		fan:     fan,
		convSvc: convSvc,
		msgSvc:  msgSvc,
		events:  mw.NewLimiter(rate.Limit(eventsPerSecond), 2*eventsPerSecond, 10*time.Minute),
	}
}

// Serve 认证失败时在升级前返回 401，不会建立半认证的连接。
func (g *Gateway) Serve(c *gin.Context) {
	id, err := g.binder.Bind(c.Request.Context(), auth.TokenFromRequest(c.Request))
	if err != nil {
		if errors.Is(err, auth.ErrAuthentication) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		log.Error().Err(err).Msg("ws bind identity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := ws.NewClient(conn, id)
	if err := g.hub.JoinUserGroup(client, id.UserID); err != nil {
		log.Error().Err(err).Uint("user_id", id.UserID).Msg("ws join user group")
		client.Close()
		return
	}
	metrics.WsConnections.Inc()
	log.Debug().Str("conn_id", client.ID).Uint("user_id", id.UserID).Msg("ws connected")
	defer func() {
		g.hub.LeaveAll(client)
		g.events.Forget(client.ID)
		metrics.WsConnections.Dec()
		log.Debug().Str("conn_id", client.ID).Uint("user_id", id.UserID).Msg("ws disconnected")
	}()

	client.Run(g.dispatcher(client))
}

func (g *Gateway) dispatcher(client *ws.Client) func(ws.Inbound) {
	return func(in ws.Inbound) {
		if !g.events.Allow(client.ID) {
			metrics.WsEvents.WithLabelValues(eventLabel(in.Type), "limited").Inc()
			client.Send(ErrorEvent{Op: in.Type, Error: "too many requests"})
			return
		}
		result := "ok"
		if !g.handle(context.Background(), client, in) {
			result = "error"
		}
		metrics.WsEvents.WithLabelValues(eventLabel(in.Type), result).Inc()
	}
}

// handle 处理一帧入站事件，失败时已向该连接回过 error 事件并返回 false。
func (g *Gateway) handle(ctx context.Context, client *ws.Client, in ws.Inbound) bool {
	uid := client.Identity.UserID
	switch in.Type {
	case opJoinConversation:
		var p conversationRef
		if !decode(client, in, &p) {
			return false
		}
		if err := g.convSvc.Authorize(ctx, uid, p.ConversationID); err != nil {
			return replyError(client, in.Type, p.ConversationID, err)
		}
		g.hub.JoinConversationGroup(client, p.ConversationID)

	case opLeaveConversation:
		var p conversationRef
		if !decode(client, in, &p) {
			return false
		}
		g.hub.LeaveConversationGroup(client, p.ConversationID)

	case opMarkAsRead:
		var p conversationRef
		if !decode(client, in, &p) {
			return false
		}
		if _, err := g.msgSvc.MarkRead(ctx, uid, p.ConversationID); err != nil {
			return replyError(client, in.Type, p.ConversationID, err)
		}

	case opSendMessage:
		var p sendPayload
		if !decode(client, in, &p) {
			return false
		}
		req := service.SendRequest{ConversationID: p.ConversationID, Type: p.Type, Content: p.Content}
		if req.Type == "" {
			req.Type = models.MessageText
		}
		if p.FileName != "" || p.FilePath != "" {
			req.Attachment = &models.Attachment{Name: p.FileName, Path: p.FilePath}
		}
		if _, err := g.msgSvc.Send(ctx, uid, req); err != nil {
			return replyError(client, in.Type, p.ConversationID, err)
		}

	case opTyping:
		var p typingPayload
		if !decode(client, in, &p) {
			return false
		}
		if !client.InGroup(ws.ConversationGroup(p.ConversationID)) {
			return replyError(client, in.Type, p.ConversationID, service.ErrAuthorization)
		}
		g.fan.BroadcastToConversation(p.ConversationID, service.Typing{
			ConversationID: p.ConversationID,
			UserID:         uid,
			Name:           client.Identity.Name,
			IsTyping:       p.IsTyping,
		})

	default:
		client.Send(ErrorEvent{Op: in.Type, Error: "unknown event type"})
		return false
	}
	return true
}

// eventLabel 把未知类型归为 other，控制指标标签基数。
func eventLabel(t string) string {
	switch t {
	case opJoinConversation, opLeaveConversation, opMarkAsRead, opSendMessage, opTyping:
		return t
	}
	return "other"
}

func decode(client *ws.Client, in ws.Inbound, v any) bool {
	if len(in.Data) == 0 || json.Unmarshal(in.Data, v) != nil {
		client.Send(ErrorEvent{Op: in.Type, Error: "invalid payload"})
		return false
	}
	return true
}

func replyError(client *ws.Client, op string, conversationID uint, err error) bool {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Uint("user_id", client.Identity.UserID).Uint("conversation_id", conversationID).Msg("ws request failed")
	}
	client.Send(ErrorEvent{Op: op, ConversationID: conversationID, Error: msg})
	return false
}
