// Package relay fans hub broadcasts out to every server instance through Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// frame 是跨节点传递的单条广播。
type frame struct {
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload"`
}

// Redis 把广播发布到共享频道，每个节点（包括发布者自己）订阅后投递给本地连接。
// 发布失败时退化为只投递本节点。
type Redis struct {
	client  *redis.Client
	channel string
	hub     *ws.Hub
}

// NewRedis 解析 url 并 ping 一次，失败则返回错误。
func NewRedis(url, channel string, hub *ws.Hub) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newRedis(c, channel, hub), nil
}

func newRedis(c *redis.Client, channel string, hub *ws.Hub) *Redis {
	return &Redis{client: c, channel: channel, hub: hub}
}

func (r *Redis) BroadcastToUser(userID uint, ev ws.Event) {
	r.publish(ws.UserGroup(userID), ev)
}

func (r *Redis) BroadcastToConversation(conversationID uint, ev ws.Event) {
	r.publish(ws.ConversationGroup(conversationID), ev)
}

func (r *Redis) publish(group string, ev ws.Event) {
	payload, err := ws.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("group", group).Str("event", ev.EventType()).Msg("encode event")
		return
	}
	b, err := json.Marshal(frame{Group: group, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("group", group).Msg("encode relay frame")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		log.Warn().Err(err).Str("group", group).Msg("relay publish failed, delivering locally")
		r.hub.Deliver(group, payload)
	}
}

// Run 订阅频道并把收到的帧投递给本地 hub，直到 ctx 结束。
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Redis) handle(raw string) {
	var f frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil || f.Group == "" {
		log.Warn().Err(err).Msg("drop malformed relay frame")
		return
	}
	r.hub.Deliver(f.Group, f.Payload)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
