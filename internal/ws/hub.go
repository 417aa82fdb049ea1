package ws

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

const shardCount = 32

// ErrUserGroupFixed 表示连接已绑定到另一个用户组。
var ErrUserGroupFixed = errors.New("ws: connection already bound to a user group")

// Event 是一种带固定字段的出站事件，EventType 即信封中的 type。
type Event interface {
	EventType() string
}

type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Encode 把事件编码成 {type, data} 信封。
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Type: ev.EventType(), Data: ev})
}

func UserGroup(userID uint) string { return "user:" + strconv.FormatUint(uint64(userID), 10) }

func ConversationGroup(conversationID uint) string {
	return "conversation:" + strconv.FormatUint(uint64(conversationID), 10)
}

type group struct {
	mu      sync.Mutex
	members map[*Client]struct{}
}

type shard struct {
	mu     sync.RWMutex
	groups map[string]*group
}

// Hub 维护组名到连接集合的映射。按组名分片加锁，互不相关的会话之间不竞争同一把锁；
// 同一组内的广播持有组锁依次入队，因此同组事件保持 FIFO。
type Hub struct {
	shards [shardCount]shard
}

func NewHub() *Hub {
	h := &Hub{}
	for i := range h.shards {
		h.shards[i].groups = make(map[string]*group)
	}
	return h
}

func (h *Hub) shardFor(key string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return &h.shards[f.Sum32()%shardCount]
}

func (h *Hub) join(c *Client, key string) {
	s := h.shardFor(key)
	s.mu.Lock()
	g := s.groups[key]
	if g == nil {
		g = &group{members: make(map[*Client]struct{})}
		s.groups[key] = g
	}
	g.mu.Lock()
	g.members[c] = struct{}{}
	g.mu.Unlock()
	s.mu.Unlock()
	c.addGroup(key)
}

func (h *Hub) leave(c *Client, key string) {
	s := h.shardFor(key)
	s.mu.Lock()
	if g := s.groups[key]; g != nil {
		g.mu.Lock()
		delete(g.members, c)
		empty := len(g.members) == 0
		g.mu.Unlock()
		if empty {
			delete(s.groups, key)
		}
	}
	s.mu.Unlock()
}

// JoinUserGroup 把连接加入 user:{id}。一个连接只属于一个用户组，认证时确定。
func (h *Hub) JoinUserGroup(c *Client, userID uint) error {
	key := UserGroup(userID)
	if !c.bindUserGroup(key) {
		return ErrUserGroupFixed
	}
	h.join(c, key)
	return nil
}

// JoinConversationGroup 不做成员校验，调用方负责授权。重复加入是幂等的。
func (h *Hub) JoinConversationGroup(c *Client, conversationID uint) {
	h.join(c, ConversationGroup(conversationID))
}

// LeaveConversationGroup 在客户端关闭会话视图时调用。
func (h *Hub) LeaveConversationGroup(c *Client, conversationID uint) {
	key := ConversationGroup(conversationID)
	h.leave(c, key)
	c.removeGroup(key)
}

// LeaveAll 在断开连接时移除该连接的全部组成员关系。
func (h *Hub) LeaveAll(c *Client) {
	for _, key := range c.takeGroups() {
		h.leave(c, key)
	}
}

func (h *Hub) BroadcastToUser(userID uint, ev Event) {
	h.broadcast(UserGroup(userID), ev)
}

func (h *Hub) BroadcastToConversation(conversationID uint, ev Event) {
	h.broadcast(ConversationGroup(conversationID), ev)
}

func (h *Hub) broadcast(key string, ev Event) {
	b, err := Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("group", key).Str("event", ev.EventType()).Msg("encode event")
		return
	}
	h.Deliver(key, b)
}

// Deliver 把已编码的帧投递给本节点上该组的所有连接，返回成功入队的连接数。
func (h *Hub) Deliver(key string, payload []byte) int {
	s := h.shardFor(key)
	s.mu.RLock()
	g := s.groups[key]
	s.mu.RUnlock()
	if g == nil {
		return 0
	}
	delivered := 0
	g.mu.Lock()
	for c := range g.members {
		if c.enqueue(payload) {
			delivered++
		}
	}
	g.mu.Unlock()
	return delivered
}

// Online 返回某用户当前的连接数。
func (h *Hub) Online(userID uint) int {
	key := UserGroup(userID)
	s := h.shardFor(key)
	s.mu.RLock()
	g := s.groups[key]
	s.mu.RUnlock()
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}
