package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Inbound 是客户端发来的帧，Data 按 Type 解码。
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client 是一条已认证的连接。出站帧经有界缓冲队列写出，慢客户端缓冲写满时直接断开。
type Client struct {
	ID       string
	Identity auth.Identity

	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	userGroup string
	groups    map[string]struct{}
}

func NewClient(conn *websocket.Conn, id auth.Identity) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Identity: id,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		groups:   make(map[string]struct{}),
	}
}

// Outbound 暴露写泵消费的队列。
func (c *Client) Outbound() <-chan []byte { return c.send }

// Done 在连接关闭后被关闭。
func (c *Client) Done() <-chan struct{} { return c.done }

// InGroup 报告连接当前是否在某个组中。
func (c *Client) InGroup(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.groups[key]
	return ok
}

func (c *Client) bindUserGroup(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userGroup != "" && c.userGroup != key {
		return false
	}
	c.userGroup = key
	return true
}

func (c *Client) addGroup(key string) {
	c.mu.Lock()
	c.groups[key] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeGroup(key string) {
	c.mu.Lock()
	delete(c.groups, key)
	c.mu.Unlock()
}

func (c *Client) takeGroups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.groups))
	for k := range c.groups {
		keys = append(keys, k)
	}
	c.groups = make(map[string]struct{})
	return keys
}

func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		log.Warn().Str("conn_id", c.ID).Uint("user_id", c.Identity.UserID).Msg("send buffer full, closing connection")
		c.Close()
		return false
	}
}

// Send 只发给这一条连接，用于请求级的错误回执。
func (c *Client) Send(ev Event) bool {
	b, err := Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.EventType()).Msg("encode event")
		return false
	}
	return c.enqueue(b)
}

// Close 幂等地关闭连接，读泵随之退出。
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Run 启动写泵并在当前 goroutine 中运行读泵，直到连接断开。
func (c *Client) Run(handle func(Inbound)) {
	go c.writePump()
	c.readPump(handle)
}

func (c *Client) readPump(handle func(Inbound)) {
	defer c.Close()
	c.conn.SetReadLimit(1 << 20) // 1MB
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("ws read")
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			continue
		}
		handle(in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
