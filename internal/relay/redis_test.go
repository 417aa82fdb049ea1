package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/ws"

	"github.com/redis/go-redis/v9"
)

type ping struct {
	N int `json:"n"`
}

func (ping) EventType() string { return "ping" }

func joinedClient(t *testing.T, hub *ws.Hub, userID uint) *ws.Client {
	t.Helper()
	c := ws.NewClient(nil, auth.Identity{UserID: userID})
	if err := hub.JoinUserGroup(c, userID); err != nil {
		t.Fatalf("JoinUserGroup() error = %v", err)
	}
	return c
}

func receive(t *testing.T, c *ws.Client) ping {
	t.Helper()
	select {
	case b := <-c.Outbound():
		var env struct {
			Type string `json:"type"`
			Data ping   `json:"data"`
		}
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if env.Type != "ping" {
			t.Fatalf("type = %q, want ping", env.Type)
		}
		return env.Data
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
	return ping{}
}

func TestRedis_PublishFailureDeliversLocally(t *testing.T) {
	hub := ws.NewHub()
	c := joinedClient(t, hub, 3)
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := newRedis(client, "test", hub)
	defer r.Close()

	r.BroadcastToUser(3, ping{N: 9})

	if got := receive(t, c); got.N != 9 {
		t.Errorf("received %+v, want n=9", got)
	}
}

func TestRedis_HandleFrame(t *testing.T) {
	hub := ws.NewHub()
	c := joinedClient(t, hub, 5)
	r := newRedis(nil, "test", hub)

	payload, err := ws.Encode(ping{N: 1})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	raw, _ := json.Marshal(frame{Group: ws.UserGroup(5), Payload: payload})

	r.handle("not json")
	r.handle(string(raw))

	if got := receive(t, c); got.N != 1 {
		t.Errorf("received %+v, want n=1", got)
	}
}
