package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
)

type testEvent struct {
	Seq int `json:"seq"`
}

func (testEvent) EventType() string { return "test" }

func newTestClient(userID uint) *Client {
	return NewClient(nil, auth.Identity{UserID: userID, Name: fmt.Sprintf("user%d", userID)})
}

func drain(c *Client) []testEvent {
	var out []testEvent
	for {
		select {
		case b := <-c.Outbound():
			var env struct {
				Type string    `json:"type"`
				Data testEvent `json:"data"`
			}
			if err := json.Unmarshal(b, &env); err == nil && env.Type == "test" {
				out = append(out, env.Data)
			}
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if got := hub.Online(1); got != 0 {
		t.Errorf("Online() for unknown user = %d, want 0", got)
	}
}

func TestHub_BroadcastToUser_AllDevices(t *testing.T) {
	hub := NewHub()
	phone, laptop, other := newTestClient(1), newTestClient(1), newTestClient(2)
	for _, c := range []*Client{phone, laptop, other} {
		if err := hub.JoinUserGroup(c, c.Identity.UserID); err != nil {
			t.Fatalf("JoinUserGroup() error = %v", err)
		}
	}

	hub.BroadcastToUser(1, testEvent{Seq: 7})

	for name, c := range map[string]*Client{"phone": phone, "laptop": laptop} {
		if got := drain(c); len(got) != 1 || got[0].Seq != 7 {
			t.Errorf("%s received %v, want one event with seq 7", name, got)
		}
	}
	if got := drain(other); len(got) != 0 {
		t.Errorf("other user received %v, want nothing", got)
	}
	if got := hub.Online(1); got != 2 {
		t.Errorf("Online(1) = %d, want 2", got)
	}
}

func TestHub_JoinUserGroup_Fixed(t *testing.T) {
	hub := NewHub()
	c := newTestClient(1)
	if err := hub.JoinUserGroup(c, 1); err != nil {
		t.Fatalf("JoinUserGroup() error = %v", err)
	}
	if err := hub.JoinUserGroup(c, 1); err != nil {
		t.Errorf("rejoining same user group error = %v, want nil", err)
	}
	if err := hub.JoinUserGroup(c, 2); err != ErrUserGroupFixed {
		t.Errorf("joining second user group error = %v, want ErrUserGroupFixed", err)
	}
}

func TestHub_JoinConversationGroup_Idempotent(t *testing.T) {
	hub := NewHub()
	c := newTestClient(1)
	hub.JoinConversationGroup(c, 10)
	hub.JoinConversationGroup(c, 10)

	if n := hub.Deliver(ConversationGroup(10), []byte(`{}`)); n != 1 {
		t.Errorf("Deliver() = %d, want 1", n)
	}
	if !c.InGroup(ConversationGroup(10)) {
		t.Error("InGroup() = false, want true")
	}
}

func TestHub_LeaveAll(t *testing.T) {
	hub := NewHub()
	c := newTestClient(1)
	_ = hub.JoinUserGroup(c, 1)
	hub.JoinConversationGroup(c, 10)
	hub.JoinConversationGroup(c, 11)

	hub.LeaveAll(c)

	if hub.Online(1) != 0 {
		t.Errorf("Online(1) after LeaveAll = %d, want 0", hub.Online(1))
	}
	for _, conv := range []uint{10, 11} {
		if n := hub.Deliver(ConversationGroup(conv), []byte(`{}`)); n != 0 {
			t.Errorf("Deliver(conversation %d) after LeaveAll = %d, want 0", conv, n)
		}
	}
}

func TestHub_LeaveConversationGroup(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(1), newTestClient(2)
	hub.JoinConversationGroup(a, 5)
	hub.JoinConversationGroup(b, 5)

	hub.LeaveConversationGroup(a, 5)

	hub.BroadcastToConversation(5, testEvent{Seq: 1})
	if got := drain(a); len(got) != 0 {
		t.Errorf("left client received %v", got)
	}
	if got := drain(b); len(got) != 1 {
		t.Errorf("remaining client received %d events, want 1", len(got))
	}
}

func TestHub_FIFOPerGroup(t *testing.T) {
	hub := NewHub()
	c := newTestClient(1)
	_ = hub.JoinUserGroup(c, 1)

	const n = 100
	for i := 0; i < n; i++ {
		hub.BroadcastToUser(1, testEvent{Seq: i})
	}

	got := drain(c)
	if len(got) != n {
		t.Fatalf("received %d events, want %d", len(got), n)
	}
	for i, ev := range got {
		if ev.Seq != i {
			t.Fatalf("event %d has seq %d, order not preserved", i, ev.Seq)
		}
	}
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub := NewHub()
	slow := newTestClient(1)
	_ = hub.JoinUserGroup(slow, 1)

	for i := 0; i < sendBuffer+1; i++ {
		hub.BroadcastToUser(1, testEvent{Seq: i})
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client was not closed after its buffer overflowed")
	}
	if n := hub.Deliver(UserGroup(1), []byte(`{}`)); n != 0 {
		t.Errorf("Deliver() to closed client = %d, want 0", n)
	}
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	clients := make([]*Client, 20)

	for i := range clients {
		clients[i] = newTestClient(uint(i%5 + 1))
		wg.Add(1)
		go func(c *Client, conv uint) {
			defer wg.Done()
			_ = hub.JoinUserGroup(c, c.Identity.UserID)
			hub.JoinConversationGroup(c, conv)
			hub.BroadcastToConversation(conv, testEvent{Seq: 1})
		}(clients[i], uint(i%3))
	}
	wg.Wait()

	total := 0
	for u := uint(1); u <= 5; u++ {
		total += hub.Online(u)
	}
	if total != len(clients) {
		t.Errorf("total online = %d, want %d", total, len(clients))
	}

	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.LeaveAll(c)
		}(c)
	}
	wg.Wait()

	for u := uint(1); u <= 5; u++ {
		if hub.Online(u) != 0 {
			t.Errorf("Online(%d) after LeaveAll = %d, want 0", u, hub.Online(u))
		}
	}
}
