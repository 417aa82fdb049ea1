package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/service"
	"github.com/PedroFSampaio/chat-interno/internal/store/memstore"
	"github.com/PedroFSampaio/chat-interno/internal/ws"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type gatewayFixture struct {
	gw    *Gateway
	hub   *ws.Hub
	convs *service.ConversationService
	alice models.User
	bob   models.User
	carol models.User
}

func newGatewayFixture(t *testing.T, eventsPerSecond int) *gatewayFixture {
	t.Helper()
	st := memstore.New()
	hub := ws.NewHub()
	sums := service.NewSummaryService(st, hub, time.Second)
	convs := service.NewConversationService(st, sums, time.Second, "")
	msgs := service.NewMessageService(st, hub, sums, time.Second)
	f := &gatewayFixture{
		gw:    NewGateway(auth.NewBinder("secret", st), hub, hub, convs, msgs, eventsPerSecond),
		hub:   hub,
		convs: convs,
	}
	f.alice, _ = st.AddUser(models.User{Name: "Alice", Username: "alice"})
	f.bob, _ = st.AddUser(models.User{Name: "Bob", Username: "bob"})
	f.carol, _ = st.AddUser(models.User{Name: "Carol", Username: "carol"})
	return f
}

func (f *gatewayFixture) connect(t *testing.T, u models.User) *ws.Client {
	t.Helper()
	c := ws.NewClient(nil, auth.Identity{UserID: u.ID, Name: u.Name, Role: u.Role})
	if err := f.hub.JoinUserGroup(c, u.ID); err != nil {
		t.Fatalf("JoinUserGroup() error = %v", err)
	}
	return c
}

func inbound(t *testing.T, typ string, data any) ws.Inbound {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ws.Inbound{Type: typ, Data: b}
}

func frames(c *ws.Client) []frame {
	var out []frame
	for {
		select {
		case b := <-c.Outbound():
			var f frame
			if json.Unmarshal(b, &f) == nil {
				out = append(out, f)
			}
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func ofType(fs []frame, typ string) []frame {
	var out []frame
	for _, f := range fs {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestGateway_SendAndRead(t *testing.T) {
	f := newGatewayFixture(t, 100)
	ctx := context.Background()
	conv, err := f.convs.ResolveOrCreateDirect(ctx, f.alice.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("ResolveOrCreateDirect() error = %v", err)
	}
	alice, bob := f.connect(t, f.alice), f.connect(t, f.bob)

	f.gw.handle(ctx, alice, inbound(t, opSendMessage, obj{"conversation_id": conv, "type": "text", "content": "hello"}))

	for name, c := range map[string]*ws.Client{"alice": alice, "bob": bob} {
		got := ofType(frames(c), service.EventMessageNew)
		if len(got) != 1 {
			t.Fatalf("%s got %d message:new frames, want 1", name, len(got))
		}
		var ev service.MessageNew
		_ = json.Unmarshal(got[0].Data, &ev)
		if ev.ConversationID != conv || ev.Message.Content != "hello" || ev.Message.SenderID != f.alice.ID {
			t.Errorf("%s got %+v", name, ev)
		}
	}

	f.gw.handle(ctx, bob, inbound(t, opMarkAsRead, obj{"conversation_id": conv}))
	ups := ofType(frames(bob), service.EventConversationUpsert)
	if len(ups) != 1 {
		t.Fatalf("bob got %d upserts after markAsRead, want 1", len(ups))
	}
	var sum service.ConversationSummary
	_ = json.Unmarshal(ups[0].Data, &sum)
	if sum.Unread != 0 || sum.Name != "Alice" {
		t.Errorf("bob summary = %+v", sum)
	}
	if got := frames(alice); len(got) != 0 {
		t.Errorf("alice got %d frames from bob's read, want 0", len(got))
	}
}

func TestGateway_Errors(t *testing.T) {
	f := newGatewayFixture(t, 100)
	ctx := context.Background()
	conv, _ := f.convs.ResolveOrCreateDirect(ctx, f.alice.ID, f.bob.ID)
	carol := f.connect(t, f.carol)
	bob := f.connect(t, f.bob)

	tests := []struct {
		name string
		in   ws.Inbound
	}{
		{"join foreign conversation", inbound(t, opJoinConversation, obj{"conversation_id": conv})},
		{"send to foreign conversation", inbound(t, opSendMessage, obj{"conversation_id": conv, "type": "text", "content": "x"})},
		{"typing without join", inbound(t, opTyping, obj{"conversation_id": conv, "is_typing": true})},
		{"unknown type", inbound(t, "shout", obj{})},
		{"missing data", ws.Inbound{Type: opMarkAsRead}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.gw.handle(ctx, carol, tt.in)
			got := frames(carol)
			if len(got) != 1 || got[0].Type != "error" {
				t.Fatalf("frames = %+v, want one error", got)
			}
			var ev ErrorEvent
			_ = json.Unmarshal(got[0].Data, &ev)
			if ev.Op != tt.in.Type || ev.Error == "" {
				t.Errorf("error event = %+v", ev)
			}
		})
	}
	if got := frames(bob); len(got) != 0 {
		t.Errorf("bob got %d frames from carol's failures, want 0", len(got))
	}
}

func TestGateway_Typing(t *testing.T) {
	f := newGatewayFixture(t, 100)
	ctx := context.Background()
	conv, _ := f.convs.ResolveOrCreateDirect(ctx, f.alice.ID, f.bob.ID)
	alice, bob := f.connect(t, f.alice), f.connect(t, f.bob)

	f.gw.handle(ctx, alice, inbound(t, opJoinConversation, obj{"conversation_id": conv}))
	f.gw.handle(ctx, bob, inbound(t, opJoinConversation, obj{"conversation_id": conv}))
	f.gw.handle(ctx, alice, inbound(t, opTyping, obj{"conversation_id": conv, "is_typing": true}))

	got := ofType(frames(bob), service.EventTyping)
	if len(got) != 1 {
		t.Fatalf("bob got %d typing frames, want 1", len(got))
	}
	var ev service.Typing
	_ = json.Unmarshal(got[0].Data, &ev)
	if ev.UserID != f.alice.ID || !ev.IsTyping || ev.Name != "Alice" {
		t.Errorf("typing event = %+v", ev)
	}

	f.gw.handle(ctx, bob, inbound(t, opLeaveConversation, obj{"conversation_id": conv}))
	_ = frames(alice)
	f.gw.handle(ctx, alice, inbound(t, opTyping, obj{"conversation_id": conv, "is_typing": false}))
	if got := ofType(frames(bob), service.EventTyping); len(got) != 0 {
		t.Errorf("bob got %d typing frames after leaving, want 0", len(got))
	}
}

func TestGateway_RateLimited(t *testing.T) {
	f := newGatewayFixture(t, 1)
	carol := f.connect(t, f.carol)
	dispatch := f.gw.dispatcher(carol)

	for i := 0; i < 3; i++ {
		dispatch(inbound(t, "shout", obj{}))
	}
	var limited int
	for _, fr := range frames(carol) {
		var ev ErrorEvent
		_ = json.Unmarshal(fr.Data, &ev)
		if ev.Error == "too many requests" {
			limited++
		}
	}
	if limited != 1 {
		t.Errorf("rate limited %d of 3 frames, want 1", limited)
	}
}

type obj map[string]any
