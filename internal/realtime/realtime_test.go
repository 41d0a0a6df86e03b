package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"order-hub/internal/auth"
	"order-hub/internal/logging"
	"order-hub/internal/repo"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

type recordingTransport struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTransport) Deliver(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func TestBroadcasterDropsWithoutTransport(t *testing.T) {
	b := NewBroadcaster(logging.Discard(), nil)
	if b.Emit(TenantRoom("t1"), EventNewOrder, map[string]string{"id": "o1"}) {
		t.Fatal("expected event to be dropped")
	}

	rec := &recordingTransport{}
	b.Attach(rec)
	if !b.Emit(TenantRoom("t1"), EventNewOrder, map[string]string{"id": "o1"}) {
		t.Fatal("expected event to be delivered")
	}
	if len(rec.events) != 1 || rec.events[0].Room != "tenant:t1" || string(rec.events[0].Data) != `{"id":"o1"}` {
		t.Fatalf("unexpected events %+v", rec.events)
	}
}

type fakeAuthorizer struct {
	conversations map[string]string // id -> tenant
}

func (f fakeAuthorizer) GetConversation(_ context.Context, tenantID, id string) (*repo.Conversation, error) {
	if f.conversations[id] != tenantID {
		return nil, errors.NotFoundf("conversation %q", id)
	}
	return &repo.Conversation{ID: id, TenantID: tenantID}, nil
}

func (f fakeAuthorizer) GetOrder(_ context.Context, _, id string) (*repo.Order, error) {
	return nil, errors.NotFoundf("order %q", id)
}

type wsFixture struct {
	server      *httptest.Server
	tokens      *auth.Tokens
	hub         *Hub
	broadcaster *Broadcaster
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := logging.Discard()
	hub := NewHub(logger, nil)
	b := NewBroadcaster(logger, nil)
	b.Attach(hub)
	tokens := auth.NewTokens("secret", "order-hub", time.Hour)
	authz := fakeAuthorizer{conversations: map[string]string{"c1": "t1", "c2": "t2"}}
	srv := httptest.NewServer(NewHandler(hub, b, tokens, authz, logger))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &wsFixture{server: srv, tokens: tokens, hub: hub, broadcaster: b}
}

func (f *wsFixture) dial(t *testing.T, tenantID, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.tokens.Issue(auth.Identity{TenantID: tenantID, UserID: userID, Role: "staff"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	frame := readFrame(t, conn)
	if frame["type"] != "connected" || frame["room"] != "tenant:"+tenantID {
		t.Fatalf("unexpected handshake frame %v", frame)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestHandshakeRequiresToken(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestTenantRoomIsolation(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "t1", "u1")
	b := f.dial(t, "t2", "u2")

	f.broadcaster.Emit(TenantRoom("t1"), EventNewOrder, map[string]string{"orderId": "o1"})
	f.broadcaster.Emit(TenantRoom("t2"), EventNewOrder, map[string]string{"orderId": "o2"})

	got := readFrame(t, a)
	if got["event"] != EventNewOrder || got["data"].(map[string]any)["orderId"] != "o1" {
		t.Fatalf("tenant t1 got %v", got)
	}
	got = readFrame(t, b)
	if got["data"].(map[string]any)["orderId"] != "o2" {
		t.Fatalf("tenant t2 got %v", got)
	}
}

func TestJoinForeignConversationIsForbidden(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "t1", "u1")

	if err := conn.WriteJSON(map[string]string{"type": "join", "conversationId": "c2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["code"] != "forbidden" {
		t.Fatalf("expected forbidden, got %v", frame)
	}
	if f.hub.Members(ConversationRoom("c2")) != 0 {
		t.Fatal("foreign room must stay empty")
	}

	if err := conn.WriteJSON(map[string]string{"type": "join", "conversationId": "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame = readFrame(t, conn)
	if frame["type"] != "joined" || frame["room"] != "conversation:c1" {
		t.Fatalf("expected joined, got %v", frame)
	}
}

func TestTypingSkipsSender(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, "t1", "u1")
	peer := f.dial(t, "t1", "u2")
	for _, c := range []*websocket.Conn{sender, peer} {
		if err := c.WriteJSON(map[string]string{"type": "join", "conversationId": "c1"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if frame := readFrame(t, c); frame["type"] != "joined" {
			t.Fatalf("expected joined, got %v", frame)
		}
	}

	if err := sender.WriteJSON(map[string]any{"type": "typing", "conversationId": "c1", "isTyping": true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, peer)
	if frame["event"] != EventUserTyping {
		t.Fatalf("expected user_typing, got %v", frame)
	}

	// The sender's next frame is the pong, not its own typing event.
	if err := sender.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, sender); frame["type"] != "pong" {
		t.Fatalf("expected pong, got %v", frame)
	}
}

func TestRoomOrderingFromOnePublisher(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "t1", "u1")
	statuses := []string{"CONFIRMED", "PREPARING", "READY"}
	for _, s := range statuses {
		f.broadcaster.Emit(TenantRoom("t1"), EventOrderStatusChanged, OrderStatusChanged{OrderID: "o1", NewStatus: s})
	}
	for _, want := range statuses {
		frame := readFrame(t, conn)
		if got := frame["data"].(map[string]any)["newStatus"]; got != want {
			t.Fatalf("expected %s, got %v", want, got)
		}
	}
}

type memoryBus struct {
	mu       sync.Mutex
	handlers []func([]byte)
	ready    chan struct{}
}

func (m *memoryBus) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		h(payload)
	}
	return nil
}

func (m *memoryBus) Subscribe(ctx context.Context, _ string, handle func([]byte)) error {
	m.mu.Lock()
	m.handlers = append(m.handlers, handle)
	m.mu.Unlock()
	close(m.ready)
	<-ctx.Done()
	return nil
}

func TestRelayDeliversThroughBus(t *testing.T) {
	bus := &memoryBus{ready: make(chan struct{})}
	local := &recordingTransport{}
	relay := NewRelay(bus, "events", local, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()
	<-bus.ready

	b := NewBroadcaster(logging.Discard(), nil)
	b.Attach(relay)
	b.EmitExcept(ConversationRoom("c1"), EventUserTyping, "u1", UserTyping{ConversationID: "c1", UserID: "u1"})

	local.mu.Lock()
	defer local.mu.Unlock()
	if len(local.events) != 1 {
		t.Fatalf("expected one relayed event, got %d", len(local.events))
	}
	if local.events[0].ExcludeUser != "u1" || local.events[0].Name != EventUserTyping {
		t.Fatalf("unexpected relayed event %+v", local.events[0])
	}
}
