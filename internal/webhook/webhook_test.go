package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"order-hub/internal/inbox"
	"order-hub/internal/logging"
	"order-hub/internal/notify"
	"order-hub/internal/realtime"
	"order-hub/internal/registry"
	"order-hub/internal/repo"
	"order-hub/migrations"
)

const secret = "app-secret"

type noSender struct{}

func (noSender) Deliver(context.Context, *repo.Tenant, string, string) notify.Outcome {
	return notify.Skipped("not configured")
}

type fixture struct {
	gateway *Gateway
	store   *repo.SQLiteRepository
	inbox   *inbox.Service
	tenant  *repo.Tenant
	other   *repo.Tenant
}

func newFixture(t *testing.T, cfg DispatcherConfig, dedupe Deduper) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "webhook.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pn := "pn-tacos"
	tenant, err := store.CreateTenant(ctx, repo.Tenant{Slug: "tacos", Name: "Tacos", WAPhoneNumberID: &pn, IsActive: true})
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	pn2 := "pn-pizza"
	other, err := store.CreateTenant(ctx, repo.Tenant{Slug: "pizza", Name: "Pizza", WAPhoneNumberID: &pn2, IsActive: true})
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}

	reg := registry.New(store, nil, 0, logging.Discard())
	box := inbox.New(store, reg, noSender{}, realtime.NewBroadcaster(logging.Discard(), nil), logging.Discard(), nil)
	dispatcher := NewDispatcher(reg, box, dedupe, cfg, logging.Discard(), nil)
	gw := NewGateway(Config{VerifyToken: "verify-me", AppSecret: secret, ProcessTimeout: 5 * time.Second}, dispatcher, logging.Discard(), nil)
	return &fixture{gateway: gw, store: store, inbox: box, tenant: tenant, other: other}
}

func messageBody(phoneNumberID, msgID string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
"messaging_product":"whatsapp",
"metadata":{"display_phone_number":"15550000000","phone_number_id":"` + phoneNumberID + `"},
"contacts":[{"wa_id":"5215511112222","profile":{"name":"Ana"}}],
"messages":[{"id":"` + msgID + `","from":"5215511112222","timestamp":"1714564800","type":"text","text":{"body":"hola"}}]
}}]}]}`)
}

func statusBody(msgID, status string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
"metadata":{"phone_number_id":"pn-tacos"},
"statuses":[{"id":"` + msgID + `","status":"` + status + `","timestamp":"1714564900","recipient_id":"5215511112222"}]
}}]}]}`)
}

func post(t *testing.T, h http.Handler, body []byte, signature string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func (f *fixture) conversations(t *testing.T, tenantID string) []inbox.ConversationView {
	t.Helper()
	convs, err := f.inbox.ListConversations(context.Background(), tenantID, 10)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	return convs
}

func TestVerificationHandshake(t *testing.T) {
	f := newFixture(t, DispatcherConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc123", nil)
	rec := httptest.NewRecorder()
	f.gateway.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "abc123" {
		t.Fatalf("expected challenge echo, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc123", nil)
	rec = httptest.NewRecorder()
	f.gateway.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestTamperedBodyIsRejectedBeforeProcessing(t *testing.T) {
	f := newFixture(t, DispatcherConfig{}, nil)
	body := messageBody("pn-tacos", "wamid.1")
	sig := Sign(secret, body)
	tampered := bytes.Replace(body, []byte("hola"), []byte("HOLA"), 1)

	if code := post(t, f.gateway, tampered, sig); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := post(t, f.gateway, body, ""); code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", code)
	}
	if code := post(t, f.gateway, body, "sha256=zz"); code != http.StatusForbidden {
		t.Fatalf("expected 403 for malformed signature, got %d", code)
	}
	f.gateway.Wait()
	if convs := f.conversations(t, f.tenant.ID); len(convs) != 0 {
		t.Fatalf("expected no rows, got %d conversations", len(convs))
	}
}

func TestInvalidJSONWithValidSignature(t *testing.T) {
	f := newFixture(t, DispatcherConfig{}, nil)
	body := []byte(`{"entry":`)
	if code := post(t, f.gateway, body, Sign(secret, body)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestReplayIsAcceptedAndStoredOnce(t *testing.T) {
	f := newFixture(t, DispatcherConfig{}, nil)
	body := messageBody("pn-tacos", "wamid.1")
	for i := 0; i < 2; i++ {
		if code := post(t, f.gateway, body, Sign(secret, body)); code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, code)
		}
		f.gateway.Wait()
	}

	convs := f.conversations(t, f.tenant.ID)
	if len(convs) != 1 || convs[0].UnreadCount != 1 {
		t.Fatalf("expected one conversation with one unread, got %+v", convs)
	}
	msgs, err := f.inbox.ListMessages(context.Background(), f.tenant.ID, convs[0].ID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content == nil || *msgs[0].Content != "hola" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if len(f.conversations(t, f.other.ID)) != 0 {
		t.Fatal("message leaked to another tenant")
	}
}

func TestStatusUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DispatcherConfig{}, nil)

	body := statusBody("wamid.unknown", "read")
	if code := post(t, f.gateway, body, Sign(secret, body)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	f.gateway.Wait()

	in := messageBody("pn-tacos", "wamid.in")
	post(t, f.gateway, in, Sign(secret, in))
	f.gateway.Wait()
	convs := f.conversations(t, f.tenant.ID)
	outID := "wamid.out"
	if _, _, err := f.store.InsertMessage(ctx, repo.Message{
		TenantID:          f.tenant.ID,
		ConversationID:    convs[0].ID,
		ProviderMessageID: &outID,
		Direction:         repo.DirectionOutbound,
		Type:              "text",
		Status:            repo.MessageStatusSent,
		CreatedAt:         time.Now(),
	}); err != nil {
		t.Fatalf("insert outbound: %v", err)
	}

	body = statusBody(outID, "delivered")
	post(t, f.gateway, body, Sign(secret, body))
	f.gateway.Wait()
	msg, err := f.store.GetMessageByProviderID(ctx, outID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Status != repo.MessageStatusDelivered {
		t.Fatalf("expected delivered, got %s", msg.Status)
	}
}

func TestUnroutableMessagesAreDroppedUnlessFallback(t *testing.T) {
	body := messageBody("pn-unknown", "wamid.x")

	f := newFixture(t, DispatcherConfig{}, nil)
	if code := post(t, f.gateway, body, Sign(secret, body)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	f.gateway.Wait()
	if len(f.conversations(t, f.tenant.ID)) != 0 || len(f.conversations(t, f.other.ID)) != 0 {
		t.Fatal("expected unroutable message to be dropped")
	}

	f = newFixture(t, DispatcherConfig{TenantFallback: true}, nil)
	post(t, f.gateway, body, Sign(secret, body))
	f.gateway.Wait()
	if len(f.conversations(t, f.tenant.ID))+len(f.conversations(t, f.other.ID)) != 1 {
		t.Fatal("expected fallback tenant to receive the message")
	}
}

type blockingProcessor struct {
	release chan struct{}
	done    chan struct{}
}

func (b *blockingProcessor) Process(context.Context, Envelope) {
	<-b.release
	close(b.done)
}

func TestRespondsBeforeProcessing(t *testing.T) {
	p := &blockingProcessor{release: make(chan struct{}), done: make(chan struct{})}
	gw := NewGateway(Config{AppSecret: secret}, p, logging.Discard(), nil)
	body := messageBody("pn-tacos", "wamid.1")

	if code := post(t, gw, body, Sign(secret, body)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	select {
	case <-p.done:
		t.Fatal("processing finished before the response")
	default:
	}
	close(p.release)
	gw.Wait()
	<-p.done
}

type memoryDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryDedupe) Key(parts ...string) string {
	key := "test"
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (m *memoryDedupe) FirstSeen(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memoryDedupe) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.seen, k)
	}
	return nil
}

func TestDedupeSkipsRetries(t *testing.T) {
	dd := &memoryDedupe{seen: map[string]bool{}}
	f := newFixture(t, DispatcherConfig{}, dd)
	body := messageBody("pn-tacos", "wamid.1")
	post(t, f.gateway, body, Sign(secret, body))
	f.gateway.Wait()
	if !dd.seen["test:webhook:msg:wamid.1"] {
		t.Fatalf("expected dedupe key to be claimed, got %v", dd.seen)
	}
	post(t, f.gateway, body, Sign(secret, body))
	f.gateway.Wait()
	if convs := f.conversations(t, f.tenant.ID); len(convs) != 1 || convs[0].UnreadCount != 1 {
		t.Fatalf("expected retry to be skipped, got %+v", convs)
	}
}
