package orders

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"order-hub/internal/apperr"
	"order-hub/internal/logging"
	"order-hub/internal/notify"
	"order-hub/internal/realtime"
	"order-hub/internal/registry"
	"order-hub/internal/repo"
	"order-hub/internal/wa"
	"order-hub/migrations"

	"github.com/juju/errors"
)

type fakeNotifier struct {
	mu      sync.Mutex
	out     notify.Outcome
	enabled bool
	kinds   []string
}

func (f *fakeNotifier) NotifyCustomer(_ context.Context, kind string, _ *repo.Tenant, _ *repo.Customer, _ string) notify.Outcome {
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.mu.Unlock()
	return f.out
}

func (f *fakeNotifier) APIEnabled(*repo.Tenant) bool { return f.enabled }

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Deliver(evt realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) rooms(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.Name == name {
			out = append(out, evt.Room)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *repo.SQLiteRepository
	notifier *fakeNotifier
	events   *recorder
	tacos    *repo.Tenant
	pizza    *repo.Tenant
	taco     *repo.MenuItem
	slice    *repo.MenuItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "orders.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{store: store, notifier: &fakeNotifier{out: notify.Sent("wamid.1", wa.ChannelCloud), enabled: true}, events: &recorder{}}
	f.tacos = mustTenant(t, store, "tacos", "Tacos El Rey", "+52 55 0000 1111")
	f.pizza = mustTenant(t, store, "pizza", "Pizza Roma", "5255000022222")
	f.taco = mustItem(t, store, f.tacos.ID, "Taco al pastor", 2550)
	f.slice = mustItem(t, store, f.pizza.ID, "Pepperoni slice", 3000)

	b := realtime.NewBroadcaster(logging.Discard(), nil)
	b.Attach(f.events)
	reg := registry.New(store, nil, 0, logging.Discard())
	f.svc = New(store, reg, f.notifier, b, Config{DeliveryFee: 2000, NumberPrefix: "ORD"}, logging.Discard(), nil)
	return f
}

func mustTenant(t *testing.T, store *repo.SQLiteRepository, slug, name, phone string) *repo.Tenant {
	t.Helper()
	tenant, err := store.CreateTenant(context.Background(), repo.Tenant{Slug: slug, Name: name, Phone: phone, IsActive: true})
	if err != nil {
		t.Fatalf("create tenant %s: %v", slug, err)
	}
	return tenant
}

func mustItem(t *testing.T, store *repo.SQLiteRepository, tenantID, name string, price int64) *repo.MenuItem {
	t.Helper()
	item, err := store.CreateMenuItem(context.Background(), repo.MenuItem{TenantID: tenantID, Name: name, Price: price, IsActive: true, IsAvailable: true})
	if err != nil {
		t.Fatalf("create item %s: %v", name, err)
	}
	return item
}

func deliveryRequest(itemID string, qty int) CreateOrderRequest {
	addr := "Av. Reforma 1"
	return CreateOrderRequest{
		Items:           []ItemRequest{{MenuItemID: itemID, Quantity: qty, UnitPrice: 2550}},
		CustomerName:    "Ana",
		CustomerPhone:   "+52 1 55 1111 2222",
		DeliveryType:    "delivery",
		DeliveryAddress: &addr,
		PaymentMethod:   "cash",
	}
}

func TestCreateOrderPricesDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.CreateOrder(ctx, "tacos", deliveryRequest(f.taco.ID, 2))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if res.Order.OrderNumber != "ORD-000001" || res.Order.Status != StatusPending || res.Order.Total != 7100 {
		t.Fatalf("unexpected summary %+v", res.Order)
	}

	order, err := f.svc.Get(ctx, f.tacos.ID, res.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Subtotal != 5100 || order.DeliveryFee != 2000 || order.Total != 7100 {
		t.Fatalf("unexpected totals %s/%s/%s", order.Subtotal, order.DeliveryFee, order.Total)
	}

	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(body), `"total":71.00`) {
		t.Fatalf("expected decimal total in %s", body)
	}
	if !res.WhatsApp.MessageSent || res.WhatsApp.MessageID == nil || *res.WhatsApp.MessageID != "wamid.1" {
		t.Fatalf("unexpected whatsapp block %+v", res.WhatsApp)
	}
	if !strings.HasPrefix(res.WhatsApp.WaMeURL, "https://wa.me/525500001111?text=") {
		t.Fatalf("unexpected deep link %s", res.WhatsApp.WaMeURL)
	}
	if rooms := f.events.rooms(realtime.EventNewOrder); len(rooms) != 1 || rooms[0] != realtime.TenantRoom(f.tacos.ID) {
		t.Fatalf("expected new_order to tenant room, got %v", rooms)
	}

	if err := f.store.SetMenuItemPrice(ctx, f.tacos.ID, f.taco.ID, 9900); err != nil {
		t.Fatalf("reprice: %v", err)
	}
	again, _ := f.svc.Get(ctx, f.tacos.ID, res.Order.ID)
	if again.Total != 7100 || again.Items[0].UnitPrice != 2550 {
		t.Fatalf("totals changed after menu update: %+v", again)
	}
}

func TestCreateOrderUsesMenuPrice(t *testing.T) {
	f := newFixture(t)
	req := deliveryRequest(f.taco.ID, 1)
	req.DeliveryType = "PICKUP"
	req.DeliveryAddress = nil
	req.Items[0].UnitPrice = 1

	res, err := f.svc.CreateOrder(context.Background(), "tacos", req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if res.Order.Total != 2550 {
		t.Fatalf("expected menu price total 25.50, got %s", res.Order.Total)
	}
}

func TestCreateOrderRejectsForeignItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateOrder(ctx, "tacos", deliveryRequest(f.slice.ID, 1))
	if !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected not found for another tenant's item, got %v", err)
	}
	_, err = f.svc.CreateOrder(ctx, "tacos", deliveryRequest("does-not-exist", 1))
	if !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}
	list, _ := f.svc.List(ctx, f.tacos.ID, "", 10)
	if len(list) != 0 {
		t.Fatalf("expected no orders, got %d", len(list))
	}
}

func TestCreateOrderRejectsUnavailableItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item, err := f.store.CreateMenuItem(ctx, repo.MenuItem{TenantID: f.tacos.ID, Name: "Sold out", Price: 100, IsActive: true, IsAvailable: false})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	_, err = f.svc.CreateOrder(ctx, "tacos", deliveryRequest(item.ID, 1))
	if !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	req := CreateOrderRequest{
		Items:         []ItemRequest{{MenuItemID: f.taco.ID, Quantity: 0, UnitPrice: -1}},
		CustomerPhone: "n/a",
		DeliveryType:  "DELIVERY",
		PaymentMethod: "BITCOIN",
	}
	_, err := f.svc.CreateOrder(context.Background(), "tacos", req)
	if !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]bool{}
	for _, issue := range apperr.Issues(err) {
		fields[issue.Field] = true
	}
	for _, want := range []string{"items[0].quantity", "items[0].unitPrice", "customerName", "customerPhone", "deliveryAddress", "paymentMethod"} {
		if !fields[want] {
			t.Fatalf("missing issue for %s in %v", want, apperr.Issues(err))
		}
	}

	if _, err := f.svc.CreateOrder(context.Background(), "nope", deliveryRequest(f.taco.ID, 1)); !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected unknown tenant not found, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.CreateOrder(ctx, "tacos", deliveryRequest(f.taco.ID, 1))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	id := res.Order.ID

	if _, err := f.svc.SetStatus(ctx, f.tacos.ID, id, "PREPARING"); err != nil {
		t.Fatalf("skip forward: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, f.tacos.ID, id, "CONFIRMED"); !errors.Is(err, apperr.Conflict) {
		t.Fatalf("expected conflict moving back, got %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, f.tacos.ID, id, "PREPARING"); !errors.Is(err, apperr.Conflict) {
		t.Fatalf("expected conflict for same status, got %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, f.tacos.ID, id, "LOST"); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	f.svc.now = func() time.Time { return time.Now().Add(90 * time.Second) }
	changed, err := f.svc.SetStatus(ctx, f.tacos.ID, id, "delivered")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if changed.Order.CompletedAt == nil || changed.Order.ProcessingSeconds == nil || *changed.Order.ProcessingSeconds < 60 {
		t.Fatalf("expected processing time, got %+v", changed.Order)
	}
	if _, err := f.svc.SetStatus(ctx, f.tacos.ID, id, "COMPLETED"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, f.tacos.ID, id, "late"); !errors.Is(err, apperr.Conflict) {
		t.Fatalf("expected terminal conflict, got %v", err)
	}

	rooms := f.events.rooms(realtime.EventOrderStatusChanged)
	if len(rooms) != 6 {
		t.Fatalf("expected three transitions on two rooms, got %v", rooms)
	}
	if rooms[1] != realtime.OrderRoom(id) {
		t.Fatalf("expected order room event, got %v", rooms)
	}

	if _, err := f.svc.SetStatus(ctx, f.pizza.ID, id, "READY"); !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
}

func TestProviderFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.CreateOrder(ctx, "tacos", deliveryRequest(f.taco.ID, 1))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	f.notifier.out = notify.Failed("provider down")
	changed, err := f.svc.SetStatus(ctx, f.tacos.ID, res.Order.ID, "CONFIRMED")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if changed.Order.Status != StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", changed.Order.Status)
	}
	note := changed.WhatsApp
	if note == nil || note.MessageSent || note.Error == nil || *note.Error != "provider down" {
		t.Fatalf("unexpected notification %+v", note)
	}
	if !strings.HasPrefix(note.WaMeURL, "https://wa.me/5215511112222?text=") {
		t.Fatalf("expected fallback link, got %q", note.WaMeURL)
	}
	stored, _ := f.svc.Get(ctx, f.tacos.ID, res.Order.ID)
	if stored.Status != StatusConfirmed {
		t.Fatalf("transition rolled back: %s", stored.Status)
	}
}

func TestAssignAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.CreateOrder(ctx, "tacos", deliveryRequest(f.taco.ID, 1))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	assigned, err := f.svc.Assign(ctx, f.tacos.ID, res.Order.ID, "staff-7")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.Order.AssignedTo == nil || *assigned.Order.AssignedTo != "staff-7" {
		t.Fatalf("unexpected assignment %+v", assigned.Order)
	}
	if _, err := f.svc.Assign(ctx, f.tacos.ID, res.Order.ID, " "); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected validation error, got %v", err)
	}

	cancelled, err := f.svc.Cancel(ctx, f.tacos.ID, res.Order.ID, "customer called")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Order.Status != StatusCancelled || cancelled.Order.CancelReason == nil {
		t.Fatalf("unexpected cancelled order %+v", cancelled.Order)
	}
	if len(f.events.rooms(realtime.EventOrderAssigned)) != 2 || len(f.events.rooms(realtime.EventOrderCancelled)) != 2 {
		t.Fatal("expected assign and cancel events on tenant and order rooms")
	}
	if len(f.events.rooms(realtime.EventOrderStatusChanged)) != 0 {
		t.Fatal("cancellation must not emit order_status_changed")
	}
}

func TestAmountJSON(t *testing.T) {
	var req ItemRequest
	if err := json.Unmarshal([]byte(`{"menuItemId":"x","quantity":2,"unitPrice":25.5}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.UnitPrice != 2550 {
		t.Fatalf("expected 2550 minor units, got %d", req.UnitPrice)
	}
	if err := json.Unmarshal([]byte(`{"unitPrice":1.234}`), &req); err == nil {
		t.Fatal("expected error for three decimals")
	}
	if got := Amount(5).String(); got != "0.05" {
		t.Fatalf("unexpected format %s", got)
	}
}
