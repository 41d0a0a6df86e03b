package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"order-hub/internal/logging"
	"order-hub/internal/repo"
	"order-hub/migrations"

	"github.com/juju/errors"
)

func newRegistry(t *testing.T) (*Registry, *repo.SQLiteRepository, *repo.Tenant) {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "registry.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pnid := "pn-1"
	tenant, err := store.CreateTenant(ctx, repo.Tenant{Slug: "tacos", Name: "Tacos", WAPhoneNumberID: &pnid, IsActive: true})
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	return New(store, nil, 0, logging.Discard()), store, tenant
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+52 (55) 1234-5678": "525512345678",
		"5215511112222":      "5215511112222",
		"  ":                 "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTwoMessagesFromNewPhoneCreateOneCustomerAndConversation(t *testing.T) {
	ctx := context.Background()
	reg, _, tenant := newRegistry(t)
	name := "Ana"

	var customerIDs, conversationIDs []string
	for i := 0; i < 2; i++ {
		c, err := reg.ResolveCustomer(ctx, tenant.ID, "+52 1 55 1111 2222", &name, nil)
		if err != nil {
			t.Fatalf("resolve customer: %v", err)
		}
		conv, err := reg.ResolveConversation(ctx, tenant.ID, c.ID, c.Phone, time.Time{}, true)
		if err != nil {
			t.Fatalf("resolve conversation: %v", err)
		}
		customerIDs = append(customerIDs, c.ID)
		conversationIDs = append(conversationIDs, conv.ID)
	}
	if customerIDs[0] != customerIDs[1] {
		t.Fatalf("expected one customer, got %v", customerIDs)
	}
	if conversationIDs[0] != conversationIDs[1] {
		t.Fatalf("expected one conversation, got %v", conversationIDs)
	}
}

func TestResolveCustomerRejectsBlankPhone(t *testing.T) {
	reg, _, tenant := newRegistry(t)
	_, err := reg.ResolveCustomer(context.Background(), tenant.ID, "n/a", nil, nil)
	if !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected not valid, got %v", err)
	}
}

func TestBlankNameNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	reg, _, tenant := newRegistry(t)
	name := "Ana"
	blank := "   "
	if _, err := reg.ResolveCustomer(ctx, tenant.ID, "5215511112222", &name, nil); err != nil {
		t.Fatalf("first: %v", err)
	}
	c, err := reg.ResolveCustomer(ctx, tenant.ID, "5215511112222", &blank, nil)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if c.DisplayName == nil || *c.DisplayName != "Ana" {
		t.Fatalf("expected name kept, got %v", c.DisplayName)
	}
}

func TestTenantRouting(t *testing.T) {
	ctx := context.Background()
	reg, _, tenant := newRegistry(t)

	got, err := reg.TenantByPhoneNumberID(ctx, "pn-1")
	if err != nil || got.ID != tenant.ID {
		t.Fatalf("expected tenant %s, got %v (%v)", tenant.ID, got, err)
	}
	if _, err := reg.TenantByPhoneNumberID(ctx, "pn-unknown"); !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := reg.TenantBySlug(ctx, " TACOS "); err != nil {
		t.Fatalf("slug lookup should normalise case: %v", err)
	}
}

type mapCache struct {
	values map[string]repo.Tenant
	hits   int
}

func (m *mapCache) Key(parts ...string) string {
	key := "test"
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (m *mapCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	v, ok := m.values[key]
	if !ok {
		return false, nil
	}
	m.hits++
	*dest.(*repo.Tenant) = v
	return true, nil
}

func (m *mapCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	m.values[key] = *value.(*repo.Tenant)
	return nil
}

func TestTenantLookupUsesCache(t *testing.T) {
	ctx := context.Background()
	_, store, tenant := newRegistry(t)
	cache := &mapCache{values: map[string]repo.Tenant{}}
	reg := New(store, cache, time.Minute, logging.Discard())

	for i := 0; i < 3; i++ {
		got, err := reg.TenantBySlug(ctx, "tacos")
		if err != nil || got.ID != tenant.ID {
			t.Fatalf("lookup %d: %v %v", i, got, err)
		}
	}
	if cache.hits != 2 {
		t.Fatalf("expected 2 cache hits, got %d", cache.hits)
	}
}
