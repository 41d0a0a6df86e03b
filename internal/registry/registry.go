// Package registry resolves tenants, customers and conversations, creating the
// latter two on first contact.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"order-hub/internal/repo"

	"github.com/juju/errors"
)

// Store is the persistence the registry needs.
type Store interface {
	GetTenantBySlug(ctx context.Context, slug string) (*repo.Tenant, error)
	GetTenantByID(ctx context.Context, id string) (*repo.Tenant, error)
	GetTenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (*repo.Tenant, error)
	FirstActiveTenant(ctx context.Context) (*repo.Tenant, error)
	UpsertCustomer(ctx context.Context, profile repo.CustomerProfile) (*repo.Customer, error)
	UpsertConversation(ctx context.Context, touch repo.ConversationTouch) (*repo.Conversation, error)
}

// Cache is the optional read-through cache for tenant lookups.
type Cache interface {
	Key(parts ...string) string
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Registry resolves tenant-scoped identities.
type Registry struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New builds a registry. cache may be nil.
func New(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "registry"),
		now:    time.Now,
	}
}

// TenantBySlug returns the tenant published under slug.
func (r *Registry) TenantBySlug(ctx context.Context, slug string) (*repo.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, errors.NotFoundf("restaurant")
	}
	return r.cached(ctx, "slug", slug, func() (*repo.Tenant, error) {
		return r.store.GetTenantBySlug(ctx, slug)
	})
}

// TenantByID returns the tenant with id.
func (r *Registry) TenantByID(ctx context.Context, id string) (*repo.Tenant, error) {
	return r.cached(ctx, "id", id, func() (*repo.Tenant, error) {
		return r.store.GetTenantByID(ctx, id)
	})
}

// TenantByPhoneNumberID routes a provider phone number id to its tenant.
func (r *Registry) TenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (*repo.Tenant, error) {
	if phoneNumberID == "" {
		return nil, errors.NotFoundf("tenant for empty phone number id")
	}
	return r.cached(ctx, "pnid", phoneNumberID, func() (*repo.Tenant, error) {
		return r.store.GetTenantByPhoneNumberID(ctx, phoneNumberID)
	})
}

// AnyActiveTenant returns the oldest active tenant. Only the webhook
// compatibility fallback uses it.
func (r *Registry) AnyActiveTenant(ctx context.Context) (*repo.Tenant, error) {
	return r.store.FirstActiveTenant(ctx)
}

// ResolveCustomer finds or creates the customer for (tenantID, phone). A stored
// name is backfilled when missing and never replaced; blank input changes nothing.
func (r *Registry) ResolveCustomer(ctx context.Context, tenantID, phone string, displayName, email *string) (*repo.Customer, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, errors.NotValidf("customer phone")
	}
	c, err := r.store.UpsertCustomer(ctx, repo.CustomerProfile{
		TenantID:    tenantID,
		Phone:       phone,
		DisplayName: trimmed(displayName),
		Email:       trimmed(email),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve customer: %w", err)
	}
	return c, nil
}

// ResolveConversation finds or creates the conversation for (tenantID, phone)
// and advances its last activity to at, never backwards. A zero at means now.
func (r *Registry) ResolveConversation(ctx context.Context, tenantID, customerID, phone string, at time.Time, inbound bool) (*repo.Conversation, error) {
	if at.IsZero() {
		at = r.now()
	}
	c, err := r.store.UpsertConversation(ctx, repo.ConversationTouch{
		TenantID:   tenantID,
		CustomerID: customerID,
		Phone:      NormalizePhone(phone),
		At:         at,
		Inbound:    inbound,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	return c, nil
}

func (r *Registry) cached(ctx context.Context, kind, key string, load func() (*repo.Tenant, error)) (*repo.Tenant, error) {
	if r.cache == nil || r.ttl <= 0 {
		return load()
	}
	cacheKey := r.cache.Key("tenant", kind, key)
	var t repo.Tenant
	ok, err := r.cache.GetJSON(ctx, cacheKey, &t)
	if err != nil {
		r.logger.Warn("read tenant cache failed", "key", cacheKey, "error", err)
	} else if ok {
		return &t, nil
	}

	tenant, err := load()
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, cacheKey, tenant, r.ttl); err != nil {
		r.logger.Warn("write tenant cache failed", "key", cacheKey, "error", err)
	}
	return tenant, nil
}

// NormalizePhone keeps only the digits of phone, the form the provider uses for wa_id.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
