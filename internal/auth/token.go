package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	tenantClaimKey = "tenant_id"
	roleClaimKey   = "role"
)

// Identity is the authenticated principal bound to a request or connection.
type Identity struct {
	TenantID string
	UserID   string
	Role     string
}

// Tokens signs and verifies HS256 bearer tokens for dashboard users.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens builds a token service. ttl defaults to twelve hours.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a signed token for id.
func (t *Tokens) Issue(id Identity) (string, error) {
	if id.TenantID == "" || id.UserID == "" {
		return "", errors.NotValidf("identity without tenant or user")
	}
	now := t.now()
	tok, err := jwt.NewBuilder().
		Issuer(t.issuer).
		Subject(id.UserID).
		IssuedAt(now).
		Expiration(now.Add(t.ttl)).
		Claim(tenantClaimKey, id.TenantID).
		Claim(roleClaimKey, id.Role).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, t.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// Verify parses raw and returns the identity it carries.
func (t *Tokens) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, errors.Unauthorizedf("missing bearer token")
	}
	tok, err := jwt.ParseString(raw,
		jwt.WithKey(jwa.HS256, t.secret),
		jwt.WithIssuer(t.issuer),
		jwt.WithClock(jwt.ClockFunc(t.now)),
	)
	if err != nil {
		return Identity{}, errors.Unauthorizedf("invalid bearer token: %v", err)
	}
	id := Identity{
		UserID:   tok.Subject(),
		TenantID: stringClaim(tok, tenantClaimKey),
		Role:     stringClaim(tok, roleClaimKey),
	}
	if id.TenantID == "" || id.UserID == "" {
		return Identity{}, errors.Unauthorizedf("token lacks tenant or subject")
	}
	return id, nil
}

// FromRequest extracts the bearer token from the Authorization header, or the
// token query parameter for websocket upgrades where browsers cannot set headers.
func FromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func stringClaim(tok jwt.Token, key string) string {
	val, ok := tok.Get(key)
	if !ok {
		return ""
	}
	s, _ := val.(string)
	return s
}

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored on ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
