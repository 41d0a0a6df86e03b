package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/errors"
)

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens("s3cret", "order-hub", time.Hour)
	raw, err := tokens.Issue(Identity{TenantID: "t1", UserID: "u1", Role: "staff"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.TenantID != "t1" || id.UserID != "u1" || id.Role != "staff" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	raw, err := NewTokens("other", "order-hub", time.Hour).Issue(Identity{TenantID: "t1", UserID: "u1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = NewTokens("s3cret", "order-hub", time.Hour).Verify(raw)
	if !errors.Is(err, errors.Unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	tokens := NewTokens("s3cret", "order-hub", time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	tokens.now = func() time.Time { return issuedAt }
	raw, err := tokens.Issue(Identity{TenantID: "t1", UserID: "u1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tokens.now = time.Now
	if _, err := tokens.Verify(raw); !errors.Is(err, errors.Unauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	if got := FromRequest(req); got != "query-token" {
		t.Fatalf("expected query token, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer header-token")
	if got := FromRequest(req); got != "header-token" {
		t.Fatalf("expected header token, got %q", got)
	}
	req.Header.Set("Authorization", "Basic abc")
	if got := FromRequest(req); got != "" {
		t.Fatalf("expected empty token for basic auth, got %q", got)
	}
}
