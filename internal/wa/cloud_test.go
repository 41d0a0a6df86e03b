package wa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"order-hub/internal/logging"
)

func TestCloudSendText(t *testing.T) {
	var got textRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v21.0/pn-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.42"}]}`))
	}))
	defer srv.Close()

	cloud := NewCloud(CloudConfig{BaseURL: srv.URL, APIVersion: "v21.0", Timeout: time.Second}, logging.Discard(), nil)
	id, err := cloud.SendText(context.Background(), Credentials{PhoneNumberID: "pn-1", AccessToken: "tok"}, "5215511112222", "hola")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.42" {
		t.Fatalf("expected wamid.42, got %s", id)
	}
	if got.To != "5215511112222" || got.Text.Body != "hola" || got.MessagingProduct != "whatsapp" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestCloudSendTextReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
	}))
	defer srv.Close()

	cloud := NewCloud(CloudConfig{BaseURL: srv.URL}, logging.Discard(), nil)
	_, err := cloud.SendText(context.Background(), Credentials{PhoneNumberID: "pn-1", AccessToken: "bad"}, "1", "x")
	if err == nil || !strings.Contains(err.Error(), "Invalid OAuth access token") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestCloudSendTextWithoutCredentials(t *testing.T) {
	cloud := NewCloud(CloudConfig{}, logging.Discard(), nil)
	_, err := cloud.SendText(context.Background(), Credentials{PhoneNumberID: "pn-1"}, "1", "x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDeepLink(t *testing.T) {
	got := DeepLink("+52 55 1234-5678", "Order ORD-000001 & total 71.00")
	want := "https://wa.me/525512345678?text=Order%20ORD-000001%20%26%20total%2071.00"
	if got != want {
		t.Fatalf("DeepLink = %q, want %q", got, want)
	}
	if DeepLink("123", "") != "https://wa.me/123" {
		t.Fatal("expected bare link without text")
	}
}
