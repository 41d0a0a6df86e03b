// Package webhook receives WhatsApp Cloud API callbacks. Deliveries are
// authenticated against the app secret, acknowledged at once and processed
// in the background.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"order-hub/internal/metrics"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
	maxBodyBytes    = 1 << 20
)

// Processor handles a verified envelope after the response has been sent.
type Processor interface {
	Process(ctx context.Context, env Envelope)
}

// Config holds the shared secrets of the webhook subscription.
type Config struct {
	VerifyToken    string
	AppSecret      string
	ProcessTimeout time.Duration
}

// Gateway is the HTTP entry point for provider callbacks.
type Gateway struct {
	cfg       Config
	processor Processor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

// NewGateway builds the webhook handler.
func NewGateway(cfg Config, processor Processor, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}
	g := &Gateway{
		cfg:       cfg,
		processor: processor,
		logger:    logger.With("component", "whatsapp_webhook"),
		metrics:   m,
	}
	if cfg.AppSecret == "" {
		g.logger.Warn("app secret not configured, every delivery will be rejected")
	}
	return g
}

// ServeHTTP satisfies http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleVerify(w, r)
	case http.MethodPost:
		g.handleDelivery(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Wait blocks until every delivery accepted so far has been processed.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || g.cfg.VerifyToken == "" || !hmac.Equal([]byte(token), []byte(g.cfg.VerifyToken)) {
		g.count("verify_rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	g.count("verify_ok")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (g *Gateway) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		g.count("read_error")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := g.verifySignature(r.Header.Get(signatureHeader), body); err != nil {
		g.count("rejected")
		g.logger.Warn("webhook signature rejected", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		g.count("invalid")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	g.count("accepted")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))

	g.wg.Add(1)
	go g.process(env)
}

func (g *Gateway) process(env Envelope) {
	defer g.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("webhook processing panicked", "panic", fmt.Sprint(rec))
			if g.metrics != nil {
				g.metrics.Errors.WithLabelValues("webhook_panic").Inc()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ProcessTimeout)
	defer cancel()
	g.processor.Process(ctx, env)
}

// verifySignature checks header against HMAC-SHA256(app secret, body) in
// constant time.
func (g *Gateway) verifySignature(header string, body []byte) error {
	if g.cfg.AppSecret == "" {
		return fmt.Errorf("app secret not configured")
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return fmt.Errorf("missing %s signature", signaturePrefix)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(g.cfg.AppSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) count(outcome string) {
	if g.metrics != nil {
		g.metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}
