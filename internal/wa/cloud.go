package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"order-hub/internal/metrics"
)

// ErrNotConfigured means no phone number id or access token is available for the send.
var ErrNotConfigured = errors.New("whatsapp cloud api not configured")

// Credentials select the sending business number.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

// Configured reports whether both halves are present.
func (c Credentials) Configured() bool {
	return c.PhoneNumberID != "" && c.AccessToken != ""
}

// CloudConfig holds Cloud API client configuration.
type CloudConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// Cloud sends messages through the WhatsApp Business Cloud API.
type Cloud struct {
	logger  *slog.Logger
	baseURL string
	version string
	http    *http.Client
	metrics *metrics.Metrics
}

// NewCloud creates a Cloud API client.
func NewCloud(cfg CloudConfig, logger *slog.Logger, m *metrics.Metrics) *Cloud {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://graph.facebook.com"
	}
	version := strings.Trim(cfg.APIVersion, "/")
	if version == "" {
		version = "v21.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cloud{
		logger:  logger.With("component", "wa_cloud"),
		baseURL: base,
		version: version,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
	}
}

type textRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText delivers body to the phone number to and returns the provider message id.
func (c *Cloud) SendText(ctx context.Context, creds Credentials, to, body string) (string, error) {
	if !creds.Configured() {
		return "", ErrNotConfigured
	}
	payload, err := json.Marshal(textRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}

	var res sendResponse
	endpoint := "/" + c.version + "/" + creds.PhoneNumberID + "/messages"
	if err := c.do(ctx, http.MethodPost, endpoint, "messages", creds.AccessToken, bytes.NewReader(payload), &res); err != nil {
		return "", err
	}
	if len(res.Messages) == 0 || res.Messages[0].ID == "" {
		return "", errors.New("whatsapp send: response without message id")
	}
	return res.Messages[0].ID, nil
}

func (c *Cloud) do(ctx context.Context, method, endpoint, label, token string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "order-hub/wa-cloud")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ProviderRequests.WithLabelValues(label, "error").Inc()
		}
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.ProviderRequests.WithLabelValues(label, statusLabel).Inc()
		c.metrics.ProviderLatency.WithLabelValues(label, statusLabel).Observe(duration)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		return classifyHTTPError(res.StatusCode, bodyBytes)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyHTTPError(status int, body []byte) error {
	var env apiErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return fmt.Errorf("whatsapp api error (status=%d code=%d): %s", status, env.Error.Code, env.Error.Message)
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return fmt.Errorf("whatsapp api error (status=%d): %s", status, snippet)
}
