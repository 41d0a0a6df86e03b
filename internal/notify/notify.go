// Package notify delivers customer-facing messages and reports the result as a
// value. A send never returns an error to its caller.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"order-hub/internal/metrics"
	"order-hub/internal/repo"
	"order-hub/internal/wa"
)

// Kind classifies a delivery attempt.
type Kind string

const (
	KindSent    Kind = "sent"
	KindFailed  Kind = "failed"
	KindSkipped Kind = "skipped"
)

// Outcome is Sent(MessageID), Failed(Reason) or Skipped(Reason).
type Outcome struct {
	Kind      Kind
	MessageID string
	Channel   string
	Reason    string
}

// Sent reports a message accepted by the provider.
func Sent(messageID, channel string) Outcome {
	return Outcome{Kind: KindSent, MessageID: messageID, Channel: channel}
}

// Failed reports a provider failure.
func Failed(reason string) Outcome {
	return Outcome{Kind: KindFailed, Reason: reason}
}

// Skipped reports that no channel was configured for the tenant.
func Skipped(reason string) Outcome {
	return Outcome{Kind: KindSkipped, Reason: reason}
}

// Delivered reports whether the provider accepted the message.
func (o Outcome) Delivered() bool {
	return o.Kind == KindSent
}

// CloudSender sends through the Cloud API.
type CloudSender interface {
	SendText(ctx context.Context, creds wa.Credentials, to, body string) (string, error)
}

// DeviceSender sends through a linked device.
type DeviceSender interface {
	SendText(ctx context.Context, phone, text string) (string, error)
	Ready() bool
}

// Journal records messages the notifier managed to send.
type Journal interface {
	RecordOutbound(ctx context.Context, tenant *repo.Tenant, customer *repo.Customer, body, providerMessageID, sentBy string) error
}

// Config holds the environment-level sending identity.
type Config struct {
	Defaults wa.Credentials
}

// Notifier picks a channel per tenant and sends.
type Notifier struct {
	cloud          CloudSender
	device         DeviceSender
	deviceTenantID string
	defaults       wa.Credentials
	journal        Journal
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// New builds a notifier. cloud may be nil.
func New(cloud CloudSender, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		cloud:    cloud,
		defaults: cfg.Defaults,
		logger:   logger.With("component", "notifier"),
		metrics:  m,
	}
}

// SetDevice routes sends for tenantID through device when the Cloud API is not configured for it.
func (n *Notifier) SetDevice(device DeviceSender, tenantID string) {
	n.device = device
	n.deviceTenantID = tenantID
}

// SetJournal registers where sent notifications are recorded.
func (n *Notifier) SetJournal(j Journal) {
	n.journal = j
}

// Credentials returns the tenant's sending identity, falling back field by
// field to the environment defaults.
func (n *Notifier) Credentials(tenant *repo.Tenant) wa.Credentials {
	creds := n.defaults
	if tenant == nil {
		return creds
	}
	if tenant.WAPhoneNumberID != nil && *tenant.WAPhoneNumberID != "" {
		creds.PhoneNumberID = *tenant.WAPhoneNumberID
	}
	if tenant.WAAccessToken != nil && *tenant.WAAccessToken != "" {
		creds.AccessToken = *tenant.WAAccessToken
	}
	return creds
}

// APIEnabled reports whether any send channel is available for tenant.
func (n *Notifier) APIEnabled(tenant *repo.Tenant) bool {
	if n.cloud != nil && n.Credentials(tenant).Configured() {
		return true
	}
	return n.deviceFor(tenant)
}

// Deliver sends text to phone. It is bounded only by the sender's own timeout
// and is not cancelled with ctx.
func (n *Notifier) Deliver(ctx context.Context, tenant *repo.Tenant, phone, text string) Outcome {
	ctx = context.WithoutCancel(ctx)

	if creds := n.Credentials(tenant); n.cloud != nil && creds.Configured() {
		id, err := n.cloud.SendText(ctx, creds, phone, text)
		if err != nil {
			return Failed(err.Error())
		}
		return Sent(id, wa.ChannelCloud)
	}
	if n.deviceFor(tenant) {
		id, err := n.device.SendText(ctx, phone, text)
		if err != nil {
			if errors.Is(err, wa.ErrNotConfigured) {
				return Skipped(err.Error())
			}
			return Failed(err.Error())
		}
		return Sent(id, wa.ChannelDevice)
	}
	return Skipped(wa.ErrNotConfigured.Error())
}

// NotifyCustomer delivers text to customer, records a sent message in their
// conversation and reports the outcome. kind labels metrics and logs.
func (n *Notifier) NotifyCustomer(ctx context.Context, kind string, tenant *repo.Tenant, customer *repo.Customer, text string) Outcome {
	ctx = context.WithoutCancel(ctx)
	out := n.Deliver(ctx, tenant, customer.Phone, text)
	if n.metrics != nil {
		n.metrics.Notifications.WithLabelValues(kind, string(out.Kind)).Inc()
	}

	switch out.Kind {
	case KindSent:
		n.logger.Info("notification sent", "kind", kind, "tenant_id", tenant.ID, "message_id", out.MessageID, "channel", out.Channel)
		if n.journal != nil {
			if err := n.journal.RecordOutbound(ctx, tenant, customer, text, out.MessageID, ""); err != nil {
				n.logger.Error("record sent notification", "kind", kind, "message_id", out.MessageID, "error", err)
			}
		}
	case KindFailed:
		n.logger.Error("notification failed", "kind", kind, "tenant_id", tenant.ID, "customer_id", customer.ID, "reason", out.Reason)
		if n.metrics != nil {
			n.metrics.Errors.WithLabelValues("notifier").Inc()
		}
	default:
		n.logger.Debug("notification skipped", "kind", kind, "tenant_id", tenant.ID, "reason", out.Reason)
	}
	return out
}

func (n *Notifier) deviceFor(tenant *repo.Tenant) bool {
	return n.device != nil && tenant != nil && n.deviceTenantID == tenant.ID && n.device.Ready()
}
