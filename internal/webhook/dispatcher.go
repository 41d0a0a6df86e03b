package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"order-hub/internal/metrics"
	"order-hub/internal/repo"
	"order-hub/internal/wa"

	"github.com/juju/errors"
)

// Tenants routes deliveries to a tenant.
type Tenants interface {
	TenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (*repo.Tenant, error)
	AnyActiveTenant(ctx context.Context) (*repo.Tenant, error)
}

// Inbox stores inbound messages and applies status updates.
type Inbox interface {
	IngestInbound(ctx context.Context, tenant *repo.Tenant, msg wa.InboundMessage, channel string) (*repo.Message, error)
	ApplyStatus(ctx context.Context, update wa.StatusUpdate) error
}

// Deduper remembers provider message ids across retries.
type Deduper interface {
	Key(parts ...string) string
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// DispatcherConfig tunes routing and deduplication.
type DispatcherConfig struct {
	// TenantFallback sends unroutable messages to the first active tenant.
	TenantFallback bool
	DedupTTL       time.Duration
}

// Dispatcher processes verified envelopes change by change. A failure in
// one change never stops the others.
type Dispatcher struct {
	tenants Tenants
	inbox   Inbox
	dedupe  Deduper
	cfg     DispatcherConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher builds a dispatcher. dedupe may be nil.
func NewDispatcher(tenants Tenants, inbox Inbox, dedupe Deduper, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	return &Dispatcher{
		tenants: tenants,
		inbox:   inbox,
		dedupe:  dedupe,
		cfg:     cfg,
		logger:  logger.With("component", "webhook_dispatcher"),
		metrics: m,
	}
}

// Process implements Processor.
func (d *Dispatcher) Process(ctx context.Context, env Envelope) {
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				d.logger.Debug("ignoring change", "field", change.Field)
				continue
			}
			d.processStatuses(ctx, change.Value)
			d.processMessages(ctx, change.Value)
		}
	}
}

func (d *Dispatcher) processStatuses(ctx context.Context, value ChangeValue) {
	for _, st := range value.Statuses {
		update := wa.StatusUpdate{
			ID:        st.ID,
			Status:    st.Status,
			Recipient: st.RecipientID,
			Timestamp: unixTime(st.Timestamp),
		}
		if err := d.inbox.ApplyStatus(ctx, update); err != nil {
			d.fail("apply status update", err, "message_id", st.ID, "status", st.Status)
		}
	}
}

func (d *Dispatcher) processMessages(ctx context.Context, value ChangeValue) {
	if len(value.Messages) == 0 {
		return
	}
	tenant, err := d.route(ctx, value.Metadata.PhoneNumberID)
	if err != nil {
		d.fail("route inbound messages", err, "phone_number_id", value.Metadata.PhoneNumberID, "messages", len(value.Messages))
		return
	}

	for _, raw := range value.Messages {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			d.fail("decode inbound message", err, "tenant_id", tenant.ID)
			continue
		}
		key, fresh := d.firstSeen(ctx, msg.ID)
		if !fresh {
			d.logger.Debug("duplicate inbound message", "message_id", msg.ID)
			continue
		}

		inbound := wa.InboundMessage{
			ID:        msg.ID,
			From:      msg.From,
			Name:      value.contactName(msg.From),
			Type:      msg.Type,
			Timestamp: unixTime(msg.Timestamp),
			Raw:       []byte(raw),
		}
		if msg.Text != nil {
			inbound.Text = msg.Text.Body
		}
		if _, err := d.inbox.IngestInbound(ctx, tenant, inbound, wa.ChannelCloud); err != nil {
			d.fail("ingest inbound message", err, "tenant_id", tenant.ID, "message_id", msg.ID)
			d.forget(key)
		}
	}
}

// route resolves the tenant owning phoneNumberID.
func (d *Dispatcher) route(ctx context.Context, phoneNumberID string) (*repo.Tenant, error) {
	if phoneNumberID != "" {
		tenant, err := d.tenants.TenantByPhoneNumberID(ctx, phoneNumberID)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, errors.NotFound) {
			return nil, err
		}
	}
	if !d.cfg.TenantFallback {
		return nil, errors.NotFoundf("tenant for phone number id %q", phoneNumberID)
	}
	tenant, err := d.tenants.AnyActiveTenant(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Warn("routing message to fallback tenant", "phone_number_id", phoneNumberID, "tenant_id", tenant.ID, "compat_hazard", true)
	return tenant, nil
}

// firstSeen claims msgID in the dedupe store. Store errors let the message
// through; the unique provider id in the database still holds.
func (d *Dispatcher) firstSeen(ctx context.Context, msgID string) (string, bool) {
	if d.dedupe == nil || msgID == "" {
		return "", true
	}
	key := d.dedupe.Key("webhook", "msg", msgID)
	fresh, err := d.dedupe.FirstSeen(ctx, key, d.cfg.DedupTTL)
	if err != nil {
		d.logger.Warn("dedupe check failed", "message_id", msgID, "error", err)
		return "", true
	}
	if !fresh {
		if d.metrics != nil {
			d.metrics.WebhookDeliveries.WithLabelValues("duplicate").Inc()
		}
	}
	return key, fresh
}

// forget releases a dedupe claim so a provider retry is processed again.
func (d *Dispatcher) forget(key string) {
	if d.dedupe == nil || key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.dedupe.Delete(ctx, key); err != nil {
		d.logger.Warn("release dedupe key", "key", key, "error", err)
	}
}

func (d *Dispatcher) fail(msg string, err error, args ...any) {
	d.logger.Error(msg, append(args, "error", err)...)
	if d.metrics != nil {
		d.metrics.Errors.WithLabelValues("webhook").Inc()
	}
}
