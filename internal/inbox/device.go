package inbox

import (
	"context"
	"log/slog"

	"order-hub/internal/wa"
)

type deviceSink struct {
	svc      *Service
	tenantID string
	logger   *slog.Logger
}

// DeviceSink adapts the service to linked-device traffic for tenantID.
func (s *Service) DeviceSink(tenantID string) wa.DeviceSink {
	return &deviceSink{svc: s, tenantID: tenantID, logger: s.logger.With("channel", wa.ChannelDevice)}
}

func (d *deviceSink) HandleDeviceMessage(ctx context.Context, msg wa.InboundMessage) {
	tenant, err := d.svc.registry.TenantByID(ctx, d.tenantID)
	if err != nil {
		d.logger.Error("device tenant lookup failed", "tenant_id", d.tenantID, "error", err)
		return
	}
	if _, err := d.svc.IngestInbound(ctx, tenant, msg, wa.ChannelDevice); err != nil {
		d.logger.Error("ingest device message", "message_id", msg.ID, "error", err)
		if d.svc.metrics != nil {
			d.svc.metrics.Errors.WithLabelValues("device_ingest").Inc()
		}
	}
}

func (d *deviceSink) HandleDeviceReceipt(ctx context.Context, update wa.StatusUpdate) {
	if err := d.svc.ApplyStatus(ctx, update); err != nil {
		d.logger.Error("apply device receipt", "message_id", update.ID, "error", err)
	}
}
