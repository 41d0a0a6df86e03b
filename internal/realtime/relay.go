package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"order-hub/internal/metrics"
)

// PubSub is the slice of the Redis client the relay needs.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handle func([]byte)) error
}

// Relay fans events out across instances: Deliver publishes to a shared
// channel and Run hands every received event to the local hub. Events from one
// publisher arrive in publish order.
type Relay struct {
	bus     PubSub
	channel string
	local   Transport
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type relayEnvelope struct {
	Event       Event  `json:"event"`
	ExcludeUser string `json:"excludeUser,omitempty"`
}

// NewRelay builds a relay delivering received events to local.
func NewRelay(bus PubSub, channel string, local Transport, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		bus:     bus,
		channel: channel,
		local:   local,
		logger:  logger.With("component", "relay"),
		metrics: m,
	}
}

// Deliver implements Transport. Publish failures fall back to local delivery.
func (r *Relay) Deliver(evt Event) {
	payload, err := json.Marshal(relayEnvelope{Event: evt, ExcludeUser: evt.ExcludeUser})
	if err == nil {
		err = r.bus.Publish(context.Background(), r.channel, payload)
	}
	if err != nil {
		r.logger.Warn("relay publish failed, delivering locally", "event", evt.Name, "error", err)
		if r.metrics != nil {
			r.metrics.Errors.WithLabelValues("relay").Inc()
		}
		r.local.Deliver(evt)
	}
}

// Run consumes the shared channel until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	return r.bus.Subscribe(ctx, r.channel, func(payload []byte) {
		var env relayEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			r.logger.Warn("discarding malformed relay payload", "error", err)
			return
		}
		env.Event.ExcludeUser = env.ExcludeUser
		r.local.Deliver(env.Event)
	})
}
