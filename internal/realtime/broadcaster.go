package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"order-hub/internal/metrics"
)

// Transport delivers an event to the members of its room.
type Transport interface {
	Deliver(evt Event)
}

// Broadcaster is the handle components use to push events. Until a transport
// is attached every event is dropped.
type Broadcaster struct {
	mu        sync.RWMutex
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewBroadcaster returns a broadcaster with no transport attached.
func NewBroadcaster(logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		logger:  logger.With("component", "broadcaster"),
		metrics: m,
	}
}

// Attach sets the transport used for subsequent events. A nil transport detaches.
func (b *Broadcaster) Attach(t Transport) {
	b.mu.Lock()
	b.transport = t
	b.mu.Unlock()
}

// Attached reports whether events currently have somewhere to go.
func (b *Broadcaster) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transport != nil
}

// Emit pushes name with payload to room. It never blocks on slow consumers and
// reports false when the event was dropped.
func (b *Broadcaster) Emit(room, name string, payload any) bool {
	return b.emit(Event{Name: name, Room: room}, payload)
}

// EmitExcept is Emit without delivery to connections of userID.
func (b *Broadcaster) EmitExcept(room, name, userID string, payload any) bool {
	return b.emit(Event{Name: name, Room: room, ExcludeUser: userID}, payload)
}

func (b *Broadcaster) emit(evt Event, payload any) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	t := b.transport
	b.mu.RUnlock()
	if t == nil {
		b.count(evt.Name, "dropped")
		b.logger.Debug("no transport attached, dropping event", "event", evt.Name, "room", evt.Room)
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.count(evt.Name, "error")
		b.logger.Error("encode event payload", "event", evt.Name, "error", err)
		return false
	}
	evt.Data = data
	t.Deliver(evt)
	b.count(evt.Name, "sent")
	return true
}

func (b *Broadcaster) count(event, result string) {
	if b.metrics != nil {
		b.metrics.RealtimeBroadcasts.WithLabelValues(event, result).Inc()
	}
}
