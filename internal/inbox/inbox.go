// Package inbox stores the message history of customer conversations and
// pushes every change to the dashboard.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"order-hub/internal/metrics"
	"order-hub/internal/notify"
	"order-hub/internal/realtime"
	"order-hub/internal/repo"
	"order-hub/internal/wa"

	"github.com/juju/errors"
)

// Store is the persistence the inbox needs.
type Store interface {
	GetConversation(ctx context.Context, tenantID, id string) (*repo.Conversation, error)
	ListConversations(ctx context.Context, tenantID string, limit int) ([]repo.Conversation, error)
	MarkConversationRead(ctx context.Context, tenantID, id string) error
	InsertMessage(ctx context.Context, msg repo.Message) (*repo.Message, bool, error)
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*repo.Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string) error
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]repo.Message, error)
}

// Registry resolves tenants, customers and conversations.
type Registry interface {
	TenantByID(ctx context.Context, id string) (*repo.Tenant, error)
	ResolveCustomer(ctx context.Context, tenantID, phone string, displayName, email *string) (*repo.Customer, error)
	ResolveConversation(ctx context.Context, tenantID, customerID, phone string, at time.Time, inbound bool) (*repo.Conversation, error)
}

// Deliverer sends a message to a phone number.
type Deliverer interface {
	Deliver(ctx context.Context, tenant *repo.Tenant, phone, text string) notify.Outcome
}

// Service implements conversation ingestion, replies and read tracking.
type Service struct {
	store       Store
	registry    Registry
	sender      Deliverer
	broadcaster *realtime.Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New builds the inbox service.
func New(store Store, registry Registry, sender Deliverer, broadcaster *realtime.Broadcaster, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:       store,
		registry:    registry,
		sender:      sender,
		broadcaster: broadcaster,
		logger:      logger.With("component", "inbox"),
		metrics:     m,
		now:         time.Now,
	}
}

// IngestInbound stores a customer message for tenant. A provider id seen before
// returns the stored message and changes nothing.
func (s *Service) IngestInbound(ctx context.Context, tenant *repo.Tenant, msg wa.InboundMessage, channel string) (*repo.Message, error) {
	if msg.ID != "" {
		existing, err := s.store.GetMessageByProviderID(ctx, msg.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, errors.NotFound) {
			return nil, err
		}
	}

	name := msg.Name
	customer, err := s.registry.ResolveCustomer(ctx, tenant.ID, msg.From, &name, nil)
	if err != nil {
		return nil, err
	}
	at := msg.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	conv, err := s.registry.ResolveConversation(ctx, tenant.ID, customer.ID, customer.Phone, at, true)
	if err != nil {
		return nil, err
	}

	content := MessageContent(msg.Type, msg.Text)
	record := repo.Message{
		TenantID:       tenant.ID,
		ConversationID: conv.ID,
		Direction:      repo.DirectionInbound,
		Type:           msgType(msg.Type),
		Content:        &content,
		Status:         repo.MessageStatusReceived,
		RawPayload:     msg.Raw,
		CreatedAt:      at,
	}
	if msg.ID != "" {
		id := msg.ID
		record.ProviderMessageID = &id
	}
	stored, inserted, err := s.store.InsertMessage(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("store inbound message: %w", err)
	}
	if !inserted {
		return stored, nil
	}
	if s.metrics != nil {
		s.metrics.InboundMessages.WithLabelValues(channel, stored.Type).Inc()
	}

	s.publishMessage(tenant.ID, *stored)
	s.broadcaster.Emit(realtime.TenantRoom(tenant.ID), realtime.EventConversationUpdated, ToConversationView(*conv))
	return stored, nil
}

// ApplyStatus patches the status of a message we sent. Unknown message ids and
// updates that would move the status backwards are ignored.
func (s *Service) ApplyStatus(ctx context.Context, update wa.StatusUpdate) error {
	status := strings.ToLower(strings.TrimSpace(update.Status))
	if _, ok := statusRank[status]; !ok {
		s.countStatus(status, "unsupported")
		return nil
	}

	msg, err := s.store.GetMessageByProviderID(ctx, update.ID)
	if errors.Is(err, errors.NotFound) {
		s.countStatus(status, "unknown_message")
		s.logger.Debug("status for unknown message", "message_id", update.ID, "status", status)
		return nil
	}
	if err != nil {
		return err
	}
	if !advances(msg.Status, status) {
		s.countStatus(status, "stale")
		return nil
	}
	if err := s.store.UpdateMessageStatus(ctx, msg.ID, status); err != nil {
		return fmt.Errorf("apply status: %w", err)
	}
	s.countStatus(status, "applied")

	s.broadcaster.Emit(realtime.ConversationRoom(msg.ConversationID), realtime.EventMessageStatus, realtime.MessageStatus{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Status:         status,
	})
	return nil
}

// Reply sends a staff message in a conversation. The message is stored even
// when the provider send fails, with status failed.
func (s *Service) Reply(ctx context.Context, tenantID, conversationID, userID, text string) (*repo.Message, notify.Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, notify.Outcome{}, errors.NotValidf("empty message")
	}
	conv, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, notify.Outcome{}, err
	}
	tenant, err := s.registry.TenantByID(ctx, tenantID)
	if err != nil {
		return nil, notify.Outcome{}, err
	}

	out := s.sender.Deliver(ctx, tenant, conv.Phone, text)
	status := repo.MessageStatusSent
	var providerID *string
	if out.Delivered() {
		id := out.MessageID
		providerID = &id
	} else {
		status = repo.MessageStatusFailed
		s.logger.Error("staff reply not delivered", "conversation_id", conv.ID, "outcome", out.Kind, "reason", out.Reason)
	}

	stored, err := s.storeOutbound(ctx, tenant.ID, conv, text, providerID, status, userID)
	if err != nil {
		return nil, out, err
	}
	return stored, out, nil
}

// RecordOutbound stores a message the notifier sent to customer.
func (s *Service) RecordOutbound(ctx context.Context, tenant *repo.Tenant, customer *repo.Customer, body, providerMessageID, sentBy string) error {
	conv, err := s.registry.ResolveConversation(ctx, tenant.ID, customer.ID, customer.Phone, s.now(), false)
	if err != nil {
		return err
	}
	var providerID *string
	if providerMessageID != "" {
		providerID = &providerMessageID
	}
	_, err = s.storeOutbound(ctx, tenant.ID, conv, body, providerID, repo.MessageStatusSent, sentBy)
	return err
}

// MarkRead zeroes the unread counter of a conversation.
func (s *Service) MarkRead(ctx context.Context, tenantID, conversationID, userID string) error {
	if err := s.store.MarkConversationRead(ctx, tenantID, conversationID); err != nil {
		return err
	}
	payload := realtime.MessagesRead{ConversationID: conversationID, ReadBy: userID}
	s.broadcaster.Emit(realtime.TenantRoom(tenantID), realtime.EventMessagesRead, payload)
	s.broadcaster.Emit(realtime.ConversationRoom(conversationID), realtime.EventMessagesRead, payload)
	return nil
}

// ListConversations returns the tenant's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, tenantID string, limit int) ([]ConversationView, error) {
	convs, err := s.store.ListConversations(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, ToConversationView(c))
	}
	return views, nil
}

// ListMessages returns the latest messages of a tenant's conversation, oldest first.
func (s *Service) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]MessageView, error) {
	if _, err := s.store.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, tenantID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, ToMessageView(m))
	}
	return views, nil
}

func (s *Service) storeOutbound(ctx context.Context, tenantID string, conv *repo.Conversation, body string, providerID *string, status, sentBy string) (*repo.Message, error) {
	record := repo.Message{
		TenantID:          tenantID,
		ConversationID:    conv.ID,
		ProviderMessageID: providerID,
		Direction:         repo.DirectionOutbound,
		Type:              "text",
		Content:           &body,
		Status:            status,
		CreatedAt:         s.now(),
	}
	if sentBy != "" {
		record.SentBy = &sentBy
	}
	stored, _, err := s.store.InsertMessage(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("store outbound message: %w", err)
	}
	s.publishMessage(tenantID, *stored)
	return stored, nil
}

func (s *Service) publishMessage(tenantID string, msg repo.Message) {
	payload := NewMessage{ConversationID: msg.ConversationID, Message: ToMessageView(msg)}
	s.broadcaster.Emit(realtime.TenantRoom(tenantID), realtime.EventNewMessage, payload)
	s.broadcaster.Emit(realtime.ConversationRoom(msg.ConversationID), realtime.EventNewMessage, payload)
}

func (s *Service) countStatus(status, result string) {
	if s.metrics != nil {
		s.metrics.StatusCallbacks.WithLabelValues(status, result).Inc()
	}
}

// MessageContent is what gets stored as the message text: the body for text
// messages and a "[type]" marker for everything else.
func MessageContent(kind, text string) string {
	if msgType(kind) == "text" {
		return text
	}
	return "[" + msgType(kind) + "]"
}

func msgType(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return "unknown"
	}
	return kind
}

var statusRank = map[string]int{
	repo.MessageStatusSent:      1,
	repo.MessageStatusDelivered: 2,
	repo.MessageStatusRead:      3,
	repo.MessageStatusFailed:    1,
}

// advances reports whether moving from current to next is progress:
// sent < delivered < read, and failed only straight from sent.
func advances(current, next string) bool {
	if current == next {
		return false
	}
	if next == repo.MessageStatusFailed {
		return current == repo.MessageStatusSent
	}
	if current == repo.MessageStatusFailed {
		return false
	}
	return statusRank[next] > statusRank[current]
}
