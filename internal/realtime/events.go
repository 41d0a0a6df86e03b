package realtime

import "encoding/json"

// Event names pushed to dashboard connections.
const (
	EventNewOrder            = "new_order"
	EventOrderStatusChanged  = "order_status_changed"
	EventOrderAssigned       = "order_assigned"
	EventOrderCancelled      = "order_cancelled"
	EventNewMessage          = "new_message"
	EventConversationUpdated = "conversation_updated"
	EventMessagesRead        = "messages_read"
	EventMessageStatus       = "message_status"
	EventUserTyping          = "user_typing"
)

// Room kinds a connection may join besides its tenant room.
const (
	RoomTenant       = "tenant"
	RoomConversation = "conversation"
	RoomOrder        = "order"
)

// Event is one fan-out push addressed to a room.
type Event struct {
	Name string          `json:"event"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
	// ExcludeUser suppresses delivery to every connection of that user.
	ExcludeUser string `json:"-"`
}

// TenantRoom is the room every connection of a tenant joins on handshake.
func TenantRoom(tenantID string) string { return RoomTenant + ":" + tenantID }

// ConversationRoom narrows events to one conversation.
func ConversationRoom(conversationID string) string { return RoomConversation + ":" + conversationID }

// OrderRoom narrows events to one order.
func OrderRoom(orderID string) string { return RoomOrder + ":" + orderID }

// OrderStatusChanged is the order_status_changed payload.
type OrderStatusChanged struct {
	OrderID   string `json:"orderId"`
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
	Order     any    `json:"order"`
}

// OrderAssigned is the order_assigned payload.
type OrderAssigned struct {
	OrderID    string `json:"orderId"`
	AssignedTo string `json:"assignedTo"`
}

// OrderCancelled is the order_cancelled payload.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// MessagesRead is the messages_read payload.
type MessagesRead struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

// MessageStatus is the message_status payload.
type MessageStatus struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Status         string `json:"status"`
}

// UserTyping is the user_typing payload.
type UserTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}
