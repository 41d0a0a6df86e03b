package inbox

import (
	"time"

	"order-hub/internal/repo"
)

// MessageView is the JSON shape of a message in API responses and events.
type MessageView struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversationId"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Direction         string    `json:"direction"`
	Type              string    `json:"type"`
	Content           *string   `json:"content"`
	Status            string    `json:"status"`
	SentBy            *string   `json:"sentBy,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ConversationView is the JSON shape of a conversation.
type ConversationView struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customerId"`
	Phone         string    `json:"phone"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	IsActive      bool      `json:"isActive"`
	UnreadCount   int       `json:"unreadCount"`
}

// NewMessage is the new_message payload.
type NewMessage struct {
	ConversationID string      `json:"conversationId"`
	Message        MessageView `json:"message"`
}

// ToMessageView converts a stored message.
func ToMessageView(m repo.Message) MessageView {
	return MessageView{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		ProviderMessageID: m.ProviderMessageID,
		Direction:         m.Direction,
		Type:              m.Type,
		Content:           m.Content,
		Status:            m.Status,
		SentBy:            m.SentBy,
		CreatedAt:         m.CreatedAt,
	}
}

// ToConversationView converts a stored conversation.
func ToConversationView(c repo.Conversation) ConversationView {
	return ConversationView{
		ID:            c.ID,
		CustomerID:    c.CustomerID,
		Phone:         c.Phone,
		LastMessageAt: c.LastMessageAt,
		IsActive:      c.IsActive,
		UnreadCount:   c.UnreadCount,
	}
}
