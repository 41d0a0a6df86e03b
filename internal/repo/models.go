package repo

import "time"

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery statuses reported by the provider.
const (
	MessageStatusReceived  = "received"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Tenant represents the tenants table row.
type Tenant struct {
	ID   string
	Slug string
	Name string
	// Phone is the public business number used for wa.me deep links.
	Phone           string
	WAPhoneNumberID *string
	WAAccessToken   *string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MenuItem represents a row in menu_items. Price is in minor units.
type MenuItem struct {
	ID          string
	TenantID    string
	Name        string
	Price       int64
	IsActive    bool
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Customer represents a row in customers, unique per (tenant, phone).
type Customer struct {
	ID          string
	TenantID    string
	Phone       string
	DisplayName *string
	Email       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CustomerProfile carries data used to find-or-create a customer.
type CustomerProfile struct {
	TenantID    string
	Phone       string
	DisplayName *string
	Email       *string
}

// Conversation represents a row in conversations, unique per (tenant, phone).
type Conversation struct {
	ID            string
	TenantID      string
	CustomerID    string
	Phone         string
	LastMessageAt time.Time
	IsActive      bool
	UnreadCount   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConversationTouch carries data used to find-or-create a conversation.
type ConversationTouch struct {
	TenantID   string
	CustomerID string
	Phone      string
	At         time.Time
	// Inbound increments the unread counter.
	Inbound bool
}

// Message represents a row in messages.
type Message struct {
	ID                string
	TenantID          string
	ConversationID    string
	ProviderMessageID *string
	Direction         string
	Type              string
	Content           *string
	Status            string
	RawPayload        []byte
	SentBy            *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Order represents a row in orders. Monetary fields are minor units.
type Order struct {
	ID                string
	TenantID          string
	CustomerID        string
	OrderNumber       string
	Status            string
	DeliveryType      string
	DeliveryAddress   *string
	Notes             *string
	PaymentMethod     string
	Subtotal          int64
	DeliveryFee       int64
	Total             int64
	AssignedTo        *string
	CancelReason      *string
	CompletedAt       *time.Time
	ProcessingSeconds *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Items             []OrderItem
}

// OrderItem is an immutable price snapshot.
type OrderItem struct {
	ID         string
	OrderID    string
	MenuItemID string
	Name       string
	UnitPrice  int64
	Quantity   int
	Subtotal   int64
}

// NewOrder is everything CreateOrder persists in one transaction.
type NewOrder struct {
	TenantID        string
	NumberPrefix    string
	Customer        CustomerProfile
	Status          string
	DeliveryType    string
	DeliveryAddress *string
	Notes           *string
	PaymentMethod   string
	Subtotal        int64
	DeliveryFee     int64
	Total           int64
	Items           []OrderItem
}

// StatusChange describes an optimistic status update guarded by From.
type StatusChange struct {
	TenantID          string
	OrderID           string
	From              string
	To                string
	CompletedAt       *time.Time
	ProcessingSeconds *int64
	CancelReason      *string
}
