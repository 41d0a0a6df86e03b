package repo

import (
	"context"
	"io/fs"
)

// Repository defines the interface for data persistence. Every tenant-owned
// lookup takes the tenant id so rows never cross tenant boundaries.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Tenants
	CreateTenant(ctx context.Context, tenant Tenant) (*Tenant, error)
	GetTenantByID(ctx context.Context, id string) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetTenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Tenant, error)
	FirstActiveTenant(ctx context.Context) (*Tenant, error)

	// Menu
	CreateMenuItem(ctx context.Context, item MenuItem) (*MenuItem, error)
	SetMenuItemPrice(ctx context.Context, tenantID, id string, price int64) error
	GetMenuItems(ctx context.Context, tenantID string, ids []string) ([]MenuItem, error)

	// Customers
	UpsertCustomer(ctx context.Context, profile CustomerProfile) (*Customer, error)
	GetCustomer(ctx context.Context, tenantID, id string) (*Customer, error)

	// Conversations
	UpsertConversation(ctx context.Context, touch ConversationTouch) (*Conversation, error)
	GetConversation(ctx context.Context, tenantID, id string) (*Conversation, error)
	ListConversations(ctx context.Context, tenantID string, limit int) ([]Conversation, error)
	MarkConversationRead(ctx context.Context, tenantID, id string) error

	// Messages
	InsertMessage(ctx context.Context, msg Message) (*Message, bool, error)
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string) error
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]Message, error)

	// Orders
	CreateOrder(ctx context.Context, order NewOrder) (*Order, *Customer, error)
	GetOrder(ctx context.Context, tenantID, id string) (*Order, error)
	ListOrders(ctx context.Context, tenantID, status string, limit int) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, change StatusChange) (*Order, error)
	AssignOrder(ctx context.Context, tenantID, id, userID string) (*Order, error)
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
)
