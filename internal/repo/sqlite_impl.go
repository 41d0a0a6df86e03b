package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// -- Tenants --

func scanTenantRow(row interface{ Scan(...any) error }) (*Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Phone, &t.WAPhoneNumberID, &t.WAAccessToken, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *SQLiteRepository) CreateTenant(ctx context.Context, tenant Tenant) (*Tenant, error) {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	now := sqliteNow()
	const q = `
INSERT INTO tenants (id, slug, name, phone, wa_phone_number_id, wa_access_token, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + tenantColumns + `;`
	t, err := scanTenantRow(r.db.QueryRowContext(ctx, q,
		tenant.ID, tenant.Slug, tenant.Name, tenant.Phone, tenant.WAPhoneNumberID, tenant.WAAccessToken, tenant.IsActive, now, now))
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, errors.AlreadyExistsf("tenant %q", tenant.Slug)
		}
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) GetTenantByID(ctx context.Context, id string) (*Tenant, error) {
	return r.getTenant(ctx, "id = ?", id, "tenant "+id)
}

func (r *SQLiteRepository) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return r.getTenant(ctx, "slug = ?", slug, "restaurant "+slug)
}

func (r *SQLiteRepository) GetTenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Tenant, error) {
	return r.getTenant(ctx, "wa_phone_number_id = ? AND is_active = 1", phoneNumberID, "tenant for phone number id "+phoneNumberID)
}

func (r *SQLiteRepository) FirstActiveTenant(ctx context.Context) (*Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE is_active = 1 ORDER BY created_at ASC LIMIT 1;`
	t, err := scanTenantRow(r.db.QueryRowContext(ctx, q))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("active tenant")
		}
		return nil, fmt.Errorf("first active tenant: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) getTenant(ctx context.Context, where, arg, what string) (*Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + where + ` LIMIT 1;`
	t, err := scanTenantRow(r.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("%s", what)
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// -- Menu --

func (r *SQLiteRepository) CreateMenuItem(ctx context.Context, item MenuItem) (*MenuItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := sqliteNow()
	const q = `
INSERT INTO menu_items (id, tenant_id, name, price, is_active, is_available, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + menuItemColumns + `;`
	var m MenuItem
	err := r.db.QueryRowContext(ctx, q, item.ID, item.TenantID, item.Name, item.Price, item.IsActive, item.IsAvailable, now, now).
		Scan(&m.ID, &m.TenantID, &m.Name, &m.Price, &m.IsActive, &m.IsAvailable, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create menu item: %w", err)
	}
	return &m, nil
}

func (r *SQLiteRepository) SetMenuItemPrice(ctx context.Context, tenantID, id string, price int64) error {
	const q = `UPDATE menu_items SET price = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, q, price, sqliteNow(), tenantID, id)
	if err != nil {
		return fmt.Errorf("set menu item price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("menu item %q", id)
	}
	return nil
}

func (r *SQLiteRepository) GetMenuItems(ctx context.Context, tenantID string, ids []string) ([]MenuItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + menuItemColumns + ` FROM menu_items WHERE tenant_id = ? AND id IN (` + placeholders(len(ids)) + `);`
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get menu items: %w", err)
	}
	defer rows.Close()

	var items []MenuItem
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Price, &m.IsActive, &m.IsAvailable, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return items, nil
}

// -- Customers --

func (r *SQLiteRepository) UpsertCustomer(ctx context.Context, profile CustomerProfile) (*Customer, error) {
	return upsertCustomerSQLite(ctx, r.db, profile)
}

func upsertCustomerSQLite(ctx context.Context, q sqlQuerier, profile CustomerProfile) (*Customer, error) {
	now := sqliteNow()
	const stmt = `
INSERT INTO customers (id, tenant_id, phone, display_name, email, created_at, updated_at)
VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
ON CONFLICT (tenant_id, phone) DO UPDATE SET
    display_name = COALESCE(NULLIF(customers.display_name, ''), excluded.display_name),
    email = COALESCE(excluded.email, customers.email),
    updated_at = excluded.updated_at
RETURNING ` + customerColumns + `;`
	var c Customer
	err := q.QueryRowContext(ctx, stmt, uuid.NewString(), profile.TenantID, profile.Phone, profile.DisplayName, profile.Email, now, now).
		Scan(&c.ID, &c.TenantID, &c.Phone, &c.DisplayName, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return &c, nil
}

func (r *SQLiteRepository) GetCustomer(ctx context.Context, tenantID, id string) (*Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? AND id = ? LIMIT 1;`
	var c Customer
	err := r.db.QueryRowContext(ctx, q, tenantID, id).
		Scan(&c.ID, &c.TenantID, &c.Phone, &c.DisplayName, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("customer %q", id)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// -- Conversations --

func scanConversationRow(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.Phone, &c.LastMessageAt, &c.IsActive, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertConversation relies on every timestamp being written in the same UTC
// text layout, so max() over the stored text orders chronologically.
func (r *SQLiteRepository) UpsertConversation(ctx context.Context, touch ConversationTouch) (*Conversation, error) {
	at := touch.At
	if at.IsZero() {
		at = time.Now()
	}
	unread := 0
	if touch.Inbound {
		unread = 1
	}
	now := sqliteNow()
	const q = `
INSERT INTO conversations (id, tenant_id, customer_id, phone, last_message_at, is_active, unread_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT (tenant_id, phone) DO UPDATE SET
    last_message_at = max(conversations.last_message_at, excluded.last_message_at),
    is_active = 1,
    unread_count = conversations.unread_count + excluded.unread_count,
    updated_at = excluded.updated_at
RETURNING ` + conversationColumns + `;`
	c, err := scanConversationRow(r.db.QueryRowContext(ctx, q, uuid.NewString(), touch.TenantID, touch.CustomerID, touch.Phone, at.UTC(), unread, now, now))
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetConversation(ctx context.Context, tenantID, id string) (*Conversation, error) {
	const q = `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = ? AND id = ? LIMIT 1;`
	c, err := scanConversationRow(r.db.QueryRowContext(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("conversation %q", id)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListConversations(ctx context.Context, tenantID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE tenant_id = ?
ORDER BY last_message_at DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []Conversation
	for rows.Next() {
		c, err := scanConversationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return res, nil
}

func (r *SQLiteRepository) MarkConversationRead(ctx context.Context, tenantID, id string) error {
	const q = `UPDATE conversations SET unread_count = 0, updated_at = ? WHERE tenant_id = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, q, sqliteNow(), tenantID, id)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("conversation %q", id)
	}
	return nil
}

// -- Messages --

func scanMessageRow(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var raw sql.NullString
	if err := row.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.ProviderMessageID, &m.Direction, &m.Type, &m.Content, &m.Status, &raw, &m.SentBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if raw.Valid {
		m.RawPayload = []byte(raw.String)
	}
	return &m, nil
}

func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg Message) (*Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO messages (id, tenant_id, conversation_id, provider_message_id, direction, message_type, content, status, raw_payload, sent_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (provider_message_id) DO NOTHING
RETURNING ` + messageColumns + `;`
	inserted, err := scanMessageRow(r.db.QueryRowContext(ctx, q,
		msg.ID, msg.TenantID, msg.ConversationID, msg.ProviderMessageID, msg.Direction, msg.Type,
		msg.Content, msg.Status, jsonParam(msg.RawPayload), msg.SentBy, msg.CreatedAt.UTC(), sqliteNow()))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || msg.ProviderMessageID == nil {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	existing, err := r.GetMessageByProviderID(ctx, *msg.ProviderMessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *SQLiteRepository) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error) {
	const q = `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = ? LIMIT 1;`
	m, err := scanMessageRow(r.db.QueryRowContext(ctx, q, providerMessageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("message %q", providerMessageID)
		}
		return nil, fmt.Errorf("get message by provider id: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepository) UpdateMessageStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, status, sqliteNow(), id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("message %q", id)
	}
	return nil
}

func (r *SQLiteRepository) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE tenant_id = ? AND conversation_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	reverseMessages(res)
	return res, nil
}
