package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
)

// -- Customers --

const customerColumns = `id, tenant_id, phone, display_name, email, created_at, updated_at`

// UpsertCustomer finds or creates the customer for (tenant, phone). A stored
// name is only backfilled, never replaced; a non-blank email replaces the old one.
func (r *PostgresRepository) UpsertCustomer(ctx context.Context, profile CustomerProfile) (*Customer, error) {
	return upsertCustomerPg(ctx, r.pool, profile)
}

func upsertCustomerPg(ctx context.Context, q pgQuerier, profile CustomerProfile) (*Customer, error) {
	const stmt = `
INSERT INTO customers (id, tenant_id, phone, display_name, email)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
ON CONFLICT (tenant_id, phone) DO UPDATE SET
    display_name = COALESCE(NULLIF(customers.display_name, ''), EXCLUDED.display_name),
    email = COALESCE(EXCLUDED.email, customers.email),
    updated_at = NOW()
RETURNING ` + customerColumns + `;`
	var c Customer
	err := q.QueryRow(ctx, stmt, uuid.NewString(), profile.TenantID, profile.Phone, profile.DisplayName, profile.Email).
		Scan(&c.ID, &c.TenantID, &c.Phone, &c.DisplayName, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return &c, nil
}

// GetCustomer returns a customer owned by tenantID.
func (r *PostgresRepository) GetCustomer(ctx context.Context, tenantID, id string) (*Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = $1 AND id = $2 LIMIT 1;`
	var c Customer
	err := r.pool.QueryRow(ctx, q, tenantID, id).
		Scan(&c.ID, &c.TenantID, &c.Phone, &c.DisplayName, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundf("customer %q", id)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// -- Conversations --

const conversationColumns = `id, tenant_id, customer_id, phone, last_message_at, is_active, unread_count, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.Phone, &c.LastMessageAt, &c.IsActive, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertConversation finds or creates the conversation for (tenant, phone) and
// advances last_message_at without ever moving it backwards.
func (r *PostgresRepository) UpsertConversation(ctx context.Context, touch ConversationTouch) (*Conversation, error) {
	at := touch.At
	if at.IsZero() {
		at = time.Now()
	}
	unread := 0
	if touch.Inbound {
		unread = 1
	}
	const q = `
INSERT INTO conversations (id, tenant_id, customer_id, phone, last_message_at, is_active, unread_count)
VALUES ($1, $2, $3, $4, $5, TRUE, $6)
ON CONFLICT (tenant_id, phone) DO UPDATE SET
    last_message_at = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
    is_active = TRUE,
    unread_count = conversations.unread_count + EXCLUDED.unread_count,
    updated_at = NOW()
RETURNING ` + conversationColumns + `;`
	c, err := scanConversation(r.pool.QueryRow(ctx, q, uuid.NewString(), touch.TenantID, touch.CustomerID, touch.Phone, at.UTC(), unread))
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a conversation owned by tenantID.
func (r *PostgresRepository) GetConversation(ctx context.Context, tenantID, id string) (*Conversation, error) {
	const q = `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = $1 AND id = $2 LIMIT 1;`
	c, err := scanConversation(r.pool.QueryRow(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundf("conversation %q", id)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the tenant's conversations, most recent first.
func (r *PostgresRepository) ListConversations(ctx context.Context, tenantID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE tenant_id = $1
ORDER BY last_message_at DESC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
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

// MarkConversationRead resets the unread counter.
func (r *PostgresRepository) MarkConversationRead(ctx context.Context, tenantID, id string) error {
	const q = `UPDATE conversations SET unread_count = 0, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`
	ct, err := r.pool.Exec(ctx, q, tenantID, id)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errors.NotFoundf("conversation %q", id)
	}
	return nil
}

// -- Messages --

const messageColumns = `id, tenant_id, conversation_id, provider_message_id, direction, message_type, content, status, raw_payload, sent_by, created_at, updated_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.ProviderMessageID, &m.Direction, &m.Type, &m.Content, &m.Status, &m.RawPayload, &m.SentBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage stores msg. A provider message id seen before is not stored
// again; the existing row is returned with inserted=false.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg Message) (*Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO messages (id, tenant_id, conversation_id, provider_message_id, direction, message_type, content, status, raw_payload, sent_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (provider_message_id) DO NOTHING
RETURNING ` + messageColumns + `;`
	inserted, err := scanMessage(r.pool.QueryRow(ctx, q,
		msg.ID, msg.TenantID, msg.ConversationID, msg.ProviderMessageID, msg.Direction, msg.Type,
		msg.Content, msg.Status, jsonParam(msg.RawPayload), msg.SentBy, msg.CreatedAt.UTC()))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || msg.ProviderMessageID == nil {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	existing, err := r.GetMessageByProviderID(ctx, *msg.ProviderMessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetMessageByProviderID looks up a message by the provider-assigned id.
func (r *PostgresRepository) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error) {
	const q = `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1 LIMIT 1;`
	m, err := scanMessage(r.pool.QueryRow(ctx, q, providerMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundf("message %q", providerMessageID)
		}
		return nil, fmt.Errorf("get message by provider id: %w", err)
	}
	return m, nil
}

// UpdateMessageStatus patches only the status of a message.
func (r *PostgresRepository) UpdateMessageStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE messages SET status = $2, updated_at = NOW() WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errors.NotFoundf("message %q", id)
	}
	return nil
}

// ListMessages returns the latest messages of a conversation in chronological order.
func (r *PostgresRepository) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE tenant_id = $1 AND conversation_id = $2
ORDER BY created_at DESC
LIMIT $3;`
	rows, err := r.pool.Query(ctx, q, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []Message
	for rows.Next() {
		m, err := scanMessage(rows)
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

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
