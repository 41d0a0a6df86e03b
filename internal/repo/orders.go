package repo

import (
	"context"
	"fmt"

	"order-hub/internal/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
)

const orderColumns = `id, tenant_id, customer_id, order_number, status, delivery_type, delivery_address, notes,
payment_method, subtotal, delivery_fee, total, assigned_to, cancel_reason, completed_at, processing_seconds,
created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	if err := row.Scan(&o.ID, &o.TenantID, &o.CustomerID, &o.OrderNumber, &o.Status, &o.DeliveryType,
		&o.DeliveryAddress, &o.Notes, &o.PaymentMethod, &o.Subtotal, &o.DeliveryFee, &o.Total,
		&o.AssignedTo, &o.CancelReason, &o.CompletedAt, &o.ProcessingSeconds, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// FormatOrderNumber renders the human-readable order number for a tenant sequence value.
func FormatOrderNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

// CreateOrder resolves the customer, allocates the next tenant order number and
// stores the order with its items in one transaction.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order NewOrder) (*Order, *Customer, error) {
	var (
		created  *Order
		customer *Customer
	)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		customer, err = upsertCustomerPg(ctx, tx, order.Customer)
		if err != nil {
			return err
		}

		var seq int64
		err = tx.QueryRow(ctx, `UPDATE tenants SET order_seq = order_seq + 1, updated_at = NOW() WHERE id = $1 RETURNING order_seq`, order.TenantID).Scan(&seq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.NotFoundf("tenant %q", order.TenantID)
			}
			return fmt.Errorf("allocate order number: %w", err)
		}

		const insertOrder = `
INSERT INTO orders (id, tenant_id, customer_id, order_number, status, delivery_type, delivery_address, notes,
                    payment_method, subtotal, delivery_fee, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + orderColumns + `;`
		created, err = scanOrder(tx.QueryRow(ctx, insertOrder,
			uuid.NewString(), order.TenantID, customer.ID, FormatOrderNumber(order.NumberPrefix, seq), order.Status,
			order.DeliveryType, order.DeliveryAddress, order.Notes, order.PaymentMethod,
			order.Subtotal, order.DeliveryFee, order.Total))
		if err != nil {
			if isPgUnique(err) {
				return errors.AlreadyExistsf("order number for tenant %q", order.TenantID)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		const insertItem = `
INSERT INTO order_items (id, order_id, menu_item_id, name, unit_price, quantity, subtotal)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
		for _, item := range order.Items {
			item.ID = uuid.NewString()
			item.OrderID = created.ID
			if _, err := tx.Exec(ctx, insertItem, item.ID, item.OrderID, item.MenuItemID, item.Name, item.UnitPrice, item.Quantity, item.Subtotal); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			created.Items = append(created.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, customer, nil
}

// GetOrder returns an order with its items, scoped to tenantID.
func (r *PostgresRepository) GetOrder(ctx context.Context, tenantID, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND id = $2 LIMIT 1;`
	o, err := scanOrder(r.pool.QueryRow(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundf("order %q", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	const itemsQ = `
SELECT id, order_id, menu_item_id, name, unit_price, quantity, subtotal
FROM order_items
WHERE order_id = $1
ORDER BY name ASC;`
	rows, err := r.pool.Query(ctx, itemsQ, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.UnitPrice, &item.Quantity, &item.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return o, nil
}

// ListOrders returns the tenant's most recent orders, optionally filtered by status.
func (r *PostgresRepository) ListOrders(ctx context.Context, tenantID, status string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + orderColumns + `
FROM orders
WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
ORDER BY created_at DESC
LIMIT $3;`
	rows, err := r.pool.Query(ctx, q, tenantID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus applies change only if the order is still in change.From.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, change StatusChange) (*Order, error) {
	const q = `
UPDATE orders
SET status = $4,
    completed_at = COALESCE($5, completed_at),
    processing_seconds = COALESCE($6, processing_seconds),
    cancel_reason = COALESCE($7, cancel_reason),
    updated_at = NOW()
WHERE tenant_id = $1 AND id = $2 AND status = $3;`
	ct, err := r.pool.Exec(ctx, q, change.TenantID, change.OrderID, change.From, change.To,
		change.CompletedAt, change.ProcessingSeconds, change.CancelReason)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	current, err := r.GetOrder(ctx, change.TenantID, change.OrderID)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, apperr.Conflictf("order %s is %s, not %s", change.OrderID, current.Status, change.From)
	}
	return current, nil
}

// AssignOrder records the staff member handling the order.
func (r *PostgresRepository) AssignOrder(ctx context.Context, tenantID, id, userID string) (*Order, error) {
	const q = `UPDATE orders SET assigned_to = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`
	ct, err := r.pool.Exec(ctx, q, tenantID, id, userID)
	if err != nil {
		return nil, fmt.Errorf("assign order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, errors.NotFoundf("order %q", id)
	}
	return r.GetOrder(ctx, tenantID, id)
}
