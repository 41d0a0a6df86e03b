package repo

import (
	"context"
	"database/sql"
	"fmt"

	"order-hub/internal/apperr"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

func scanOrderRow(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	if err := row.Scan(&o.ID, &o.TenantID, &o.CustomerID, &o.OrderNumber, &o.Status, &o.DeliveryType,
		&o.DeliveryAddress, &o.Notes, &o.PaymentMethod, &o.Subtotal, &o.DeliveryFee, &o.Total,
		&o.AssignedTo, &o.CancelReason, &o.CompletedAt, &o.ProcessingSeconds, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *SQLiteRepository) CreateOrder(ctx context.Context, order NewOrder) (*Order, *Customer, error) {
	var (
		created  *Order
		customer *Customer
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		customer, err = upsertCustomerSQLite(ctx, tx, order.Customer)
		if err != nil {
			return err
		}

		now := sqliteNow()
		var seq int64
		err = tx.QueryRowContext(ctx, `UPDATE tenants SET order_seq = order_seq + 1, updated_at = ? WHERE id = ? RETURNING order_seq`, now, order.TenantID).Scan(&seq)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errors.NotFoundf("tenant %q", order.TenantID)
			}
			return fmt.Errorf("allocate order number: %w", err)
		}

		const insertOrder = `
INSERT INTO orders (id, tenant_id, customer_id, order_number, status, delivery_type, delivery_address, notes,
                    payment_method, subtotal, delivery_fee, total, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + orderColumns + `;`
		created, err = scanOrderRow(tx.QueryRowContext(ctx, insertOrder,
			uuid.NewString(), order.TenantID, customer.ID, FormatOrderNumber(order.NumberPrefix, seq), order.Status,
			order.DeliveryType, order.DeliveryAddress, order.Notes, order.PaymentMethod,
			order.Subtotal, order.DeliveryFee, order.Total, now, now))
		if err != nil {
			if isSQLiteUnique(err) {
				return errors.AlreadyExistsf("order number for tenant %q", order.TenantID)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		const insertItem = `
INSERT INTO order_items (id, order_id, menu_item_id, name, unit_price, quantity, subtotal)
VALUES (?, ?, ?, ?, ?, ?, ?);`
		for _, item := range order.Items {
			item.ID = uuid.NewString()
			item.OrderID = created.ID
			if _, err := tx.ExecContext(ctx, insertItem, item.ID, item.OrderID, item.MenuItemID, item.Name, item.UnitPrice, item.Quantity, item.Subtotal); err != nil {
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

func (r *SQLiteRepository) GetOrder(ctx context.Context, tenantID, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = ? AND id = ? LIMIT 1;`
	o, err := scanOrderRow(r.db.QueryRowContext(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("order %q", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	const itemsQ = `
SELECT id, order_id, menu_item_id, name, unit_price, quantity, subtotal
FROM order_items
WHERE order_id = ?
ORDER BY name ASC;`
	rows, err := r.db.QueryContext(ctx, itemsQ, o.ID)
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

func (r *SQLiteRepository) ListOrders(ctx context.Context, tenantID, status string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + orderColumns + `
FROM orders
WHERE tenant_id = ? AND (? = '' OR status = ?)
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenantID, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
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

func (r *SQLiteRepository) UpdateOrderStatus(ctx context.Context, change StatusChange) (*Order, error) {
	const q = `
UPDATE orders
SET status = ?,
    completed_at = COALESCE(?, completed_at),
    processing_seconds = COALESCE(?, processing_seconds),
    cancel_reason = COALESCE(?, cancel_reason),
    updated_at = ?
WHERE tenant_id = ? AND id = ? AND status = ?;`
	var completedAt any
	if change.CompletedAt != nil {
		completedAt = change.CompletedAt.UTC()
	}
	res, err := r.db.ExecContext(ctx, q, change.To, completedAt, change.ProcessingSeconds, change.CancelReason,
		sqliteNow(), change.TenantID, change.OrderID, change.From)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	current, err := r.GetOrder(ctx, change.TenantID, change.OrderID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Conflictf("order %s is %s, not %s", change.OrderID, current.Status, change.From)
	}
	return current, nil
}

func (r *SQLiteRepository) AssignOrder(ctx context.Context, tenantID, id, userID string) (*Order, error) {
	const q = `UPDATE orders SET assigned_to = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, q, userID, sqliteNow(), tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("assign order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.NotFoundf("order %q", id)
	}
	return r.GetOrder(ctx, tenantID, id)
}
