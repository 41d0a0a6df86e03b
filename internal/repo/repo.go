package repo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

const pgUniqueViolation = "23505"

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	// Transaction-mode poolers reject named prepared statements.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx executes fn within a database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// RunMigrations applies the postgres migrations found in filesystem.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem, "postgres")
}

// -- Tenants --

const tenantColumns = `id, slug, name, phone, wa_phone_number_id, wa_access_token, is_active, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Phone, &t.WAPhoneNumberID, &t.WAAccessToken, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTenant inserts a tenant row.
func (r *PostgresRepository) CreateTenant(ctx context.Context, tenant Tenant) (*Tenant, error) {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	const q = `
INSERT INTO tenants (id, slug, name, phone, wa_phone_number_id, wa_access_token, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + tenantColumns + `;`
	t, err := scanTenant(r.pool.QueryRow(ctx, q,
		tenant.ID, tenant.Slug, tenant.Name, tenant.Phone, tenant.WAPhoneNumberID, tenant.WAAccessToken, tenant.IsActive))
	if err != nil {
		if isPgUnique(err) {
			return nil, errors.AlreadyExistsf("tenant %q", tenant.Slug)
		}
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

// GetTenantByID returns a tenant by its identifier.
func (r *PostgresRepository) GetTenantByID(ctx context.Context, id string) (*Tenant, error) {
	return r.getTenant(ctx, "id = $1", id, "tenant "+id)
}

// GetTenantBySlug returns a tenant by its public slug.
func (r *PostgresRepository) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return r.getTenant(ctx, "slug = $1", slug, "restaurant "+slug)
}

// GetTenantByPhoneNumberID routes a provider phone number id to its active tenant.
func (r *PostgresRepository) GetTenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Tenant, error) {
	return r.getTenant(ctx, "wa_phone_number_id = $1 AND is_active", phoneNumberID, "tenant for phone number id "+phoneNumberID)
}

// FirstActiveTenant returns the oldest active tenant.
func (r *PostgresRepository) FirstActiveTenant(ctx context.Context) (*Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE is_active ORDER BY created_at ASC LIMIT 1;`
	t, err := scanTenant(r.pool.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundf("active tenant")
		}
		return nil, fmt.Errorf("first active tenant: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) getTenant(ctx context.Context, where, arg, what string) (*Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + where + ` LIMIT 1;`
	t, err := scanTenant(r.pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundf("%s", what)
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// -- Menu --

const menuItemColumns = `id, tenant_id, name, price, is_active, is_available, created_at, updated_at`

// CreateMenuItem inserts a menu item.
func (r *PostgresRepository) CreateMenuItem(ctx context.Context, item MenuItem) (*MenuItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	const q = `
INSERT INTO menu_items (id, tenant_id, name, price, is_active, is_available)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + menuItemColumns + `;`
	var m MenuItem
	err := r.pool.QueryRow(ctx, q, item.ID, item.TenantID, item.Name, item.Price, item.IsActive, item.IsAvailable).
		Scan(&m.ID, &m.TenantID, &m.Name, &m.Price, &m.IsActive, &m.IsAvailable, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create menu item: %w", err)
	}
	return &m, nil
}

// SetMenuItemPrice changes the current price. Existing order items keep their snapshot.
func (r *PostgresRepository) SetMenuItemPrice(ctx context.Context, tenantID, id string, price int64) error {
	const q = `UPDATE menu_items SET price = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`
	ct, err := r.pool.Exec(ctx, q, tenantID, id, price)
	if err != nil {
		return fmt.Errorf("set menu item price: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errors.NotFoundf("menu item %q", id)
	}
	return nil
}

// GetMenuItems returns the subset of ids that belong to tenantID.
func (r *PostgresRepository) GetMenuItems(ctx context.Context, tenantID string, ids []string) ([]MenuItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT ` + menuItemColumns + ` FROM menu_items WHERE tenant_id = $1 AND id = ANY($2::text[]);`
	rows, err := r.pool.Query(ctx, q, tenantID, ids)
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

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func jsonParam(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
