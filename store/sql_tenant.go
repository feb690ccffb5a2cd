package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const tenantColumns = `id, name, subdomain, database_name, status, settings, created_at, updated_at`

// SQLTenantStore implements TenantStore on a relational database.
type SQLTenantStore struct {
	db *sqlx.DB
}

// NewSQLTenantStore creates a new SQLTenantStore.
func NewSQLTenantStore(db *sqlx.DB) *SQLTenantStore {
	return &SQLTenantStore{db: db}
}

func (s *SQLTenantStore) Create(ctx context.Context, t *Tenant) error {
	if t.ID != 0 {
		return execOne(ctx, s.db, "create tenant", `
			INSERT INTO tenants (`+tenantColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.Subdomain, t.DatabaseName, t.Status, t.Settings, t.CreatedAt, t.UpdatedAt)
	}
	id, err := insertReturningID(ctx, s.db, "create tenant", `
		INSERT INTO tenants (name, subdomain, database_name, status, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Subdomain, t.DatabaseName, t.Status, t.Settings, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

func (s *SQLTenantStore) Get(ctx context.Context, id int64) (*Tenant, error) {
	var t Tenant
	if err := getOne(ctx, s.db, &t, "get tenant", `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLTenantStore) GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	var t Tenant
	if err := getOne(ctx, s.db, &t, "get tenant", `SELECT `+tenantColumns+` FROM tenants WHERE subdomain = ?`, subdomain); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLTenantStore) Update(ctx context.Context, t *Tenant) error {
	return execOne(ctx, s.db, "update tenant", `
		UPDATE tenants SET name = ?, subdomain = ?, database_name = ?, status = ?, settings = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Subdomain, t.DatabaseName, t.Status, t.Settings, t.UpdatedAt, t.ID)
}

func (s *SQLTenantStore) Delete(ctx context.Context, id int64) error {
	return execOne(ctx, s.db, "delete tenant", `DELETE FROM tenants WHERE id = ?`, id)
}

func (s *SQLTenantStore) List(ctx context.Context, f TenantFilter) ([]*Tenant, error) {
	where := tenantWhere(f)
	query := fmt.Sprintf(`SELECT %s FROM tenants%s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, tenantColumns, where)
	args := append(where.args, f.Pagination.limit(), f.Pagination.Offset)

	var tenants []*Tenant
	if err := s.db.SelectContext(ctx, &tenants, s.db.Rebind(query), args...); err != nil {
		return nil, opError(BackendRelational, "list tenants", err)
	}
	return tenants, nil
}

func (s *SQLTenantStore) Count(ctx context.Context, f TenantFilter) (int64, error) {
	where := tenantWhere(f)
	return count(ctx, s.db, "count tenants", `SELECT COUNT(*) FROM tenants`+where.String(), where.args...)
}

func tenantWhere(f TenantFilter) *whereClause {
	w := &whereClause{}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	return w
}
