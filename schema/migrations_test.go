package schema

import (
	"context"
	"testing"

	"github.com/GoCodeAlone/tenancy/migration"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	_ "modernc.org/sqlite"
)

type sqliteHandles struct{ db *sqlx.DB }

func (h sqliteHandles) Relational(context.Context, store.Scope) (*sqlx.DB, error) { return h.db, nil }
func (h sqliteHandles) Dialect() store.Dialect                                     { return store.SQLite }
func (h sqliteHandles) Document(store.Scope) (*mongo.Database, error) {
	return nil, store.ErrUninitialized
}

func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tables(t *testing.T, db *sqlx.DB) []string {
	t.Helper()
	var out []string
	require.NoError(t, db.Select(&out, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`))
	return out
}

func TestMigrationsAreOrderedAndComplete(t *testing.T) {
	units := Migrations()
	require.Len(t, units, 4)
	for i := 1; i < len(units); i++ {
		assert.Less(t, units[i-1].Name, units[i].Name)
	}
	for _, m := range units[:3] {
		assert.True(t, m.Supports(store.BackendRelational), m.Name)
		assert.True(t, m.Supports(store.BackendDocument), m.Name)
		assert.NotNil(t, m.RelationalDown, m.Name)
		assert.NotNil(t, m.DocumentDown, m.Name)
	}
	assert.False(t, units[3].Supports(store.BackendRelational))
	assert.True(t, units[3].Supports(store.BackendDocument))
}

func TestRelationalUpAndDown(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	r := migration.NewRunner(sqliteHandles{db}, Migrations(), nil, nil)

	applied, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_create_tenants_table", "002_create_users_table", "003_create_subscriptions_table"}, applied)
	assert.Equal(t, []string{"migrations", "subscriptions", "tenants", "users"}, tables(t, db))

	reverted, err := r.Rollback(ctx, store.BackendRelational, store.Global, 3)
	require.NoError(t, err)
	assert.Len(t, reverted, 3)
	assert.Equal(t, []string{"migrations"}, tables(t, db))
}

func TestRelationalConstraints(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	_, err := migration.NewRunner(sqliteHandles{db}, Migrations(), nil, nil).Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO tenants (name, subdomain, database_name) VALUES ('Acme', 'acme', 'tenant_acme')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO tenants (name, subdomain, database_name) VALUES ('Other', 'acme', 'tenant_acme')`)
	assert.True(t, store.SQLite.IsDuplicate(err), "subdomain is unique: %v", err)

	_, err = db.Exec(`INSERT INTO tenants (name, subdomain, database_name, status) VALUES ('Bad', 'bad', 'tenant_bad', 'deleted')`)
	assert.Error(t, err, "status is constrained")

	var status string
	require.NoError(t, db.Get(&status, `SELECT status FROM tenants WHERE subdomain = 'acme'`))
	assert.Equal(t, "active", status)

	_, err = db.Exec(`INSERT INTO users (tenant_id, name, email) VALUES (5, 'Ann', 'ann@example.com')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (tenant_id, name, email) VALUES (6, 'Ann', 'ann@example.com')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (tenant_id, name, email) VALUES (5, 'Ann 2', 'ann@example.com')`)
	assert.True(t, store.SQLite.IsDuplicate(err), "(tenant_id, email) is unique: %v", err)
}

func TestInList(t *testing.T) {
	assert.Equal(t, "'active', 'inactive', 'suspended'", inList(tenantStatuses))
	assert.Equal(t, "'monthly', 'yearly'", inList(cycles))
}
