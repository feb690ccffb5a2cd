package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	_ "modernc.org/sqlite"
)

// sqliteHandles serves one in-memory SQLite database per scope and no
// document databases.
type sqliteHandles struct {
	t   *testing.T
	mu  sync.Mutex
	dbs map[store.Scope]*sqlx.DB
}

func newSQLiteHandles(t *testing.T) *sqliteHandles {
	return &sqliteHandles{t: t, dbs: make(map[store.Scope]*sqlx.DB)}
}

func (h *sqliteHandles) Relational(_ context.Context, scope store.Scope) (*sqlx.DB, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if db, ok := h.dbs[scope]; ok {
		return db, nil
	}
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	h.t.Cleanup(func() { _ = db.Close() })
	h.dbs[scope] = db
	return db, nil
}

func (h *sqliteHandles) Dialect() store.Dialect { return store.SQLite }

func (h *sqliteHandles) Document(store.Scope) (*mongo.Database, error) {
	return nil, store.ErrUninitialized
}

func createTable(name string) RelationalStep {
	return func(ctx context.Context, db *sqlx.DB, _ store.Dialect) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY)`, name))
		return err
	}
}

func dropTable(name string) RelationalStep {
	return func(ctx context.Context, db *sqlx.DB, _ store.Dialect) error {
		_, err := db.ExecContext(ctx, `DROP TABLE `+name)
		return err
	}
}

func tableUnit(name, table string) Migration {
	return Migration{Name: name, RelationalUp: createTable(table), RelationalDown: dropTable(table)}
}

func tableExists(t *testing.T, db *sqlx.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name))
	return n == 1
}

func ledgerOf(t *testing.T, h *sqliteHandles, scope store.Scope) []store.MigrationRecord {
	t.Helper()
	db, err := h.Relational(context.Background(), scope)
	require.NoError(t, err)
	ledger := NewSQLLedger(db, store.SQLite)
	require.NoError(t, ledger.Ensure(context.Background()))
	recs, err := ledger.Applied(context.Background())
	require.NoError(t, err)
	return recs
}

func names(recs []store.MigrationRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func TestRunAppliesInNameOrderAsOneBatch(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	units := []Migration{
		tableUnit("002_b", "b"),
		tableUnit("001_a", "a"),
		{Name: "003_doc_only", DocumentUp: func(context.Context, *mongo.Database) error { return nil }},
	}
	r := NewRunner(h, units, nil, nil)

	applied, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a", "002_b"}, applied)

	recs := ledgerOf(t, h, store.Global)
	assert.Equal(t, []string{"001_a", "002_b"}, names(recs), "document-only units are not recorded")
	for _, rec := range recs {
		assert.Equal(t, 1, rec.Batch)
		assert.False(t, rec.ExecutedAt.IsZero())
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	r := NewRunner(h, []Migration{tableUnit("001_a", "a")}, nil, nil)

	_, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)
	applied, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Len(t, ledgerOf(t, h, store.Global), 1)
}

func TestRunNextBatch(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	_, err := NewRunner(h, []Migration{tableUnit("001_a", "a")}, nil, nil).Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	r := NewRunner(h, []Migration{tableUnit("001_a", "a"), tableUnit("002_b", "b")}, nil, nil)
	applied, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_b"}, applied)

	recs := ledgerOf(t, h, store.Global)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[1].Batch)
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	boom := errors.New("syntax error")
	units := []Migration{
		tableUnit("001_a", "a"),
		{Name: "002_broken", RelationalUp: func(context.Context, *sqlx.DB, store.Dialect) error { return boom }},
		tableUnit("003_c", "c"),
	}
	r := NewRunner(h, units, nil, nil)

	applied, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "002_broken")
	assert.Equal(t, []string{"001_a"}, applied)
	assert.Equal(t, []string{"001_a"}, names(ledgerOf(t, h, store.Global)))

	db, _ := h.Relational(ctx, store.Global)
	assert.False(t, tableExists(t, db, "c"))
}

func TestRunScopesHaveSeparateLedgers(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	r := NewRunner(h, []Migration{tableUnit("001_a", "a")}, nil, nil)

	_, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)
	assert.Empty(t, ledgerOf(t, h, store.ForTenant(5)))

	applied, err := r.Run(ctx, store.BackendRelational, store.ForTenant(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a"}, applied)
}

func TestRollbackRevertsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	_, err := NewRunner(h, []Migration{tableUnit("001_a", "a"), tableUnit("002_b", "b")}, nil, nil).
		Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	m := observability.NewMetrics()
	r := NewRunner(h, []Migration{tableUnit("001_a", "a"), tableUnit("002_b", "b"), tableUnit("003_c", "c")}, nil, nil)
	r.SetMetrics(m)
	_, err = r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	reverted, err := r.Rollback(ctx, store.BackendRelational, store.Global, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"003_c", "002_b"}, reverted)
	assert.Equal(t, []string{"001_a"}, names(ledgerOf(t, h, store.Global)))

	db, _ := h.Relational(ctx, store.Global)
	assert.True(t, tableExists(t, db, "a"))
	assert.False(t, tableExists(t, db, "b"))
	assert.False(t, tableExists(t, db, "c"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MigrationsApplied.WithLabelValues("relational", "up")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MigrationsApplied.WithLabelValues("relational", "down")))
}

func TestRollbackMoreStepsThanRecords(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	r := NewRunner(h, []Migration{tableUnit("001_a", "a")}, nil, nil)
	_, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	reverted, err := r.Rollback(ctx, store.BackendRelational, store.Global, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a"}, reverted)
	assert.Empty(t, ledgerOf(t, h, store.Global))
}

func TestRollbackRejectsNonPositiveSteps(t *testing.T) {
	r := NewRunner(newSQLiteHandles(t), nil, nil, nil)
	_, err := r.Rollback(context.Background(), store.BackendRelational, store.Global, 0)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestRollbackUnknownRecordAborts(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	db, _ := h.Relational(ctx, store.Global)
	ledger := NewSQLLedger(db, store.SQLite)
	require.NoError(t, ledger.Ensure(ctx))
	require.NoError(t, ledger.Record(ctx, store.MigrationRecord{Name: "000_legacy", Batch: 1, ExecutedAt: store.Now()}))

	r := NewRunner(h, []Migration{tableUnit("001_a", "a")}, nil, nil)
	_, err := r.Rollback(ctx, store.BackendRelational, store.Global, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000_legacy")
	assert.Len(t, ledgerOf(t, h, store.Global), 1)
}

func TestRollbackWithoutDownRemovesRecord(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	r := NewRunner(h, []Migration{{Name: "001_a", RelationalUp: createTable("a")}}, nil, nil)
	_, err := r.Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	reverted, err := r.Rollback(ctx, store.BackendRelational, store.Global, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a"}, reverted)
	assert.Empty(t, ledgerOf(t, h, store.Global))

	db, _ := h.Relational(ctx, store.Global)
	assert.True(t, tableExists(t, db, "a"), "no down procedure, table stays")
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	_, err := NewRunner(h, []Migration{tableUnit("000_gone", "gone")}, nil, nil).
		Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	r := NewRunner(h, []Migration{tableUnit("001_a", "a"), tableUnit("002_b", "b")}, nil, nil)
	_, err = r.Rollback(ctx, store.BackendRelational, store.Global, 1)
	require.Error(t, err, "000_gone is unknown to this runner")

	_, err = NewRunner(h, r.Units()[:1], nil, nil).Run(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)

	st, err := r.Status(ctx, store.BackendRelational, store.Global)
	require.NoError(t, err)
	require.Len(t, st, 3)

	assert.Equal(t, "001_a", st[0].Name)
	assert.True(t, st[0].Applied)
	assert.Equal(t, 2, st[0].Batch)
	require.NotNil(t, st[0].ExecutedAt)

	assert.Equal(t, "002_b", st[1].Name)
	assert.False(t, st[1].Applied)
	assert.Nil(t, st[1].ExecutedAt)

	assert.Equal(t, "000_gone", st[2].Name)
	assert.True(t, st[2].Orphaned)
}

func TestRunAllStopsAtFailingBackend(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHandles(t)
	r := NewRunner(h, []Migration{tableUnit("001_a", "a")}, nil, nil)

	out, err := r.RunAll(ctx, store.TargetBoth, store.Global)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUninitialized)
	assert.Equal(t, []string{"001_a"}, out[store.BackendRelational])

	out, err = r.RunAll(ctx, store.TargetRelational, store.Global)
	require.NoError(t, err)
	assert.Empty(t, out[store.BackendRelational])
}
