package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"
)

// Handles resolves database handles per backend and scope. The connection
// registry implements it.
type Handles interface {
	Relational(ctx context.Context, scope store.Scope) (*sqlx.DB, error)
	Dialect() store.Dialect
	Document(scope store.Scope) (*mongo.Database, error)
}

// Runner applies and reverts migration units.
type Runner struct {
	units   []Migration
	handles Handles
	locker  DistributedLock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRunner creates a new Runner. A nil locker falls back to a LocalLock.
func NewRunner(handles Handles, units []Migration, locker DistributedLock, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = NewLocalLock()
	}
	return &Runner{
		units:   sorted(units),
		handles: handles,
		locker:  locker,
		logger:  logger,
	}
}

// SetMetrics attaches a metrics collector.
func (r *Runner) SetMetrics(m *observability.Metrics) { r.metrics = m }

// Units returns the known units in application order.
func (r *Runner) Units() []Migration { return sorted(r.units) }

// target is one database a run works against.
type target struct {
	backend store.Backend
	scope   store.Scope
	ledger  Ledger
	db      *sqlx.DB
	dialect store.Dialect
	mdb     *mongo.Database
}

func (r *Runner) open(ctx context.Context, b store.Backend, scope store.Scope) (*target, error) {
	t := &target{backend: b, scope: scope}
	switch b {
	case store.BackendRelational:
		db, err := r.handles.Relational(ctx, scope)
		if err != nil {
			return nil, err
		}
		t.db, t.dialect = db, r.handles.Dialect()
		t.ledger = NewSQLLedger(db, t.dialect)
	case store.BackendDocument:
		mdb, err := r.handles.Document(scope)
		if err != nil {
			return nil, err
		}
		t.mdb = mdb
		t.ledger = NewMongoLedger(mdb)
	default:
		return nil, store.Validationf("unknown backend %q", b)
	}
	if err := t.ledger.Ensure(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *target) up(ctx context.Context, m Migration) error {
	if t.backend == store.BackendRelational {
		return m.RelationalUp(ctx, t.db, t.dialect)
	}
	return m.DocumentUp(ctx, t.mdb)
}

func (t *target) down(ctx context.Context, m Migration) error {
	if t.backend == store.BackendRelational {
		return m.RelationalDown(ctx, t.db, t.dialect)
	}
	return m.DocumentDown(ctx, t.mdb)
}

func lockKey(b store.Backend, scope store.Scope) string {
	return fmt.Sprintf("migrations:%s:%s", b, scope)
}

func (r *Runner) lock(ctx context.Context, b store.Backend, scope store.Scope) (func(), error) {
	release, err := r.locker.Acquire(ctx, lockKey(b, scope))
	if err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	return release, nil
}

// Run applies every pending unit for backend b in scope, in name order, as a
// single batch. It returns the names applied. The first failing unit aborts
// the run; units applied before it stay recorded.
func (r *Runner) Run(ctx context.Context, b store.Backend, scope store.Scope) ([]string, error) {
	release, err := r.lock(ctx, b, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := r.open(ctx, b, scope)
	if err != nil {
		return nil, err
	}
	records, err := t.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(records))
	batch := 0
	for _, rec := range records {
		done[rec.Name] = true
		if rec.Batch > batch {
			batch = rec.Batch
		}
	}
	batch++

	var applied []string
	for _, m := range r.units {
		if done[m.Name] || !m.Supports(b) {
			continue
		}
		r.logger.Info("applying migration", "migration", m.Name, "backend", b, "scope", scope, "batch", batch)
		if err := t.up(ctx, m); err != nil {
			return applied, fmt.Errorf("migration %s on %s/%s: %w", m.Name, b, scope, err)
		}
		rec := store.MigrationRecord{Name: m.Name, Batch: batch, ExecutedAt: store.Now()}
		if err := t.ledger.Record(ctx, rec); err != nil {
			return applied, fmt.Errorf("record %s: %w", m.Name, err)
		}
		r.metrics.RecordMigration(string(b), "up")
		applied = append(applied, m.Name)
	}

	if len(applied) == 0 {
		r.logger.Info("schema up to date", "backend", b, "scope", scope)
	}
	return applied, nil
}

// Rollback reverts the steps most recently applied units for backend b in
// scope, newest first, and returns the names reverted.
func (r *Runner) Rollback(ctx context.Context, b store.Backend, scope store.Scope, steps int) ([]string, error) {
	if steps < 1 {
		return nil, store.Validationf("rollback steps must be at least 1, got %d", steps)
	}
	release, err := r.lock(ctx, b, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := r.open(ctx, b, scope)
	if err != nil {
		return nil, err
	}
	records, err := t.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Batch != records[j].Batch {
			return records[i].Batch > records[j].Batch
		}
		return records[i].Name > records[j].Name
	})
	if len(records) > steps {
		records = records[:steps]
	}

	units := make(map[string]Migration, len(r.units))
	for _, m := range r.units {
		units[m.Name] = m
	}

	var reverted []string
	for _, rec := range records {
		m, ok := units[rec.Name]
		if !ok {
			return reverted, fmt.Errorf("migration %s is recorded on %s/%s but unknown", rec.Name, b, scope)
		}
		if m.hasDown(b) {
			r.logger.Info("rolling back migration", "migration", m.Name, "backend", b, "scope", scope, "batch", rec.Batch)
			if err := t.down(ctx, m); err != nil {
				return reverted, fmt.Errorf("rollback %s on %s/%s: %w", m.Name, b, scope, err)
			}
		} else {
			r.logger.Warn("migration has no down procedure, removing record only",
				"migration", m.Name, "backend", b, "scope", scope)
		}
		if err := t.ledger.Remove(ctx, rec.Name); err != nil {
			return reverted, fmt.Errorf("unrecord %s: %w", rec.Name, err)
		}
		r.metrics.RecordMigration(string(b), "down")
		reverted = append(reverted, rec.Name)
	}
	return reverted, nil
}

// Status lists every unit that supports backend b, with its ledger state in
// scope, followed by any recorded names no unit matches.
func (r *Runner) Status(ctx context.Context, b store.Backend, scope store.Scope) ([]UnitStatus, error) {
	t, err := r.open(ctx, b, scope)
	if err != nil {
		return nil, err
	}
	records, err := t.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]store.MigrationRecord, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	var out []UnitStatus
	known := make(map[string]bool, len(r.units))
	for _, m := range r.units {
		known[m.Name] = true
		rec, ok := byName[m.Name]
		if !m.Supports(b) && !ok {
			continue
		}
		st := UnitStatus{Name: m.Name, Applied: ok}
		if ok {
			at := rec.ExecutedAt
			st.Batch, st.ExecutedAt = rec.Batch, &at
		}
		out = append(out, st)
	}
	for _, rec := range records {
		if known[rec.Name] {
			continue
		}
		at := rec.ExecutedAt
		out = append(out, UnitStatus{Name: rec.Name, Applied: true, Batch: rec.Batch, ExecutedAt: &at, Orphaned: true})
	}
	return out, nil
}

// RunAll runs every backend in t for scope, relational first, and returns the
// names applied per backend. It stops at the first failing backend.
func (r *Runner) RunAll(ctx context.Context, t store.Target, scope store.Scope) (map[store.Backend][]string, error) {
	out := make(map[store.Backend][]string)
	for _, b := range t.Backends() {
		applied, err := r.Run(ctx, b, scope)
		out[b] = applied
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
