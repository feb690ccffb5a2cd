// Package migration applies and reverts named schema units against the
// relational and document stores, recording each applied unit in a
// per-database ledger.
package migration

import (
	"context"
	"sort"
	"time"

	"github.com/GoCodeAlone/tenancy/store"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"
)

// RelationalStep changes a relational database.
type RelationalStep func(ctx context.Context, db *sqlx.DB, d store.Dialect) error

// DocumentStep changes a document database.
type DocumentStep func(ctx context.Context, db *mongo.Database) error

// Migration is a named schema unit. A unit may define procedures for only one
// of the backends; it is skipped, and not recorded, on the other.
type Migration struct {
	Name string

	RelationalUp   RelationalStep
	RelationalDown RelationalStep
	DocumentUp     DocumentStep
	DocumentDown   DocumentStep
}

// Supports reports whether m has an up procedure for b.
func (m Migration) Supports(b store.Backend) bool {
	switch b {
	case store.BackendRelational:
		return m.RelationalUp != nil
	case store.BackendDocument:
		return m.DocumentUp != nil
	}
	return false
}

func (m Migration) hasDown(b store.Backend) bool {
	switch b {
	case store.BackendRelational:
		return m.RelationalDown != nil
	case store.BackendDocument:
		return m.DocumentDown != nil
	}
	return false
}

// sorted returns a copy of units ordered lexicographically by name.
func sorted(units []Migration) []Migration {
	out := make([]Migration, len(units))
	copy(out, units)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UnitStatus describes one unit in a ledger.
type UnitStatus struct {
	Name       string     `json:"name"`
	Applied    bool       `json:"applied"`
	Batch      int        `json:"batch,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	// Orphaned marks a ledger record whose unit is no longer known.
	Orphaned bool `json:"orphaned,omitempty"`
}
