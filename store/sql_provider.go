package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// RelationalSource hands out relational handles per scope. The connection
// registry implements it.
type RelationalSource interface {
	Relational(ctx context.Context, scope Scope) (*sqlx.DB, error)
}

// SQLProvider implements Provider over a RelationalSource.
type SQLProvider struct {
	src RelationalSource
}

// NewSQLProvider creates a new SQLProvider.
func NewSQLProvider(src RelationalSource) *SQLProvider {
	return &SQLProvider{src: src}
}

func (p *SQLProvider) Backend() Backend { return BackendRelational }

func (p *SQLProvider) Tenants(ctx context.Context, scope Scope) (TenantStore, error) {
	db, err := p.src.Relational(ctx, scope)
	if err != nil {
		return nil, err
	}
	return NewSQLTenantStore(db), nil
}

func (p *SQLProvider) Users(ctx context.Context, scope Scope) (UserStore, error) {
	db, err := p.src.Relational(ctx, scope)
	if err != nil {
		return nil, err
	}
	return NewSQLUserStore(db), nil
}

func (p *SQLProvider) Subscriptions(ctx context.Context, scope Scope) (SubscriptionStore, error) {
	db, err := p.src.Relational(ctx, scope)
	if err != nil {
		return nil, err
	}
	return NewSQLSubscriptionStore(db), nil
}

// whereClause accumulates AND-ed conditions with '?' placeholders.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// execOne runs a write that must touch exactly one row.
func execOne(ctx context.Context, db *sqlx.DB, op, query string, args ...any) error {
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, op)
		}
		return opError(BackendRelational, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opError(BackendRelational, op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func getOne(ctx context.Context, db *sqlx.DB, dst any, op, query string, args ...any) error {
	err := db.GetContext(ctx, dst, db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return opError(BackendRelational, op, err)
	}
	return nil
}

func count(ctx context.Context, db *sqlx.DB, op, query string, args ...any) (int64, error) {
	var n int64
	if err := db.GetContext(ctx, &n, db.Rebind(query), args...); err != nil {
		return 0, opError(BackendRelational, op, err)
	}
	return n, nil
}

func insertReturningID(ctx context.Context, db *sqlx.DB, op, query string, args ...any) (int64, error) {
	var id int64
	err := db.QueryRowxContext(ctx, db.Rebind(query+" RETURNING id"), args...).Scan(&id)
	if err != nil {
		if isDuplicateError(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicate, op)
		}
		return 0, opError(BackendRelational, op, err)
	}
	return id, nil
}
