package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
)

const userColumns = `id, tenant_id, name, email, password, google_id, avatar, role, status,
	email_verified, last_login, created_at, updated_at`

// SQLUserStore implements UserStore on a relational database. IDs are the
// decimal form of the auto-increment key.
type SQLUserStore struct {
	db *sqlx.DB
}

// NewSQLUserStore creates a new SQLUserStore.
func NewSQLUserStore(db *sqlx.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

func (s *SQLUserStore) Create(ctx context.Context, u *User) error {
	if u.ID != "" {
		id, err := strconv.ParseInt(u.ID, 10, 64)
		if err != nil {
			return Validationf("relational user id %q is not numeric", u.ID)
		}
		return execOne(ctx, s.db, "create user", `
			INSERT INTO users (`+userColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, u.TenantID, u.Name, u.Email, u.PasswordHash, u.GoogleID, u.Avatar, u.Role, u.Status,
			u.EmailVerified, u.LastLogin, u.CreatedAt, u.UpdatedAt)
	}
	id, err := insertReturningID(ctx, s.db, "create user", `
		INSERT INTO users (tenant_id, name, email, password, google_id, avatar, role, status,
			email_verified, last_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.TenantID, u.Name, u.Email, u.PasswordHash, u.GoogleID, u.Avatar, u.Role, u.Status,
		u.EmailVerified, u.LastLogin, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return err
	}
	u.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *SQLUserStore) Get(ctx context.Context, id string) (*User, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, n)
}

func (s *SQLUserStore) GetByEmail(ctx context.Context, email string, tenantID int64) (*User, error) {
	if tenantID > 0 {
		return s.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? AND tenant_id = ? ORDER BY id LIMIT 1`, email, tenantID)
	}
	return s.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? ORDER BY id LIMIT 1`, email)
}

func (s *SQLUserStore) GetByGoogleID(ctx context.Context, googleID string, tenantID int64) (*User, error) {
	if googleID == "" {
		return nil, ErrNotFound
	}
	if tenantID > 0 {
		return s.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = ? AND tenant_id = ? ORDER BY id LIMIT 1`, googleID, tenantID)
	}
	return s.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = ? ORDER BY id LIMIT 1`, googleID)
}

func (s *SQLUserStore) Update(ctx context.Context, u *User) error {
	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil {
		return ErrNotFound
	}
	return execOne(ctx, s.db, "update user", `
		UPDATE users SET tenant_id = ?, name = ?, email = ?, password = ?, google_id = ?, avatar = ?,
			role = ?, status = ?, email_verified = ?, last_login = ?, updated_at = ?
		WHERE id = ?`,
		u.TenantID, u.Name, u.Email, u.PasswordHash, u.GoogleID, u.Avatar,
		u.Role, u.Status, u.EmailVerified, u.LastLogin, u.UpdatedAt, id)
}

func (s *SQLUserStore) Delete(ctx context.Context, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ErrNotFound
	}
	return execOne(ctx, s.db, "delete user", `DELETE FROM users WHERE id = ?`, n)
}

func (s *SQLUserStore) List(ctx context.Context, f UserFilter) ([]*User, error) {
	where := userWhere(f)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userColumns, where)
	args := append(where.args, f.Pagination.limit(), f.Pagination.Offset)

	var users []*User
	if err := s.db.SelectContext(ctx, &users, s.db.Rebind(query), args...); err != nil {
		return nil, opError(BackendRelational, "list users", err)
	}
	return users, nil
}

func (s *SQLUserStore) Count(ctx context.Context, f UserFilter) (int64, error) {
	where := userWhere(f)
	return count(ctx, s.db, "count users", `SELECT COUNT(*) FROM users`+where.String(), where.args...)
}

func (s *SQLUserStore) scanOne(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	if err := getOne(ctx, s.db, &u, "get user", query, args...); err != nil {
		return nil, err
	}
	return &u, nil
}

func userWhere(f UserFilter) *whereClause {
	w := &whereClause{}
	if f.TenantID > 0 {
		w.add("tenant_id = ?", f.TenantID)
	}
	if f.Email != "" {
		w.add("email = ?", f.Email)
	}
	if f.GoogleID != "" {
		w.add("google_id = ?", f.GoogleID)
	}
	if f.Role != "" {
		w.add("role = ?", f.Role)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	return w
}
