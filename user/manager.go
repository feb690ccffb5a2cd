// Package user manages user accounts. The document store's main users
// collection is the identity system of record; users of tenants other than
// the default tenant are also copied into their tenant's database, and the
// relational store can carry a mirror.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/store"
)

// DefaultBcryptCost is the work factor used for password hashes.
const DefaultBcryptCost = 12

// HashPassword hashes password with DefaultBcryptCost.
func HashPassword(password string) (string, error) {
	return hashPassword(password, DefaultBcryptCost)
}

func hashPassword(password string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// ComparePassword reports whether password matches hash. Users without a
// password never match.
func ComparePassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NormalizeEmail lower-cases and trims an address and checks its shape.
func NormalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", store.Validationf("email is required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", store.Validationf("invalid email %q", s)
	}
	return s, nil
}

// CreateInput describes a new user. TenantID 0 means the default tenant.
type CreateInput struct {
	TenantID      int64            `json:"tenant_id,omitempty"`
	Name          string           `json:"name"`
	Email         string           `json:"email"`
	Password      string           `json:"password,omitempty"`
	GoogleID      string           `json:"google_id,omitempty"`
	Avatar        string           `json:"avatar,omitempty"`
	Role          store.UserRole   `json:"role,omitempty"`
	Status        store.UserStatus `json:"status,omitempty"`
	EmailVerified bool             `json:"email_verified,omitempty"`
}

// Patch holds optional user changes. Password is the new plain-text password.
type Patch struct {
	Name          *string           `json:"name,omitempty"`
	Email         *string           `json:"email,omitempty"`
	Password      *string           `json:"password,omitempty"`
	GoogleID      *string           `json:"google_id,omitempty"`
	Avatar        *string           `json:"avatar,omitempty"`
	Role          *store.UserRole   `json:"role,omitempty"`
	Status        *store.UserStatus `json:"status,omitempty"`
	EmailVerified *bool             `json:"email_verified,omitempty"`
}

// Filter selects users for FindAll. AllTenants lists the main collection
// without a tenant filter.
type Filter struct {
	TenantID   int64
	AllTenants bool
	Role       store.UserRole
	Status     store.UserStatus
	Pagination store.Pagination
}

// Manager creates, reads and changes users.
type Manager struct {
	relational store.Provider
	document   store.Provider
	cost       int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithBcryptCost overrides DefaultBcryptCost.
func WithBcryptCost(cost int) Option { return func(m *Manager) { m.cost = cost } }

// WithMetrics attaches a metrics collector.
func WithMetrics(mt *observability.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager creates a new Manager. Either provider may be nil.
func NewManager(relational, document store.Provider, opts ...Option) *Manager {
	m := &Manager{relational: relational, document: document, cost: DefaultBcryptCost}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// PrimaryBackend returns the system-of-record backend for a user write: the
// document store whenever the target includes it.
func PrimaryBackend(target store.Target) store.Backend {
	if target.Has(store.BackendDocument) {
		return store.BackendDocument
	}
	return store.BackendRelational
}

func (m *Manager) users(ctx context.Context, b store.Backend, scope store.Scope) (store.UserStore, error) {
	var p store.Provider
	switch b {
	case store.BackendRelational:
		p = m.relational
	case store.BackendDocument:
		p = m.document
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no %s user store", store.ErrUninitialized, b)
	}
	return p.Users(ctx, scope)
}

// lookupScope is where reads by email or Google ID go: the main collection
// for the document store, the routed scope for the relational mirror.
func lookupScope(b store.Backend, tenantID int64) store.Scope {
	if b == store.BackendDocument {
		return store.Global
	}
	return store.UserScope(tenantID)
}

// placement is one write of a user operation.
type placement struct {
	backend store.Backend
	scope   store.Scope
	primary bool
}

// placements lists the writes for a user of tenantID under target, primary
// first: document main, document tenant copy, relational mirror.
func placements(target store.Target, tenantID int64) []placement {
	p := PrimaryBackend(target)
	var out []placement
	if target.Has(store.BackendDocument) {
		out = append(out, placement{store.BackendDocument, store.Global, true})
		if s := store.UserScope(tenantID); !s.IsGlobal() {
			out = append(out, placement{store.BackendDocument, s, false})
		}
	}
	if target.Has(store.BackendRelational) {
		out = append(out, placement{store.BackendRelational, store.UserScope(tenantID), p == store.BackendRelational})
	}
	return out
}

// write runs fn against every copy. A primary failure aborts and is returned;
// secondary failures are logged, counted and recorded.
func (m *Manager) write(ctx context.Context, target store.Target, tenantID int64, op string, fn func(store.UserStore, placement) error) (*store.WriteResult, error) {
	if target == 0 {
		return nil, store.Validationf("empty write target")
	}
	res := &store.WriteResult{}
	for _, c := range placements(target, tenantID) {
		us, err := m.users(ctx, c.backend, c.scope)
		if err == nil {
			err = fn(us, c)
		}
		m.metrics.RecordWrite("user", string(c.backend), err)
		res.Record(c.backend, c.scope, c.primary, err)
		if err == nil {
			continue
		}
		if c.primary {
			return res, err
		}
		m.logger.Warn("user secondary write failed", "op", op, "backend", c.backend, "scope", c.scope, "error", err)
	}
	if res.Degraded() {
		m.metrics.RecordDegraded("user")
	}
	return res, nil
}

// Create validates in and writes the user. The tenant copy carries the main
// document's id; the relational mirror gets its own numeric id.
func (m *Manager) Create(ctx context.Context, in CreateInput, target store.Target) (*store.User, *store.WriteResult, error) {
	u, err := m.newUser(in)
	if err != nil {
		return nil, nil, err
	}

	pb := PrimaryBackend(target)
	if _, err := m.FindByEmail(ctx, u.Email, u.TenantID, pb); err == nil {
		return nil, nil, fmt.Errorf("%w: email %q already registered", store.ErrConflict, u.Email)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	res, err := m.write(ctx, target, u.TenantID, "create", func(us store.UserStore, c placement) error {
		cp := u.Clone()
		if c.backend != pb {
			cp.ID = ""
		}
		if err := us.Create(ctx, cp); err != nil {
			return err
		}
		if c.backend == pb && u.ID == "" {
			u.ID = cp.ID
		}
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	m.logger.Info("user created", "user_id", u.ID, "tenant_id", u.TenantID)
	return u, res, nil
}

func (m *Manager) newUser(in CreateInput) (*store.User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, store.Validationf("user name is required")
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = store.RoleUser
	}
	if !store.ValidUserRoles[role] {
		return nil, store.Validationf("invalid role %q", role)
	}
	status := in.Status
	if status == "" {
		status = store.UserStatusActive
	}
	if !store.ValidUserStatuses[status] {
		return nil, store.Validationf("invalid user status %q", status)
	}
	tenantID := in.TenantID
	if tenantID <= 0 {
		tenantID = store.DefaultTenantID
	}

	now := store.Now()
	u := &store.User{
		TenantID:      tenantID,
		Name:          name,
		Email:         email,
		GoogleID:      in.GoogleID,
		Avatar:        in.Avatar,
		Role:          role,
		Status:        status,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Password != "" {
		if u.PasswordHash, err = hashPassword(in.Password, m.cost); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// FindByID looks a user up by its store id, routed by tenantID.
func (m *Manager) FindByID(ctx context.Context, id string, tenantID int64, b store.Backend) (*store.User, error) {
	us, err := m.users(ctx, b, store.UserScope(tenantID))
	if err != nil {
		return nil, err
	}
	return us.Get(ctx, id)
}

// FindByEmail looks a user up by email. Document lookups always use the main
// collection; tenantID 0 matches any tenant.
func (m *Manager) FindByEmail(ctx context.Context, email string, tenantID int64, b store.Backend) (*store.User, error) {
	us, err := m.users(ctx, b, lookupScope(b, tenantID))
	if err != nil {
		return nil, err
	}
	return us.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)), tenantID)
}

// FindByGoogleID looks a user up by Google account id, like FindByEmail.
func (m *Manager) FindByGoogleID(ctx context.Context, googleID string, tenantID int64, b store.Backend) (*store.User, error) {
	us, err := m.users(ctx, b, lookupScope(b, tenantID))
	if err != nil {
		return nil, err
	}
	return us.GetByGoogleID(ctx, googleID, tenantID)
}

// FindAll lists users, newest first.
func (m *Manager) FindAll(ctx context.Context, f Filter, b store.Backend) ([]*store.User, error) {
	scope := store.Global
	sf := store.UserFilter{Role: f.Role, Status: f.Status, Pagination: f.Pagination}
	if !f.AllTenants && f.TenantID > 0 {
		scope = store.UserScope(f.TenantID)
		sf.TenantID = f.TenantID
	}
	us, err := m.users(ctx, b, scope)
	if err != nil {
		return nil, err
	}
	return us.List(ctx, sf)
}

// Count counts the users of a tenant; tenantID 0 counts every user in the
// main collection.
func (m *Manager) Count(ctx context.Context, tenantID int64, b store.Backend) (int64, error) {
	scope := lookupScope(b, tenantID)
	us, err := m.users(ctx, b, scope)
	if err != nil {
		return 0, err
	}
	return us.Count(ctx, store.UserFilter{TenantID: tenantID})
}

// Update applies p to the user and writes it to every copy in target.
func (m *Manager) Update(ctx context.Context, id string, tenantID int64, p Patch, target store.Target) (*store.User, *store.WriteResult, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, nil, store.Validationf("user name cannot be empty")
	}
	if p.Role != nil && !store.ValidUserRoles[*p.Role] {
		return nil, nil, store.Validationf("invalid role %q", *p.Role)
	}
	if p.Status != nil && !store.ValidUserStatuses[*p.Status] {
		return nil, nil, store.Validationf("invalid user status %q", *p.Status)
	}
	var email, hash string
	if p.Email != nil {
		var err error
		if email, err = NormalizeEmail(*p.Email); err != nil {
			return nil, nil, err
		}
	}
	if p.Password != nil {
		var err error
		if hash, err = hashPassword(*p.Password, m.cost); err != nil {
			return nil, nil, err
		}
	}
	return m.mutate(ctx, id, tenantID, target, "update", func(u *store.User) {
		if p.Name != nil {
			u.Name = strings.TrimSpace(*p.Name)
		}
		if p.Email != nil {
			u.Email = email
		}
		if p.Password != nil {
			u.PasswordHash = hash
		}
		if p.GoogleID != nil {
			u.GoogleID = *p.GoogleID
		}
		if p.Avatar != nil {
			u.Avatar = *p.Avatar
		}
		if p.Role != nil {
			u.Role = *p.Role
		}
		if p.Status != nil {
			u.Status = *p.Status
		}
		if p.EmailVerified != nil {
			u.EmailVerified = *p.EmailVerified
		}
	})
}

// UpdateLastLogin stamps the user's last login time.
func (m *Manager) UpdateLastLogin(ctx context.Context, id string, tenantID int64, target store.Target) (*store.User, *store.WriteResult, error) {
	return m.mutate(ctx, id, tenantID, target, "last_login", func(u *store.User) {
		now := u.UpdatedAt
		u.LastLogin = &now
	})
}

// mutate reads the user from the primary copy, applies fn and writes the
// result to every copy. Copies outside the primary backend are located by
// tenant and email since their ids differ.
func (m *Manager) mutate(ctx context.Context, id string, tenantID int64, target store.Target, op string, fn func(*store.User)) (*store.User, *store.WriteResult, error) {
	if target == 0 {
		return nil, nil, store.Validationf("empty write target")
	}
	pb := PrimaryBackend(target)
	u, err := m.FindByID(ctx, id, MainTenant(pb, tenantID), pb)
	if err != nil {
		return nil, nil, err
	}
	oldEmail := u.Email
	u.UpdatedAt = store.Now()
	fn(u)

	res, err := m.write(ctx, target, u.TenantID, op, func(us store.UserStore, c placement) error {
		if c.backend == pb {
			return us.Update(ctx, u)
		}
		mirror, err := us.GetByEmail(ctx, oldEmail, u.TenantID)
		if err != nil {
			return err
		}
		cp := u.Clone()
		cp.ID = mirror.ID
		return us.Update(ctx, cp)
	})
	if err != nil {
		return nil, res, err
	}
	return u, res, nil
}

// Delete removes the user from every copy in target.
func (m *Manager) Delete(ctx context.Context, id string, tenantID int64, target store.Target) (*store.WriteResult, error) {
	if target == 0 {
		return nil, store.Validationf("empty write target")
	}
	pb := PrimaryBackend(target)
	u, err := m.FindByID(ctx, id, MainTenant(pb, tenantID), pb)
	if err != nil {
		return nil, err
	}
	res, err := m.write(ctx, target, u.TenantID, "delete", func(us store.UserStore, c placement) error {
		if c.backend == pb {
			return us.Delete(ctx, id)
		}
		mirror, err := us.GetByEmail(ctx, u.Email, u.TenantID)
		if err != nil {
			return err
		}
		return us.Delete(ctx, mirror.ID)
	})
	if err != nil {
		return res, err
	}
	m.logger.Info("user deleted", "user_id", id, "tenant_id", u.TenantID)
	return res, nil
}

// MainTenant returns the tenant id that routes a primary read to the
// primary copy: the main collection for documents.
func MainTenant(pb store.Backend, tenantID int64) int64 {
	if pb == store.BackendDocument {
		return store.DefaultTenantID
	}
	return tenantID
}
