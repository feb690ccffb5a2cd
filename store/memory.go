package store

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryProvider is an in-memory Provider. Each scope is an isolated
// database, so it mirrors the layout of the real backends closely enough for
// manager tests and for running the service without a document server.
type MemoryProvider struct {
	backend Backend

	mu       sync.Mutex
	scopes   map[Scope]*memoryScope
	failures map[Scope]error
}

type memoryScope struct {
	tenants   map[int64]*Tenant
	users     map[string]*User
	subs      map[int64]*Subscription
	tenantSeq int64
	userSeq   int64
	subSeq    int64
}

// NewMemoryProvider creates an empty MemoryProvider reporting backend b.
func NewMemoryProvider(b Backend) *MemoryProvider {
	return &MemoryProvider{
		backend:  b,
		scopes:   make(map[Scope]*memoryScope),
		failures: make(map[Scope]error),
	}
}

func (p *MemoryProvider) Backend() Backend { return p.backend }

// FailScope makes every operation on scope fail with err until cleared with
// a nil err.
func (p *MemoryProvider) FailScope(scope Scope, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, scope)
		return
	}
	p.failures[scope] = err
}

// Scopes returns the scopes that hold data.
func (p *MemoryProvider) Scopes() []Scope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Scope, 0, len(p.scopes))
	for s := range p.scopes {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Scope) int { return cmp.Compare(a.TenantID, b.TenantID) })
	return out
}

func (p *MemoryProvider) Tenants(_ context.Context, scope Scope) (TenantStore, error) {
	return &memoryTenantStore{p: p, scope: scope}, nil
}

func (p *MemoryProvider) Users(_ context.Context, scope Scope) (UserStore, error) {
	return &memoryUserStore{p: p, scope: scope}, nil
}

func (p *MemoryProvider) Subscriptions(_ context.Context, scope Scope) (SubscriptionStore, error) {
	return &memorySubscriptionStore{p: p, scope: scope}, nil
}

// lock acquires the provider mutex and returns the scope's data, or the
// injected failure for the scope.
func (p *MemoryProvider) lock(scope Scope, op string) (*memoryScope, error) {
	p.mu.Lock()
	if err, ok := p.failures[scope]; ok {
		p.mu.Unlock()
		return nil, opError(p.backend, op, err)
	}
	s, ok := p.scopes[scope]
	if !ok {
		s = &memoryScope{
			tenants: make(map[int64]*Tenant),
			users:   make(map[string]*User),
			subs:    make(map[int64]*Subscription),
		}
		p.scopes[scope] = s
	}
	return s, nil
}

func paginate[T any](items []T, pg Pagination) []T {
	if pg.Offset >= len(items) {
		return nil
	}
	items = items[pg.Offset:]
	if l := pg.limit(); len(items) > l {
		items = items[:l]
	}
	return items
}

// ---------------------------------------------------------------------------
// tenants
// ---------------------------------------------------------------------------

type memoryTenantStore struct {
	p     *MemoryProvider
	scope Scope
}

func (s *memoryTenantStore) Create(_ context.Context, t *Tenant) error {
	db, err := s.p.lock(s.scope, "create tenant")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	for _, existing := range db.tenants {
		if existing.Subdomain == t.Subdomain {
			return ErrDuplicate
		}
	}
	if t.ID == 0 {
		db.tenantSeq++
		t.ID = db.tenantSeq
	} else if _, ok := db.tenants[t.ID]; ok {
		return ErrDuplicate
	}
	db.tenantSeq = max(db.tenantSeq, t.ID)
	db.tenants[t.ID] = t.Clone()
	return nil
}

func (s *memoryTenantStore) Get(_ context.Context, id int64) (*Tenant, error) {
	db, err := s.p.lock(s.scope, "get tenant")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	t, ok := db.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *memoryTenantStore) GetBySubdomain(_ context.Context, subdomain string) (*Tenant, error) {
	db, err := s.p.lock(s.scope, "get tenant")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	for _, t := range db.tenants {
		if t.Subdomain == subdomain {
			return t.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryTenantStore) Update(_ context.Context, t *Tenant) error {
	db, err := s.p.lock(s.scope, "update tenant")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	if _, ok := db.tenants[t.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range db.tenants {
		if id != t.ID && existing.Subdomain == t.Subdomain {
			return ErrDuplicate
		}
	}
	db.tenants[t.ID] = t.Clone()
	return nil
}

func (s *memoryTenantStore) Delete(_ context.Context, id int64) error {
	db, err := s.p.lock(s.scope, "delete tenant")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	if _, ok := db.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(db.tenants, id)
	return nil
}

func (s *memoryTenantStore) match(db *memoryScope, f TenantFilter) []*Tenant {
	var out []*Tenant
	for _, t := range db.tenants {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b *Tenant) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

func (s *memoryTenantStore) List(_ context.Context, f TenantFilter) ([]*Tenant, error) {
	db, err := s.p.lock(s.scope, "list tenants")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	return paginate(s.match(db, f), f.Pagination), nil
}

func (s *memoryTenantStore) Count(_ context.Context, f TenantFilter) (int64, error) {
	db, err := s.p.lock(s.scope, "count tenants")
	if err != nil {
		return 0, err
	}
	defer s.p.mu.Unlock()
	return int64(len(s.match(db, f))), nil
}

// ---------------------------------------------------------------------------
// users
// ---------------------------------------------------------------------------

type memoryUserStore struct {
	p     *MemoryProvider
	scope Scope
}

func (s *memoryUserStore) Create(_ context.Context, u *User) error {
	db, err := s.p.lock(s.scope, "create user")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	for _, existing := range db.users {
		if existing.TenantID == u.TenantID && existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	if u.ID == "" {
		if s.p.backend == BackendDocument {
			u.ID = primitive.NewObjectID().Hex()
		} else {
			db.userSeq++
			u.ID = strconv.FormatInt(db.userSeq, 10)
		}
	} else if _, ok := db.users[u.ID]; ok {
		return ErrDuplicate
	}
	db.users[u.ID] = u.Clone()
	return nil
}

func (s *memoryUserStore) Get(_ context.Context, id string) (*User, error) {
	db, err := s.p.lock(s.scope, "get user")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *memoryUserStore) GetByEmail(ctx context.Context, email string, tenantID int64) (*User, error) {
	return s.first(UserFilter{Email: email, TenantID: tenantID})
}

func (s *memoryUserStore) GetByGoogleID(ctx context.Context, googleID string, tenantID int64) (*User, error) {
	if googleID == "" {
		return nil, ErrNotFound
	}
	return s.first(UserFilter{GoogleID: googleID, TenantID: tenantID})
}

func (s *memoryUserStore) first(f UserFilter) (*User, error) {
	db, err := s.p.lock(s.scope, "get user")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	users := s.match(db, f)
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	// Oldest first, matching the relational ORDER BY id.
	return users[len(users)-1], nil
}

func (s *memoryUserStore) Update(_ context.Context, u *User) error {
	db, err := s.p.lock(s.scope, "update user")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	if _, ok := db.users[u.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range db.users {
		if id != u.ID && existing.TenantID == u.TenantID && existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	db.users[u.ID] = u.Clone()
	return nil
}

func (s *memoryUserStore) Delete(_ context.Context, id string) error {
	db, err := s.p.lock(s.scope, "delete user")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	if _, ok := db.users[id]; !ok {
		return ErrNotFound
	}
	delete(db.users, id)
	return nil
}

func (s *memoryUserStore) match(db *memoryScope, f UserFilter) []*User {
	var out []*User
	for _, u := range db.users {
		if f.TenantID > 0 && u.TenantID != f.TenantID {
			continue
		}
		if f.Email != "" && u.Email != f.Email {
			continue
		}
		if f.GoogleID != "" && u.GoogleID != f.GoogleID {
			continue
		}
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		out = append(out, u.Clone())
	}
	slices.SortFunc(out, func(a, b *User) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

func (s *memoryUserStore) List(_ context.Context, f UserFilter) ([]*User, error) {
	db, err := s.p.lock(s.scope, "list users")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	return paginate(s.match(db, f), f.Pagination), nil
}

func (s *memoryUserStore) Count(_ context.Context, f UserFilter) (int64, error) {
	db, err := s.p.lock(s.scope, "count users")
	if err != nil {
		return 0, err
	}
	defer s.p.mu.Unlock()
	return int64(len(s.match(db, f))), nil
}

// ---------------------------------------------------------------------------
// subscriptions
// ---------------------------------------------------------------------------

type memorySubscriptionStore struct {
	p     *MemoryProvider
	scope Scope
}

func (s *memorySubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	db, err := s.p.lock(s.scope, "create subscription")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	if sub.ID == 0 {
		db.subSeq++
		sub.ID = db.subSeq
	} else if _, ok := db.subs[sub.ID]; ok {
		return ErrDuplicate
	}
	db.subSeq = max(db.subSeq, sub.ID)
	db.subs[sub.ID] = sub.Clone()
	return nil
}

func (s *memorySubscriptionStore) Get(_ context.Context, id int64) (*Subscription, error) {
	db, err := s.p.lock(s.scope, "get subscription")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	sub, ok := db.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *memorySubscriptionStore) Latest(_ context.Context, tenantID int64) (*Subscription, error) {
	db, err := s.p.lock(s.scope, "get subscription")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	subs := s.match(db, SubscriptionFilter{TenantID: tenantID})
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return subs[0], nil
}

func (s *memorySubscriptionStore) Update(_ context.Context, sub *Subscription) error {
	db, err := s.p.lock(s.scope, "update subscription")
	if err != nil {
		return err
	}
	defer s.p.mu.Unlock()
	if _, ok := db.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	db.subs[sub.ID] = sub.Clone()
	return nil
}

func (s *memorySubscriptionStore) match(db *memoryScope, f SubscriptionFilter) []*Subscription {
	var out []*Subscription
	for _, sub := range db.subs {
		if f.TenantID > 0 && sub.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && sub.Status != f.Status {
			continue
		}
		if f.PlanType != "" && sub.PlanType != f.PlanType {
			continue
		}
		out = append(out, sub.Clone())
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

func (s *memorySubscriptionStore) List(_ context.Context, f SubscriptionFilter) ([]*Subscription, error) {
	db, err := s.p.lock(s.scope, "list subscriptions")
	if err != nil {
		return nil, err
	}
	defer s.p.mu.Unlock()
	return paginate(s.match(db, f), f.Pagination), nil
}

func (s *memorySubscriptionStore) Count(_ context.Context, f SubscriptionFilter) (int64, error) {
	db, err := s.p.lock(s.scope, "count subscriptions")
	if err != nil {
		return 0, err
	}
	defer s.p.mu.Unlock()
	return int64(len(s.match(db, f))), nil
}
