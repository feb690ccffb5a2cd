package store

import "context"

// Pagination controls offset-based paging of list queries.
type Pagination struct {
	Offset int
	Limit  int
}

// DefaultPagination returns a Pagination with sensible defaults.
func DefaultPagination() Pagination {
	return Pagination{Offset: 0, Limit: 50}
}

func (p Pagination) limit() int {
	if p.Limit <= 0 {
		return 50
	}
	return p.Limit
}

// TenantFilter specifies criteria for listing tenants.
type TenantFilter struct {
	Status     TenantStatus
	Pagination Pagination
}

// UserFilter specifies criteria for listing users. TenantID 0 matches users
// of every tenant.
type UserFilter struct {
	TenantID   int64
	Email      string
	GoogleID   string
	Role       UserRole
	Status     UserStatus
	Pagination Pagination
}

// SubscriptionFilter specifies criteria for listing subscriptions.
type SubscriptionFilter struct {
	TenantID   int64
	Status     SubscriptionStatus
	PlanType   PlanType
	Pagination Pagination
}

// TenantStore defines persistence operations for tenants.
type TenantStore interface {
	// Create inserts t. A zero ID is assigned by the store; a non-zero ID is
	// kept, which is how mirrors share the system-of-record id.
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id int64) (*Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f TenantFilter) ([]*Tenant, error)
	Count(ctx context.Context, f TenantFilter) (int64, error)
}

// UserStore defines persistence operations for users.
type UserStore interface {
	// Create inserts u. An empty ID is assigned by the store.
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	// GetByEmail and GetByGoogleID match any tenant when tenantID is 0.
	GetByEmail(ctx context.Context, email string, tenantID int64) (*User, error)
	GetByGoogleID(ctx context.Context, googleID string, tenantID int64) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f UserFilter) ([]*User, error)
	Count(ctx context.Context, f UserFilter) (int64, error)
}

// SubscriptionStore defines persistence operations for subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id int64) (*Subscription, error)
	// Latest returns the most recently created subscription for a tenant.
	Latest(ctx context.Context, tenantID int64) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	List(ctx context.Context, f SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, f SubscriptionFilter) (int64, error)
}

// Provider resolves the entity stores of one backend for a scope.
type Provider interface {
	Backend() Backend
	Tenants(ctx context.Context, scope Scope) (TenantStore, error)
	Users(ctx context.Context, scope Scope) (UserStore, error)
	Subscriptions(ctx context.Context, scope Scope) (SubscriptionStore, error)
}
