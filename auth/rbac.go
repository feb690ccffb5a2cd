package auth

import (
	"errors"
	"strings"
	"sync"

	"github.com/GoCodeAlone/tenancy/store"
)

// Action is an operation on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Resource is a kind of record the API exposes.
type Resource string

const (
	ResourceTenants       Resource = "tenants"
	ResourceUsers         Resource = "users"
	ResourceSubscriptions Resource = "subscriptions"
	ResourceAll           Resource = "*"
)

// Permission allows one action on one resource.
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// ParsePermission parses a "resource:action" string.
func ParsePermission(s string) (Permission, error) {
	res, act, ok := strings.Cut(s, ":")
	if !ok || res == "" || act == "" {
		return Permission{}, errors.New("auth: invalid permission format, expected resource:action")
	}
	return Permission{Resource: Resource(res), Action: Action(act)}, nil
}

// Grant is the set of permissions of one user role.
type Grant struct {
	Role        store.UserRole `json:"role"`
	Permissions []Permission   `json:"permissions"`
}

// Allows reports whether the grant covers action on resource. ActionAdmin
// and ResourceAll act as wildcards.
func (g *Grant) Allows(resource Resource, action Action) bool {
	for _, p := range g.Permissions {
		if (p.Resource == ResourceAll || p.Resource == resource) &&
			(p.Action == ActionAdmin || p.Action == action) {
			return true
		}
	}
	return false
}

// DefaultGrants returns the permissions of the built-in user roles. Admins
// manage everything; tenant owners manage their tenant's users and
// subscription; moderators manage users; plain users read.
func DefaultGrants() []*Grant {
	return []*Grant{
		{Role: store.RoleAdmin, Permissions: []Permission{{ResourceAll, ActionAdmin}}},
		{Role: store.RoleTenant, Permissions: []Permission{
			{ResourceTenants, ActionRead},
			{ResourceTenants, ActionWrite},
			{ResourceUsers, ActionAdmin},
			{ResourceSubscriptions, ActionRead},
			{ResourceSubscriptions, ActionWrite},
		}},
		{Role: store.RoleModerator, Permissions: []Permission{
			{ResourceTenants, ActionRead},
			{ResourceUsers, ActionRead},
			{ResourceUsers, ActionWrite},
			{ResourceSubscriptions, ActionRead},
		}},
		{Role: store.RoleUser, Permissions: []Permission{
			{ResourceTenants, ActionRead},
			{ResourceUsers, ActionRead},
		}},
	}
}

// Policy maps roles to grants.
type Policy struct {
	mu     sync.RWMutex
	grants map[store.UserRole]*Grant
}

// NewPolicy creates a Policy loaded with DefaultGrants.
func NewPolicy() *Policy {
	p := &Policy{grants: make(map[store.UserRole]*Grant)}
	for _, g := range DefaultGrants() {
		p.grants[g.Role] = g
	}
	return p
}

// SetGrant adds or replaces the grant of a role.
func (p *Policy) SetGrant(g *Grant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[g.Role] = g
}

// Grant returns the grant of role.
func (p *Policy) Grant(role store.UserRole) (*Grant, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.grants[role]
	return g, ok
}

// Allowed reports whether role may perform action on resource. Unknown roles
// may do nothing.
func (p *Policy) Allowed(role store.UserRole, resource Resource, action Action) bool {
	g, ok := p.Grant(role)
	if !ok {
		return false
	}
	return g.Allows(resource, action)
}
