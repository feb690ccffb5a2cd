package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// TenantStatus represents the lifecycle status of a tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusInactive  TenantStatus = "inactive"
	TenantStatusSuspended TenantStatus = "suspended"
)

// ValidTenantStatuses is the set of valid tenant status values.
var ValidTenantStatuses = map[TenantStatus]bool{
	TenantStatusActive:    true,
	TenantStatusInactive:  true,
	TenantStatusSuspended: true,
}

// UserRole is the role of a user within its tenant.
type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleTenant    UserRole = "tenant"
	RoleUser      UserRole = "user"
	RoleModerator UserRole = "moderator"
)

// ValidUserRoles is the set of valid user role values.
var ValidUserRoles = map[UserRole]bool{
	RoleAdmin:     true,
	RoleTenant:    true,
	RoleUser:      true,
	RoleModerator: true,
}

// UserStatus represents the account status of a user.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// ValidUserStatuses is the set of valid user status values.
var ValidUserStatuses = map[UserStatus]bool{
	UserStatusActive:    true,
	UserStatusInactive:  true,
	UserStatusSuspended: true,
}

// PlanType identifies a subscription plan tier.
type PlanType string

const (
	PlanFree       PlanType = "free"
	PlanBasic      PlanType = "basic"
	PlanPremium    PlanType = "premium"
	PlanEnterprise PlanType = "enterprise"
)

// ValidPlanTypes is the set of valid plan types.
var ValidPlanTypes = map[PlanType]bool{
	PlanFree:       true,
	PlanBasic:      true,
	PlanPremium:    true,
	PlanEnterprise: true,
}

// SubscriptionStatus represents the billing state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// ValidSubscriptionStatuses is the set of valid subscription statuses.
var ValidSubscriptionStatuses = map[SubscriptionStatus]bool{
	SubscriptionActive:    true,
	SubscriptionCancelled: true,
	SubscriptionExpired:   true,
	SubscriptionSuspended: true,
}

// BillingCycle is the renewal period of a subscription.
type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

// ValidBillingCycles is the set of valid billing cycles.
var ValidBillingCycles = map[BillingCycle]bool{
	BillingMonthly: true,
	BillingYearly:  true,
}

// Settings is a free-form tenant settings map, stored as JSON in the
// relational store and as an embedded document in the document store.
type Settings map[string]any

// Value implements driver.Valuer.
func (s Settings) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Settings) Scan(src any) error {
	m := map[string]any{}
	if err := scanJSON(src, &m); err != nil {
		return fmt.Errorf("scan settings: %w", err)
	}
	*s = m
	return nil
}

// Features maps feature flag names to their enabled state.
type Features map[string]bool

// Value implements driver.Valuer.
func (f Features) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]bool(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *Features) Scan(src any) error {
	m := map[string]bool{}
	if err := scanJSON(src, &m); err != nil {
		return fmt.Errorf("scan features: %w", err)
	}
	*f = m
	return nil
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	}
	return fmt.Errorf("unsupported type %T", src)
}

// Tenant is an organization using the platform.
type Tenant struct {
	ID           int64        `json:"id" db:"id" bson:"_id"`
	Name         string       `json:"name" db:"name" bson:"name"`
	Subdomain    string       `json:"subdomain" db:"subdomain" bson:"subdomain"`
	DatabaseName string       `json:"database_name" db:"database_name" bson:"database_name"`
	Status       TenantStatus `json:"status" db:"status" bson:"status"`
	Settings     Settings     `json:"settings" db:"settings" bson:"settings,omitempty"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// Clone returns a deep-enough copy for callers that mutate settings.
func (t *Tenant) Clone() *Tenant {
	cp := *t
	cp.Settings = maps.Clone(t.Settings)
	return &cp
}

// User is a person belonging to a tenant. ID is store specific: a decimal
// integer in the relational store and a hex ObjectID in the document store.
type User struct {
	ID            string     `json:"id" db:"id"`
	TenantID      int64      `json:"tenant_id" db:"tenant_id"`
	Name          string     `json:"name" db:"name"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password"`
	GoogleID      string     `json:"google_id,omitempty" db:"google_id"`
	Avatar        string     `json:"avatar,omitempty" db:"avatar"`
	Role          UserRole   `json:"role" db:"role"`
	Status        UserStatus `json:"status" db:"status"`
	EmailVerified bool       `json:"email_verified" db:"email_verified"`
	LastLogin     *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	cp := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

// Subscription is a tenant's billing plan record.
type Subscription struct {
	ID                 int64              `json:"id" db:"id" bson:"_id"`
	TenantID           int64              `json:"tenant_id" db:"tenant_id" bson:"tenant_id"`
	PlanName           string             `json:"plan_name" db:"plan_name" bson:"plan_name"`
	PlanType           PlanType           `json:"plan_type" db:"plan_type" bson:"plan_type"`
	Status             SubscriptionStatus `json:"status" db:"status" bson:"status"`
	BillingCycle       BillingCycle       `json:"billing_cycle" db:"billing_cycle" bson:"billing_cycle"`
	Price              float64            `json:"price" db:"price" bson:"price"`
	Currency           string             `json:"currency" db:"currency" bson:"currency"`
	MaxUsers           int                `json:"max_users" db:"max_users" bson:"max_users"`
	MaxStorage         int64              `json:"max_storage" db:"max_storage" bson:"max_storage"`
	Features           Features           `json:"features" db:"features" bson:"features,omitempty"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty" db:"trial_ends_at" bson:"trial_ends_at,omitempty"`
	CurrentPeriodStart time.Time          `json:"current_period_start" db:"current_period_start" bson:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" db:"current_period_end" bson:"current_period_end"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at" bson:"cancelled_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// Clone returns a copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	cp := *s
	cp.Features = maps.Clone(s.Features)
	if s.TrialEndsAt != nil {
		t := *s.TrialEndsAt
		cp.TrialEndsAt = &t
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

// IsActive reports whether the subscription is active and its current period
// has not ended at now.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionActive && now.Before(s.CurrentPeriodEnd)
}

// IsInTrial reports whether a trial end is set and lies after now.
func (s *Subscription) IsInTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

// HasFeature reports whether the named feature flag is enabled.
func (s *Subscription) HasFeature(name string) bool {
	return s.Features[name]
}

// Unlimited is the max_users / max_storage value meaning "no limit".
const Unlimited = -1

// UnlimitedUsers reports whether the plan places no limit on users.
func (s *Subscription) UnlimitedUsers() bool { return s.MaxUsers == Unlimited }

// MigrationRecord is one row of the migration ledger.
type MigrationRecord struct {
	Name       string    `json:"name" db:"name" bson:"name"`
	Batch      int       `json:"batch" db:"batch" bson:"batch"`
	ExecutedAt time.Time `json:"executed_at" db:"executed_at" bson:"executed_at"`
}

// Now returns the current time normalized for storage: UTC, millisecond
// precision, no monotonic reading.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
