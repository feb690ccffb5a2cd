package billing

import (
	"maps"

	"github.com/GoCodeAlone/tenancy/store"
)

const gib = 1024 * 1024 * 1024

// Feature flag names used by the plan catalog.
const (
	FeatureBasicDashboard     = "basic_dashboard"
	FeatureEmailSupport       = "email_support"
	FeatureAPIAccess          = "api_access"
	FeatureAdvancedAnalytics  = "advanced_analytics"
	FeaturePrioritySupport    = "priority_support"
	FeatureWhiteLabel         = "white_label"
	FeatureCustomIntegrations = "custom_integrations"
)

// Plan is the template a new subscription is derived from.
type Plan struct {
	Name       string         `json:"plan_name"`
	Type       store.PlanType `json:"plan_type"`
	Price      float64        `json:"price"`
	MaxUsers   int            `json:"max_users"`   // store.Unlimited = no limit
	MaxStorage int64          `json:"max_storage"` // bytes, store.Unlimited = no limit
	Features   store.Features `json:"features"`
}

// Predefined plans.
var (
	PlanFree = Plan{
		Name:       "Free Plan",
		Type:       store.PlanFree,
		Price:      0,
		MaxUsers:   5,
		MaxStorage: 1 * gib,
		Features: store.Features{
			FeatureBasicDashboard:    true,
			FeatureEmailSupport:      false,
			FeatureAPIAccess:         false,
			FeatureAdvancedAnalytics: false,
			FeaturePrioritySupport:   false,
		},
	}

	PlanBasic = Plan{
		Name:       "Basic Plan",
		Type:       store.PlanBasic,
		Price:      29.99,
		MaxUsers:   25,
		MaxStorage: 10 * gib,
		Features: store.Features{
			FeatureBasicDashboard:    true,
			FeatureEmailSupport:      true,
			FeatureAPIAccess:         true,
			FeatureAdvancedAnalytics: false,
			FeaturePrioritySupport:   false,
		},
	}

	PlanPremium = Plan{
		Name:       "Premium Plan",
		Type:       store.PlanPremium,
		Price:      79.99,
		MaxUsers:   100,
		MaxStorage: 50 * gib,
		Features: store.Features{
			FeatureBasicDashboard:    true,
			FeatureEmailSupport:      true,
			FeatureAPIAccess:         true,
			FeatureAdvancedAnalytics: true,
			FeaturePrioritySupport:   true,
		},
	}

	PlanEnterprise = Plan{
		Name:       "Enterprise Plan",
		Type:       store.PlanEnterprise,
		Price:      199.99,
		MaxUsers:   store.Unlimited,
		MaxStorage: store.Unlimited,
		Features: store.Features{
			FeatureBasicDashboard:     true,
			FeatureEmailSupport:       true,
			FeatureAPIAccess:          true,
			FeatureAdvancedAnalytics:  true,
			FeaturePrioritySupport:    true,
			FeatureWhiteLabel:         true,
			FeatureCustomIntegrations: true,
		},
	}

	// AllPlans is the ordered list of available plans.
	AllPlans = []Plan{PlanFree, PlanBasic, PlanPremium, PlanEnterprise}
)

// DefaultPlans returns a copy of the catalog keyed by plan type.
func DefaultPlans() map[store.PlanType]Plan {
	out := make(map[store.PlanType]Plan, len(AllPlans))
	for _, p := range AllPlans {
		out[p.Type] = p.clone()
	}
	return out
}

// PlanByType looks up a plan. Returns nil if not found.
func PlanByType(t store.PlanType) *Plan {
	for i := range AllPlans {
		if AllPlans[i].Type == t {
			p := AllPlans[i].clone()
			return &p
		}
	}
	return nil
}

// IsUnlimited reports whether the plan places no limit on users.
func (p Plan) IsUnlimited() bool {
	return p.MaxUsers == store.Unlimited
}

func (p Plan) clone() Plan {
	p.Features = maps.Clone(p.Features)
	return p
}
