// Package plans holds the static plan table: tiers, quota limits and the
// capability flags each tier unlocks.
//
// The table is loaded once at process start and injected wherever limits or
// features are checked. There is no runtime mutation path.
package plans

import (
	"fmt"
	"slices"
)

// Unlimited marks a limit that is not enforced.
const Unlimited = -1

// Tier identifies a plan.
type Tier string

const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierAgency Tier = "agency"
)

// tierOrder lists tiers from cheapest to most expensive.
var tierOrder = []Tier{TierFree, TierPro, TierAgency}

// ParseTier validates an externally supplied tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !slices.Contains(tierOrder, t) {
		return "", fmt.Errorf("unknown plan tier %q", s)
	}
	return t, nil
}

// IsPaid reports whether the tier requires a billing period.
func (t Tier) IsPaid() bool {
	return t != TierFree && t != ""
}

// Feature is a capability flag gated by plan.
type Feature string

const (
	FeatureBrandVoice       Feature = "brand_voice"
	FeatureApprovalWorkflow Feature = "approval_workflow"
	FeatureBulkExport       Feature = "bulk_export"
	FeaturePrioritySupport  Feature = "priority_support"
)

var allFeatures = []Feature{
	FeatureBrandVoice,
	FeatureApprovalWorkflow,
	FeatureBulkExport,
	FeaturePrioritySupport,
}

// ParseFeature validates an externally supplied feature name.
func ParseFeature(s string) (Feature, error) {
	f := Feature(s)
	if !slices.Contains(allFeatures, f) {
		return "", fmt.Errorf("unknown feature %q", s)
	}
	return f, nil
}

// Plan describes the limits and features of a tier.
type Plan struct {
	Tier                   Tier      `json:"tier"`
	WorkspaceLimit         int       `json:"workspace_limit"`
	LocationLimit          int       `json:"location_limit"`
	MonthlyGenerationLimit int       `json:"monthly_generation_limit"`
	Features               []Feature `json:"features"`
}

// HasFeature reports whether the plan includes the capability.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// AllowsGenerations reports whether used+amount stays within the monthly limit.
func (p Plan) AllowsGenerations(used, amount int) bool {
	if p.MonthlyGenerationLimit == Unlimited {
		return true
	}
	return used+amount <= p.MonthlyGenerationLimit
}

func (p Plan) clone() Plan {
	p.Features = slices.Clone(p.Features)
	return p
}

// DefaultTable is the production plan table.
func DefaultTable() map[Tier]Plan {
	return map[Tier]Plan{
		TierFree: {
			Tier:                   TierFree,
			WorkspaceLimit:         1,
			LocationLimit:          1,
			MonthlyGenerationLimit: 50,
		},
		TierPro: {
			Tier:                   TierPro,
			WorkspaceLimit:         1,
			LocationLimit:          3,
			MonthlyGenerationLimit: 1000,
			Features:               []Feature{FeatureBrandVoice, FeatureApprovalWorkflow},
		},
		TierAgency: {
			Tier:                   TierAgency,
			WorkspaceLimit:         Unlimited,
			LocationLimit:          Unlimited,
			MonthlyGenerationLimit: 10000,
			Features: []Feature{
				FeatureBrandVoice,
				FeatureApprovalWorkflow,
				FeatureBulkExport,
				FeaturePrioritySupport,
			},
		},
	}
}

// Registry is a read-only view over a plan table.
type Registry struct {
	plans map[Tier]Plan
}

// NewRegistry copies table into a new registry. The table must define the Free tier,
// which is also the fallback for unknown tiers.
func NewRegistry(table map[Tier]Plan) (*Registry, error) {
	if _, ok := table[TierFree]; !ok {
		return nil, fmt.Errorf("plan table must define the %s tier", TierFree)
	}

	m := make(map[Tier]Plan, len(table))
	for tier, p := range table {
		if p.Tier != tier {
			return nil, fmt.Errorf("plan table entry %q has mismatched tier %q", tier, p.Tier)
		}
		m[tier] = p.clone()
	}

	return &Registry{plans: m}, nil
}

// Default returns a registry over DefaultTable.
func Default() *Registry {
	r, err := NewRegistry(DefaultTable())
	if err != nil {
		panic(err)
	}
	return r
}

// PlanFor returns the plan for tier, or the Free plan when the tier is unknown.
func (r *Registry) PlanFor(tier Tier) Plan {
	if p, ok := r.plans[tier]; ok {
		return p.clone()
	}
	return r.plans[TierFree].clone()
}

// Plans returns all plans ordered from cheapest to most expensive.
func (r *Registry) Plans() []Plan {
	out := make([]Plan, 0, len(r.plans))
	for _, tier := range tierOrder {
		if p, ok := r.plans[tier]; ok {
			out = append(out, p.clone())
		}
	}
	return out
}

// MinimumTierFor returns the cheapest tier that includes the feature.
func (r *Registry) MinimumTierFor(f Feature) (Tier, bool) {
	for _, tier := range tierOrder {
		if p, ok := r.plans[tier]; ok && p.HasFeature(f) {
			return tier, true
		}
	}
	return "", false
}
