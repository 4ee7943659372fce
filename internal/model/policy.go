package model

import (
	"strings"
	"time"
)

// Dimension is one of the closed set of scope axes a policy can restrict.
type Dimension string

const (
	DimProject  Dimension = "project"
	DimBureau   Dimension = "bureau"
	DimSupplier Dimension = "supplier"
	DimCategory Dimension = "category"
)

// Dimensions lists every scope dimension in evaluation order.
var Dimensions = []Dimension{DimProject, DimBureau, DimSupplier, DimCategory}

// ScopeRule restricts one dimension. Empty lists mean no restriction.
type ScopeRule struct {
	Allow []string `json:"allow,omitempty" yaml:"allow"`
	Deny  []string `json:"deny,omitempty"  yaml:"deny"`
}

// IsEmpty reports whether the rule restricts nothing.
func (r ScopeRule) IsEmpty() bool {
	return len(r.Allow) == 0 && len(r.Deny) == 0
}

// Scope holds one allow/deny pair per dimension.
type Scope struct {
	Project  ScopeRule `json:"project"  yaml:"project"`
	Bureau   ScopeRule `json:"bureau"   yaml:"bureau"`
	Supplier ScopeRule `json:"supplier" yaml:"supplier"`
	Category ScopeRule `json:"category" yaml:"category"`
}

// Rule returns the rule for dimension d.
func (s Scope) Rule(d Dimension) ScopeRule {
	switch d {
	case DimProject:
		return s.Project
	case DimBureau:
		return s.Bureau
	case DimSupplier:
		return s.Supplier
	case DimCategory:
		return s.Category
	default:
		return ScopeRule{}
	}
}

// Control is a gate that must be cleared before a PENDING_CONTROL usage executes.
type Control string

const (
	ControlDualControl  Control = "requiresDualControl"
	ControlLegalReview  Control = "requiresLegalReview"
	ControlFinanceCheck Control = "requiresFinanceCheck"
	ControlStepUpAuth   Control = "stepUpAuth"
)

// Controls are the boolean control flags of a policy.
type Controls struct {
	DualControl  bool `json:"requires_dual_control"  yaml:"requires_dual_control"`
	LegalReview  bool `json:"requires_legal_review"  yaml:"requires_legal_review"`
	FinanceCheck bool `json:"requires_finance_check" yaml:"requires_finance_check"`
	StepUpAuth   bool `json:"step_up_auth"           yaml:"step_up_auth"`
}

// Required lists the set flags in fixed order.
func (c Controls) Required() []Control {
	var out []Control
	if c.DualControl {
		out = append(out, ControlDualControl)
	}
	if c.LegalReview {
		out = append(out, ControlLegalReview)
	}
	if c.FinanceCheck {
		out = append(out, ControlFinanceCheck)
	}
	if c.StepUpAuth {
		out = append(out, ControlStepUpAuth)
	}
	return out
}

// Policy is one rule set of a delegation, governing a single action kind.
type Policy struct {
	ID           string     `json:"id"`
	DelegationID string     `json:"delegation_id"`
	Action       ActionKind `json:"action"`
	// MaxAmount is the per-use ceiling; zero means none.
	MaxAmount int64     `json:"max_amount"`
	Currency  string    `json:"currency,omitempty"`
	Scope     Scope     `json:"scope"`
	Controls  Controls  `json:"controls"`
	CreatedAt time.Time `json:"created_at"`
}

// SameCurrency compares ISO currency codes case-insensitively.
func SameCurrency(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
