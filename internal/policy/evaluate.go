package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/mandate/internal/budget"
	"github.com/ppiankov/mandate/internal/model"
)

// Evaluate decides whether ctx is authorized under d and its policies. It is pure: the
// delegation and policies are never modified and nothing is written.
//
// Evaluation order (must not be changed):
//  1. Lifecycle and validity window
//  2. Policy selection for the action kind
//  3. Scope deny-lists, then allow-lists
//  4. Per-use ceiling (and its currency)
//  5. Aggregate ceiling (and its currency)
//  6. Control requirements
//  7. Authorized
func Evaluate(d model.Delegation, policies []model.Policy, ctx model.ActionContext) model.Evaluation {
	eval := newEvaluation()

	// Step 1: lifecycle
	if d.Status != model.StatusActive {
		return eval.deny(model.ReasonInactive, fmt.Sprintf("delegation %s is %s", d.ID, d.Status))
	}
	if !d.InWindow(ctx.Timestamp) {
		return eval.deny(model.ReasonOutsideWindow, fmt.Sprintf("request at %s is outside validity window %s to %s",
			model.FormatTime(ctx.Timestamp), model.FormatTime(d.StartsAt), model.FormatTime(d.EndsAt)))
	}

	// Step 2: policy selection
	p, candidates, ok := Select(policies, ctx)
	if !ok {
		return eval.deny(model.ReasonNoPolicy, fmt.Sprintf("no policy covers action %q", ctx.Action))
	}
	eval.PolicyID = p.ID
	if candidates > 1 {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("policy %s selected among %d policies for %q by scope specificity", p.ID, candidates, ctx.Action))
	}
	eval.RiskLevel, eval.Recommendations = assessRisk(d, p, ctx)

	// Step 3: scope
	if dim, val, denied := deniedDimension(p.Scope, ctx); denied {
		return eval.deny(model.ReasonScopeDenied, fmt.Sprintf("%s %q is on the deny-list of policy %s", dim, val, p.ID))
	}
	if dim, val, missing := notAllowedDimension(p.Scope, ctx); missing {
		return eval.deny(model.ReasonScopeNotAllowed, fmt.Sprintf("%s %q is not on the allow-list of policy %s", dim, val, p.ID))
	}

	// Step 4: per-use ceiling
	perUse := budget.Stricter(p.MaxAmount, d.MaxAmountPerUse)
	if perUse > 0 && ctx.Amount > 0 {
		if want, ok := perUseCurrency(d, p, ctx); !ok {
			return eval.deny(model.ReasonCurrencyMismatch, fmt.Sprintf("currency %s does not match per-use ceiling currency %s", ctx.Currency, want))
		}
		if res := budget.CheckPerUse(ctx.Amount, p.MaxAmount, d.MaxAmountPerUse); res.Exceeded {
			return eval.deny(model.ReasonPerUseCeiling, fmt.Sprintf("amount %d exceeds per-use ceiling %d %s", res.Current, res.Limit, ceilingCurrency(d, p)))
		}
	}

	// Step 5: aggregate ceiling
	if d.MaxTotalAmount > 0 && ctx.Amount > 0 {
		if !model.SameCurrency(ctx.Currency, d.Currency) {
			return eval.deny(model.ReasonCurrencyMismatch, fmt.Sprintf("currency %s does not match aggregate ceiling currency %s", ctx.Currency, d.Currency))
		}
		if res := budget.CheckAggregate(d.UsageTotalAmount, ctx.Amount, d.MaxTotalAmount); res.Exceeded {
			return eval.deny(model.ReasonAggregateCeiling, fmt.Sprintf("total %d would exceed aggregate ceiling %d %s (used %d)", res.Current, res.Limit, d.Currency, d.UsageTotalAmount))
		}
	}

	// Step 6: controls
	if controls := p.Controls.Required(); len(controls) > 0 {
		names := make([]string, len(controls))
		for i, c := range controls {
			names[i] = string(c)
		}
		eval.Allowed = true
		eval.Result = model.PendingControl
		eval.Code = model.ReasonControlsRequired
		eval.Controls = controls
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("policy %s requires %s", p.ID, strings.Join(names, ", ")))
		return eval.Evaluation
	}

	// Step 7
	eval.Allowed = true
	eval.Result = model.Authorized
	eval.Code = model.ReasonWithinPolicy
	eval.Reasons = append(eval.Reasons, fmt.Sprintf("within policy %s", p.ID))
	return eval.Evaluation
}

type evaluation struct {
	model.Evaluation
}

func newEvaluation() *evaluation {
	return &evaluation{model.Evaluation{
		Reasons:         []string{},
		Controls:        []model.Control{},
		RiskLevel:       model.RiskLow,
		Recommendations: []string{},
	}}
}

func (e *evaluation) deny(code model.ReasonCode, reason string) model.Evaluation {
	e.Allowed = false
	e.Result = model.Denied
	e.Code = code
	e.Reasons = append(e.Reasons, reason)
	if code == model.ReasonInactive || code == model.ReasonOutsideWindow || code == model.ReasonNoPolicy {
		e.RiskLevel = model.RiskHigh
	}
	return e.Evaluation
}

// perUseCurrency checks ctx against the currency of every ceiling that
// contributes to the per-use limit. ok is false on mismatch; want names the expected code.
func perUseCurrency(d model.Delegation, p model.Policy, ctx model.ActionContext) (want string, ok bool) {
	if p.MaxAmount > 0 {
		want = ceilingCurrency(d, p)
		if want != "" && !model.SameCurrency(ctx.Currency, want) {
			return want, false
		}
	}
	if d.MaxAmountPerUse > 0 && d.Currency != "" && !model.SameCurrency(ctx.Currency, d.Currency) {
		return d.Currency, false
	}
	return want, true
}

// ceilingCurrency is the policy's currency, falling back to the delegation's.
func ceilingCurrency(d model.Delegation, p model.Policy) string {
	if strings.TrimSpace(p.Currency) != "" {
		return p.Currency
	}
	return d.Currency
}
