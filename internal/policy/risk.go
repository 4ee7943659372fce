package policy

import (
	"fmt"
	"time"

	"github.com/ppiankov/mandate/internal/budget"
	"github.com/ppiankov/mandate/internal/model"
)

const (
	// HighRiskRatio and MediumRiskRatio grade how close a request sits to a ceiling.
	HighRiskRatio   = 0.9
	MediumRiskRatio = 0.6

	// renewalHorizon is how close to EndsAt a renewal is recommended.
	renewalHorizon = 14 * 24 * time.Hour
)

// assessRisk grades ctx against the ceilings of d and p and collects advisory text.
// Risk only ever escalates.
func assessRisk(d model.Delegation, p model.Policy, ctx model.ActionContext) (model.RiskLevel, []string) {
	level := model.RiskLow
	recs := []string{}
	raise := func(to model.RiskLevel) {
		if model.RiskRank[to] > model.RiskRank[level] {
			level = to
		}
	}

	perUse := budget.Utilization(ctx.Amount, budget.Stricter(p.MaxAmount, d.MaxAmountPerUse))
	aggregate := budget.Utilization(budget.SaturatingAdd(d.UsageTotalAmount, ctx.Amount), d.MaxTotalAmount)
	ratio := max(perUse, aggregate)
	switch {
	case ratio >= HighRiskRatio:
		raise(model.RiskHigh)
	case ratio >= MediumRiskRatio:
		raise(model.RiskMedium)
	}

	if perUse >= HighRiskRatio && perUse <= 1 {
		recs = append(recs, fmt.Sprintf("amount is %.0f%% of the per-use ceiling; consider an additional review", perUse*100))
	}
	if aggregate >= HighRiskRatio && aggregate <= 1 {
		recs = append(recs, fmt.Sprintf("delegation would reach %.0f%% of its aggregate ceiling; ask the grantor about renewal or an increase", aggregate*100))
	}

	if dim, entry, ok := nearMiss(p.Scope, ctx); ok {
		raise(model.RiskMedium)
		recs = append(recs, fmt.Sprintf("%s %q resembles denied entry %q; confirm the counterparty", dim, ctx.Value(dim), entry))
	}

	if left := d.EndsAt.Sub(ctx.Timestamp); left >= 0 && left <= renewalHorizon {
		recs = append(recs, fmt.Sprintf("delegation expires in %d days", int(left.Hours()/24)))
	}
	return level, recs
}
