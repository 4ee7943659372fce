package policy

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ppiankov/mandate/internal/budget"
	"github.com/ppiankov/mandate/internal/model"
)

func genControls() gopter.Gen {
	return gopter.CombineGens(gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool()).Map(func(v []any) model.Controls {
		return model.Controls{
			DualControl:  v[0].(bool),
			LegalReview:  v[1].(bool),
			FinanceCheck: v[2].(bool),
			StepUpAuth:   v[3].(bool),
		}
	})
}

func TestEvaluateDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs yield identical evaluations", prop.ForAll(
		func(amount, policyMax, used int64, controls model.Controls, supplier string) bool {
			d := testDelegation()
			d.UsageTotalAmount = used
			p := payPolicy()
			p.MaxAmount = policyMax
			p.Controls = controls
			p.Scope.Supplier.Deny = []string{supplier}
			ctx := payContext(amount)

			first := Evaluate(d, []model.Policy{p}, ctx)
			second := Evaluate(d, []model.Policy{p}, ctx)
			return reflect.DeepEqual(first, second)
		},
		gen.Int64Range(0, 200_000_000),
		gen.Int64Range(0, 50_000_000),
		gen.Int64Range(0, 100_000_000),
		genControls(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestNoSilentBypass(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("amount above the applicable ceiling is always denied", prop.ForAll(
		func(policyMax, delegationMax, over int64, controls model.Controls) bool {
			d := testDelegation()
			d.MaxTotalAmount = 0
			d.MaxAmountPerUse = delegationMax
			p := payPolicy()
			p.MaxAmount = policyMax
			p.Controls = controls

			limit := budget.Stricter(policyMax, delegationMax)
			result := Evaluate(d, []model.Policy{p}, payContext(limit+over))
			return result.Result == model.Denied && !result.Allowed && result.Code == model.ReasonPerUseCeiling
		},
		gen.Int64Range(1, 50_000_000),
		gen.Int64Range(0, 50_000_000),
		gen.Int64Range(1, 50_000_000),
		genControls(),
	))

	properties.Property("aggregate overflow is always denied", prop.ForAll(
		func(used, amount int64, controls model.Controls) bool {
			d := testDelegation()
			d.UsageTotalAmount = used
			p := payPolicy()
			p.MaxAmount = 0
			p.Controls = controls

			result := Evaluate(d, []model.Policy{p}, payContext(amount))
			if amount > d.MaxTotalAmount-used {
				return result.Result == model.Denied && result.Code == model.ReasonAggregateCeiling
			}
			return result.Allowed
		},
		gen.Int64Range(0, 100_000_000),
		gen.OneGenOf(
			gen.Int64Range(1, 50_000_000),
			gen.Int64Range(math.MaxInt64-1_000_000_000, math.MaxInt64),
		),
		genControls(),
	))

	properties.TestingRun(t)
}

func TestVerdictIndependentOfPolicyOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("policy order does not change the selected policy", prop.ForAll(
		func(offsets []int64) bool {
			var policies []model.Policy
			for i, off := range offsets {
				p := payPolicy()
				p.ID = "pol_" + string(rune('a'+i%26)) + string(rune('a'+i/26))
				p.CreatedAt = now.Add(-time.Duration(off) * time.Minute)
				policies = append(policies, p)
			}
			reversed := make([]model.Policy, len(policies))
			for i := range policies {
				reversed[len(policies)-1-i] = policies[i]
			}
			ctx := payContext(1_000)
			return Evaluate(testDelegation(), policies, ctx).PolicyID == Evaluate(testDelegation(), reversed, ctx).PolicyID
		},
		gen.SliceOfN(8, gen.Int64Range(0, 5)),
	))

	properties.TestingRun(t)
}
