package policy

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/mandate/internal/model"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testDelegation() model.Delegation {
	return model.Delegation{
		ID:             "dlg_1",
		GrantorID:      "dg-finance",
		DelegateID:     "daf-adjoint",
		Bureau:         "BF-OUAGA",
		StartsAt:       now.Add(-30 * 24 * time.Hour),
		EndsAt:         now.Add(60 * 24 * time.Hour),
		MaxTotalAmount: 100_000_000,
		Currency:       "XOF",
		Status:         model.StatusActive,
	}
}

func payPolicy() model.Policy {
	return model.Policy{
		ID:           "pol_pay",
		DelegationID: "dlg_1",
		Action:       model.ActionPay,
		MaxAmount:    10_000_000,
		Currency:     "XOF",
		CreatedAt:    now.Add(-time.Hour),
	}
}

func payContext(amount int64) model.ActionContext {
	return model.ActionContext{
		DelegationID: "dlg_1",
		Action:       model.ActionPay,
		Amount:       amount,
		Currency:     "XOF",
		Bureau:       "BF-OUAGA",
		Project:      "PRJ-WATER",
		Supplier:     "sahel-pumps",
		Category:     "equipment",
		DocumentRef:  "INV-2025-0042",
		DocumentType: "invoice",
		RequesterID:  "daf-adjoint",
		Timestamp:    now,
	}
}

func TestWithinCeilingAuthorized(t *testing.T) {
	result := Evaluate(testDelegation(), []model.Policy{payPolicy()}, payContext(5_000_000))

	if result.Result != model.Authorized {
		t.Fatalf("expected AUTHORIZED, got %s (%v)", result.Result, result.Reasons)
	}
	if !result.Allowed {
		t.Error("expected allowed=true")
	}
	if result.Code != model.ReasonWithinPolicy {
		t.Errorf("expected WITHIN_POLICY, got %s", result.Code)
	}
	if result.PolicyID != "pol_pay" {
		t.Errorf("expected pol_pay, got %s", result.PolicyID)
	}
	if len(result.Controls) != 0 {
		t.Errorf("expected no controls, got %v", result.Controls)
	}
}

func TestOverPerUseCeilingDenied(t *testing.T) {
	result := Evaluate(testDelegation(), []model.Policy{payPolicy()}, payContext(15_000_000))

	if result.Result != model.Denied {
		t.Fatalf("expected DENIED, got %s", result.Result)
	}
	if result.Allowed {
		t.Error("expected allowed=false")
	}
	if result.Code != model.ReasonPerUseCeiling {
		t.Errorf("expected PER_USE_CEILING, got %s", result.Code)
	}
	if !strings.Contains(result.Reasons[len(result.Reasons)-1], "per-use ceiling") {
		t.Errorf("expected reason to reference per-use ceiling, got %v", result.Reasons)
	}
	if result.RiskLevel != model.RiskHigh {
		t.Errorf("expected high risk above the ceiling, got %s", result.RiskLevel)
	}
}

func TestDualControlPending(t *testing.T) {
	p := payPolicy()
	p.Controls.DualControl = true

	result := Evaluate(testDelegation(), []model.Policy{p}, payContext(5_000_000))

	if result.Result != model.PendingControl {
		t.Fatalf("expected PENDING_CONTROL, got %s", result.Result)
	}
	if !result.Allowed {
		t.Error("expected allowed=true for gated result")
	}
	want := []model.Control{model.ControlDualControl}
	if !reflect.DeepEqual(result.Controls, want) {
		t.Errorf("expected controls %v, got %v", want, result.Controls)
	}
}

func TestControlsListedInFixedOrder(t *testing.T) {
	p := payPolicy()
	p.Controls = model.Controls{StepUpAuth: true, FinanceCheck: true, LegalReview: true, DualControl: true}

	result := Evaluate(testDelegation(), []model.Policy{p}, payContext(1_000))

	want := []model.Control{
		model.ControlDualControl,
		model.ControlLegalReview,
		model.ControlFinanceCheck,
		model.ControlStepUpAuth,
	}
	if !reflect.DeepEqual(result.Controls, want) {
		t.Errorf("expected controls %v, got %v", want, result.Controls)
	}
}

func TestInactiveDenied(t *testing.T) {
	for _, status := range []model.Status{model.StatusSuspended, model.StatusExpired, model.StatusRevoked} {
		d := testDelegation()
		d.Status = status
		result := Evaluate(d, []model.Policy{payPolicy()}, payContext(1_000))
		if result.Code != model.ReasonInactive {
			t.Errorf("%s: expected INACTIVE, got %s", status, result.Code)
		}
	}
}

func TestOutsideWindowDenied(t *testing.T) {
	d := testDelegation()

	before := payContext(1_000)
	before.Timestamp = d.StartsAt.Add(-time.Second)
	if got := Evaluate(d, []model.Policy{payPolicy()}, before).Code; got != model.ReasonOutsideWindow {
		t.Errorf("expected OUTSIDE_VALIDITY_WINDOW before start, got %s", got)
	}

	after := payContext(1_000)
	after.Timestamp = d.EndsAt.Add(time.Second)
	if got := Evaluate(d, []model.Policy{payPolicy()}, after).Code; got != model.ReasonOutsideWindow {
		t.Errorf("expected OUTSIDE_VALIDITY_WINDOW after end, got %s", got)
	}

	edge := payContext(1_000)
	edge.Timestamp = d.EndsAt
	if got := Evaluate(d, []model.Policy{payPolicy()}, edge).Result; got != model.Authorized {
		t.Errorf("expected window to be inclusive, got %s", got)
	}
}

func TestNoPolicyDenied(t *testing.T) {
	ctx := payContext(1_000)
	ctx.Action = model.ActionSign

	result := Evaluate(testDelegation(), []model.Policy{payPolicy()}, ctx)
	if result.Code != model.ReasonNoPolicy {
		t.Fatalf("expected NO_POLICY, got %s", result.Code)
	}
	if result.PolicyID != "" {
		t.Errorf("expected no selected policy, got %s", result.PolicyID)
	}

	if got := Evaluate(testDelegation(), nil, payContext(1_000)).Code; got != model.ReasonNoPolicy {
		t.Errorf("expected NO_POLICY without policies, got %s", got)
	}
}

func TestScopeDenyMatch(t *testing.T) {
	p := payPolicy()
	p.Scope.Supplier.Deny = []string{"  SAHEL-PUMPS "}

	result := Evaluate(testDelegation(), []model.Policy{p}, payContext(1_000))
	if result.Code != model.ReasonScopeDenied {
		t.Fatalf("expected SCOPE_DENIED, got %s", result.Code)
	}
	if !strings.Contains(result.Reasons[0], "supplier") {
		t.Errorf("expected reason to name the dimension, got %v", result.Reasons)
	}
}

func TestScopeAllowListMiss(t *testing.T) {
	p := payPolicy()
	p.Scope.Project.Allow = []string{"PRJ-ROADS"}

	result := Evaluate(testDelegation(), []model.Policy{p}, payContext(1_000))
	if result.Code != model.ReasonScopeNotAllowed {
		t.Fatalf("expected SCOPE_NOT_ALLOWED, got %s", result.Code)
	}
}

func TestScopeAllowListRequiresValue(t *testing.T) {
	p := payPolicy()
	p.Scope.Category.Allow = []string{"equipment"}
	ctx := payContext(1_000)
	ctx.Category = ""

	if got := Evaluate(testDelegation(), []model.Policy{p}, ctx).Code; got != model.ReasonScopeNotAllowed {
		t.Errorf("expected absent value to miss a non-empty allow-list, got %s", got)
	}
}

func TestDenyCheckedBeforeAllow(t *testing.T) {
	p := payPolicy()
	p.Scope.Project.Allow = []string{"PRJ-ROADS"}
	p.Scope.Category.Deny = []string{"equipment"}

	if got := Evaluate(testDelegation(), []model.Policy{p}, payContext(1_000)).Code; got != model.ReasonScopeDenied {
		t.Errorf("expected deny-list to win over allow-list miss, got %s", got)
	}
}

func TestScopeCheckedBeforeCeiling(t *testing.T) {
	p := payPolicy()
	p.Scope.Bureau.Deny = []string{"BF-OUAGA"}

	if got := Evaluate(testDelegation(), []model.Policy{p}, payContext(50_000_000)).Code; got != model.ReasonScopeDenied {
		t.Errorf("expected scope denial before ceiling, got %s", got)
	}
}

func TestDelegationPerUseCeilingApplies(t *testing.T) {
	d := testDelegation()
	d.MaxAmountPerUse = 2_000_000

	result := Evaluate(d, []model.Policy{payPolicy()}, payContext(5_000_000))
	if result.Code != model.ReasonPerUseCeiling {
		t.Fatalf("expected delegation ceiling to apply, got %s", result.Code)
	}
	if !strings.Contains(result.Reasons[0], "2000000") {
		t.Errorf("expected reason to name the stricter ceiling, got %v", result.Reasons)
	}
}

func TestCurrencyMismatchDenied(t *testing.T) {
	ctx := payContext(1_000)
	ctx.Currency = "EUR"

	result := Evaluate(testDelegation(), []model.Policy{payPolicy()}, ctx)
	if result.Code != model.ReasonCurrencyMismatch {
		t.Fatalf("expected CURRENCY_MISMATCH, got %s", result.Code)
	}
}

func TestCurrencyMismatchOnAggregateOnly(t *testing.T) {
	p := payPolicy()
	p.MaxAmount = 0
	p.Currency = ""
	ctx := payContext(1_000)
	ctx.Currency = "EUR"

	if got := Evaluate(testDelegation(), []model.Policy{p}, ctx).Code; got != model.ReasonCurrencyMismatch {
		t.Errorf("expected aggregate currency mismatch, got %s", got)
	}
}

func TestCurrencyCaseInsensitive(t *testing.T) {
	ctx := payContext(1_000)
	ctx.Currency = "xof"
	if got := Evaluate(testDelegation(), []model.Policy{payPolicy()}, ctx).Result; got != model.Authorized {
		t.Errorf("expected currency comparison to ignore case, got %s", got)
	}
}

func TestZeroAmountSkipsCeilings(t *testing.T) {
	p := payPolicy()
	p.Action = model.ActionSign
	ctx := payContext(0)
	ctx.Action = model.ActionSign
	ctx.Currency = ""

	if got := Evaluate(testDelegation(), []model.Policy{p}, ctx).Result; got != model.Authorized {
		t.Errorf("expected signing without amount to pass, got %s", got)
	}
}

func TestAggregateCeiling(t *testing.T) {
	d := testDelegation()
	d.UsageTotalAmount = 96_000_000

	result := Evaluate(d, []model.Policy{payPolicy()}, payContext(5_000_000))
	if result.Code != model.ReasonAggregateCeiling {
		t.Fatalf("expected AGGREGATE_CEILING, got %s", result.Code)
	}

	if got := Evaluate(d, []model.Policy{payPolicy()}, payContext(4_000_000)).Result; got != model.Authorized {
		t.Errorf("expected exact fill to pass, got %s", got)
	}
}

func TestCeilingCheckedBeforeControls(t *testing.T) {
	p := payPolicy()
	p.Controls.DualControl = true

	if got := Evaluate(testDelegation(), []model.Policy{p}, payContext(15_000_000)).Result; got != model.Denied {
		t.Errorf("expected ceiling denial to win over controls, got %s", got)
	}
}

// --- Precedence tests ---

func TestMostSpecificPolicyWins(t *testing.T) {
	general := payPolicy()
	general.ID = "pol_general"
	general.MaxAmount = 1_000_000
	general.CreatedAt = now.Add(-48 * time.Hour)

	specific := payPolicy()
	specific.ID = "pol_specific"
	specific.Scope.Project.Allow = []string{"PRJ-WATER"}
	specific.Scope.Supplier.Allow = []string{"sahel-pumps"}
	specific.CreatedAt = now.Add(-time.Hour)

	result := Evaluate(testDelegation(), []model.Policy{general, specific}, payContext(5_000_000))
	if result.PolicyID != "pol_specific" {
		t.Fatalf("expected specific policy, got %s", result.PolicyID)
	}
	if result.Result != model.Authorized {
		t.Errorf("expected AUTHORIZED under the specific policy, got %s", result.Result)
	}
	if !strings.Contains(result.Reasons[0], "selected among 2") {
		t.Errorf("expected selection reason, got %v", result.Reasons)
	}
}

func TestPrecedenceTieBreaksByCreation(t *testing.T) {
	older := payPolicy()
	older.ID = "pol_b"
	older.CreatedAt = now.Add(-2 * time.Hour)
	newer := payPolicy()
	newer.ID = "pol_a"
	newer.CreatedAt = now.Add(-time.Hour)

	for _, order := range [][]model.Policy{{older, newer}, {newer, older}} {
		if got := Evaluate(testDelegation(), order, payContext(1_000)).PolicyID; got != "pol_b" {
			t.Errorf("expected earliest created policy, got %s", got)
		}
	}

	newer.CreatedAt = older.CreatedAt
	if got := Evaluate(testDelegation(), []model.Policy{older, newer}, payContext(1_000)).PolicyID; got != "pol_a" {
		t.Errorf("expected smallest id on equal creation time, got %s", got)
	}
}

func TestSelectIgnoresOtherActions(t *testing.T) {
	sign := payPolicy()
	sign.ID = "pol_sign"
	sign.Action = model.ActionSign
	sign.Scope.Project.Allow = []string{"PRJ-WATER"}

	p, n, ok := Select([]model.Policy{sign, payPolicy()}, payContext(1_000))
	if !ok || p.ID != "pol_pay" || n != 1 {
		t.Errorf("expected only pay policy to match, got %s (%d)", p.ID, n)
	}
}

// --- Risk tests ---

func TestRiskFromPerUseRatio(t *testing.T) {
	tests := []struct {
		amount int64
		want   model.RiskLevel
	}{
		{1_000_000, model.RiskLow},
		{6_000_000, model.RiskMedium},
		{9_000_000, model.RiskHigh},
		{10_000_000, model.RiskHigh},
	}
	for _, tt := range tests {
		if got := Evaluate(testDelegation(), []model.Policy{payPolicy()}, payContext(tt.amount)).RiskLevel; got != tt.want {
			t.Errorf("amount %d: expected %s, got %s", tt.amount, tt.want, got)
		}
	}
}

func TestRiskFromAggregateRatio(t *testing.T) {
	d := testDelegation()
	d.UsageTotalAmount = 89_000_000

	result := Evaluate(d, []model.Policy{payPolicy()}, payContext(1_000_000))
	if result.RiskLevel != model.RiskHigh {
		t.Errorf("expected high risk at 90%% aggregate, got %s", result.RiskLevel)
	}
	if len(result.Recommendations) == 0 {
		t.Error("expected a recommendation near the aggregate ceiling")
	}
}

func TestRiskDenyListNearMiss(t *testing.T) {
	p := payPolicy()
	p.Scope.Supplier.Deny = []string{"sahel"}

	result := Evaluate(testDelegation(), []model.Policy{p}, payContext(1_000))
	if result.Result != model.Authorized {
		t.Fatalf("expected near miss to stay authorized, got %s", result.Result)
	}
	if result.RiskLevel != model.RiskMedium {
		t.Errorf("expected medium risk for near miss, got %s", result.RiskLevel)
	}
	found := false
	for _, r := range result.Recommendations {
		if strings.Contains(r, "resembles") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected near-miss recommendation, got %v", result.Recommendations)
	}
}

func TestRenewalRecommendation(t *testing.T) {
	d := testDelegation()
	d.EndsAt = now.Add(5 * 24 * time.Hour)

	result := Evaluate(d, []model.Policy{payPolicy()}, payContext(1_000))
	if len(result.Recommendations) != 1 || !strings.Contains(result.Recommendations[0], "expires in 5 days") {
		t.Errorf("expected renewal recommendation, got %v", result.Recommendations)
	}
}

func TestEvaluateDoesNotMutateInputs(t *testing.T) {
	d := testDelegation()
	policies := []model.Policy{payPolicy(), payPolicy()}
	policies[1].ID = "pol_other"
	policies[1].Scope.Project.Allow = []string{"PRJ-WATER"}
	dCopy := d
	pCopy := append([]model.Policy(nil), policies...)

	Evaluate(d, policies, payContext(5_000_000))

	if !reflect.DeepEqual(d, dCopy) {
		t.Error("delegation was modified")
	}
	if !reflect.DeepEqual(policies, pCopy) {
		t.Error("policies were modified or reordered")
	}
}

func TestAggregateCeilingNearMaxInt64Denied(t *testing.T) {
	d := testDelegation()
	d.UsageTotalAmount = 50_000_000
	p := payPolicy()
	p.MaxAmount = 0

	result := Evaluate(d, []model.Policy{p}, payContext(math.MaxInt64-1))
	if result.Result != model.Denied || result.Code != model.ReasonAggregateCeiling {
		t.Fatalf("expected DENIED %s, got %s %s %v", model.ReasonAggregateCeiling, result.Result, result.Code, result.Reasons)
	}
	if result.Allowed {
		t.Error("expected allowed=false")
	}
	if result.RiskLevel != model.RiskHigh {
		t.Errorf("expected high risk, got %s", result.RiskLevel)
	}
}
