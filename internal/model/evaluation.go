package model

// ReasonCode is the enumerable cause attached to every verdict.
type ReasonCode string

const (
	ReasonInactive         ReasonCode = "INACTIVE"
	ReasonOutsideWindow    ReasonCode = "OUTSIDE_VALIDITY_WINDOW"
	ReasonNoPolicy         ReasonCode = "NO_POLICY"
	ReasonScopeDenied      ReasonCode = "SCOPE_DENIED"
	ReasonScopeNotAllowed  ReasonCode = "SCOPE_NOT_ALLOWED"
	ReasonCurrencyMismatch ReasonCode = "CURRENCY_MISMATCH"
	ReasonPerUseCeiling    ReasonCode = "PER_USE_CEILING"
	ReasonAggregateCeiling ReasonCode = "AGGREGATE_CEILING"
	ReasonControlsRequired ReasonCode = "CONTROLS_REQUIRED"
	ReasonWithinPolicy     ReasonCode = "WITHIN_POLICY"
)

// Evaluation is the transient output of the policy evaluator.
type Evaluation struct {
	Allowed         bool       `json:"allowed"`
	Result          Verdict    `json:"result"`
	Code            ReasonCode `json:"code"`
	Reasons         []string   `json:"reasons"`
	Controls        []Control  `json:"controls"`
	RiskLevel       RiskLevel  `json:"risk_level"`
	Recommendations []string   `json:"recommendations"`
	PolicyID        string     `json:"policy_id,omitempty"`
}
