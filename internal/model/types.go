package model

import "time"

// Status is the lifecycle state of a delegation.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// Verdict is the authorization outcome for one action request.
type Verdict string

const (
	Authorized     Verdict = "AUTHORIZED"
	Denied         Verdict = "DENIED"
	PendingControl Verdict = "PENDING_CONTROL"
)

// RiskLevel grades how close a request sits to its limits.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskRank maps risk to a comparable integer for monotonic escalation.
var RiskRank = map[RiskLevel]int{
	RiskLow:    0,
	RiskMedium: 1,
	RiskHigh:   2,
}

// ActionKind names the kind of act a policy governs ("sign", "pay", "approve-purchase").
type ActionKind string

const (
	ActionSign            ActionKind = "sign"
	ActionPay             ActionKind = "pay"
	ActionApprovePurchase ActionKind = "approve-purchase"
)

// EventType enumerates the chained mutations a delegation can undergo.
type EventType string

const (
	EventPolicyAdded   EventType = "POLICY_ADDED"
	EventPolicyRemoved EventType = "POLICY_REMOVED"
	EventUsed          EventType = "USED"
	EventSuspended     EventType = "SUSPENDED"
	EventReactivated   EventType = "REACTIVATED"
	EventRevoked       EventType = "REVOKED"
	EventExpired       EventType = "EXPIRED"
)

// TimestampFormat is the layout used whenever a time enters a hash payload or a store.
const TimestampFormat = time.RFC3339Nano

// FormatTime renders t in UTC with TimestampFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTime is the inverse of FormatTime. Empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimestampFormat, s)
}
