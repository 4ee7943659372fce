package model

import "time"

// Delegation is a scoped, time-bounded grant of authority from a grantor to a delegate.
// GenesisHash never changes after creation; HeadHash always equals the tip of the
// delegation's event chain.
type Delegation struct {
	ID         string `json:"id"`
	GrantorID  string `json:"grantor_id"`
	DelegateID string `json:"delegate_id"`
	Bureau     string `json:"bureau"`

	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`

	// Zero ceilings mean no limit on that dimension.
	MaxAmountPerUse int64  `json:"max_amount_per_use"`
	MaxTotalAmount  int64  `json:"max_total_amount"`
	Currency        string `json:"currency"`

	Status          Status    `json:"status"`
	StatusChangedAt time.Time `json:"status_changed_at"`

	UsageCount       int64      `json:"usage_count"`
	UsageTotalAmount int64      `json:"usage_total_amount"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	LastUsedFor      string     `json:"last_used_for,omitempty"`
	LastUsedAmount   int64      `json:"last_used_amount,omitempty"`

	GenesisHash string `json:"genesis_hash"`
	HeadHash    string `json:"head_hash"`
	// NextSeq is the sequence number the next appended event will carry.
	NextSeq int64 `json:"next_seq"`

	CreatedAt time.Time `json:"created_at"`
}

// InWindow reports whether t falls inside [StartsAt, EndsAt].
func (d Delegation) InWindow(t time.Time) bool {
	return !t.Before(d.StartsAt) && !t.After(d.EndsAt)
}

// RemainingTotal returns how much of the aggregate ceiling is left, or -1 when unlimited.
func (d Delegation) RemainingTotal() int64 {
	if d.MaxTotalAmount <= 0 {
		return -1
	}
	return d.MaxTotalAmount - d.UsageTotalAmount
}
