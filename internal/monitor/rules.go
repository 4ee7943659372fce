package monitor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ppiankov/mandate/internal/budget"
	"github.com/ppiankov/mandate/internal/model"
)

// Level grades an alert.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelWarning  Level = "WARNING"
	LevelInfo     Level = "INFO"
)

var levelRank = map[Level]int{
	LevelCritical: 0,
	LevelWarning:  1,
	LevelInfo:     2,
}

// Kind names what an alert is about.
type Kind string

const (
	KindExpiringSoon      Kind = "EXPIRING_SOON"
	KindExpired           Kind = "EXPIRED"
	KindThresholdExceeded Kind = "THRESHOLD_EXCEEDED"
	KindThresholdWarning  Kind = "THRESHOLD_WARNING"
	KindPendingControl    Kind = "PENDING_CONTROL"
	KindSuspended         Kind = "SUSPENDED"
)

// Alert is one finding of a monitor run. ID is stable across runs for the same finding.
type Alert struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Level        Level     `json:"level"`
	DelegationID string    `json:"delegation_id"`
	UsageID      string    `json:"usage_id,omitempty"`
	Message      string    `json:"message"`
	At           time.Time `json:"at"`
}

func newAlert(kind Kind, level Level, delegationID, usageID string, at time.Time, format string, args ...any) Alert {
	id := string(kind) + ":" + delegationID
	if usageID != "" {
		id += ":" + usageID
	}
	return Alert{
		ID:           id,
		Kind:         kind,
		Level:        level,
		DelegationID: delegationID,
		UsageID:      usageID,
		Message:      fmt.Sprintf(format, args...),
		At:           at.UTC(),
	}
}

// ExpiryAlert reports an active delegation nearing the end of its window, or one that
// expired within the lookback.
func ExpiryAlert(d model.Delegation, now time.Time, cfg Config) (Alert, bool) {
	switch d.Status {
	case model.StatusActive:
		left := d.EndsAt.Sub(now)
		if left < 0 || left > cfg.ExpiryWindow {
			return Alert{}, false
		}
		level := LevelWarning
		if left <= cfg.ExpiryCritical {
			level = LevelCritical
		}
		return newAlert(KindExpiringSoon, level, d.ID, "", d.EndsAt,
			"delegation %s from %s to %s expires in %s", d.ID, d.GrantorID, d.DelegateID, humanDays(left)), true
	case model.StatusExpired:
		if now.Sub(d.StatusChangedAt) > cfg.ExpiredLookback {
			return Alert{}, false
		}
		return newAlert(KindExpired, LevelWarning, d.ID, "", d.StatusChangedAt,
			"delegation %s from %s to %s expired on %s", d.ID, d.GrantorID, d.DelegateID, d.EndsAt.Format(time.DateOnly)), true
	}
	return Alert{}, false
}

// ThresholdAlert reports aggregate usage at or above the configured ratios.
// Delegations without an aggregate ceiling never alert.
func ThresholdAlert(d model.Delegation, cfg Config) (Alert, bool) {
	if d.Status != model.StatusActive && d.Status != model.StatusSuspended {
		return Alert{}, false
	}
	if d.MaxTotalAmount <= 0 {
		return Alert{}, false
	}
	ratio := budget.Utilization(d.UsageTotalAmount, d.MaxTotalAmount)
	at := d.StatusChangedAt
	if d.LastUsedAt != nil {
		at = *d.LastUsedAt
	}
	pct := percentUsed(d.UsageTotalAmount, d.MaxTotalAmount, ratio)
	switch {
	case ratio >= cfg.ThresholdCritical:
		return newAlert(KindThresholdExceeded, LevelCritical, d.ID, "", at,
			"delegation %s has used %d%% of its ceiling (%d of %d %s)", d.ID, pct, d.UsageTotalAmount, d.MaxTotalAmount, d.Currency), true
	case ratio >= cfg.ThresholdWarning:
		return newAlert(KindThresholdWarning, LevelWarning, d.ID, "", at,
			"delegation %s has used %d%% of its ceiling (%d of %d %s)", d.ID, pct, d.UsageTotalAmount, d.MaxTotalAmount, d.Currency), true
	}
	return Alert{}, false
}

// percentUsed is the whole percentage of limit consumed by used. Totals large enough
// to overflow used*100 fall back to the float ratio.
func percentUsed(used, limit int64, ratio float64) int64 {
	if used <= math.MaxInt64/100 {
		return used * 100 / limit
	}
	if pct := ratio * 100; pct < math.MaxInt64 {
		return int64(pct)
	}
	return math.MaxInt64
}

// PendingAlert reports a usage still waiting on controls.
func PendingAlert(u model.Usage, now time.Time, cfg Config) (Alert, bool) {
	if u.Status != model.PendingControl {
		return Alert{}, false
	}
	age := now.Sub(u.CreatedAt)
	level := LevelWarning
	if age > cfg.PendingCriticalAge {
		level = LevelCritical
	}
	return newAlert(KindPendingControl, level, u.DelegationID, u.ID, u.CreatedAt,
		"%s %s %s of %d %s awaiting controls for %s", u.Context.Action, u.Context.DocumentType, u.Context.DocumentRef,
		u.Context.Amount, u.Context.Currency, age.Truncate(time.Minute)), true
}

// SuspendedAlert reports a delegation that is paused.
func SuspendedAlert(d model.Delegation) (Alert, bool) {
	if d.Status != model.StatusSuspended {
		return Alert{}, false
	}
	return newAlert(KindSuspended, LevelInfo, d.ID, "", d.StatusChangedAt,
		"delegation %s from %s to %s is suspended", d.ID, d.GrantorID, d.DelegateID), true
}

// SortAlerts orders alerts by level, then expiring-soon alerts by nearest expiry, then the
// rest most recent first, then by id.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if levelRank[a.Level] != levelRank[b.Level] {
			return levelRank[a.Level] < levelRank[b.Level]
		}
		// Within a level, expiring-soon alerts come first, soonest expiry first. Their At
		// is EndsAt, so recency order would put the least urgent on top.
		ea, eb := a.Kind == KindExpiringSoon, b.Kind == KindExpiringSoon
		if ea != eb {
			return ea
		}
		if !a.At.Equal(b.At) {
			if ea {
				return a.At.Before(b.At)
			}
			return a.At.After(b.At)
		}
		return a.ID < b.ID
	})
}

// CountByLevel tallies alerts per level, including zero counts.
func CountByLevel(alerts []Alert) map[string]int {
	counts := map[string]int{
		string(LevelCritical): 0,
		string(LevelWarning):  0,
		string(LevelInfo):     0,
	}
	for _, a := range alerts {
		counts[string(a.Level)]++
	}
	return counts
}

func humanDays(d time.Duration) string {
	days := int(d.Hours() / 24)
	switch days {
	case 0:
		return "less than a day"
	case 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", days)
	}
}
