package budget

import (
	"fmt"
	"math"
)

// Dimension names the ceiling a check was run against.
type Dimension string

const (
	PerUse    Dimension = "per_use"
	Aggregate Dimension = "aggregate"
)

// CheckResult is the outcome of a ceiling check.
type CheckResult struct {
	Exceeded  bool
	Dimension Dimension
	Current   int64
	Limit     int64
	Reason    string
}

// Check reports whether amount goes over limit. A limit of zero or less is unlimited.
// Reaching the limit exactly is allowed.
func Check(amount, limit int64, dim Dimension) CheckResult {
	if limit <= 0 || amount <= limit {
		return CheckResult{Dimension: dim, Current: amount, Limit: limit}
	}
	return CheckResult{
		Exceeded:  true,
		Dimension: dim,
		Current:   amount,
		Limit:     limit,
		Reason:    fmt.Sprintf("%s ceiling exceeded: %d > %d", dim, amount, limit),
	}
}

// CheckPerUse checks a single request against the stricter of the policy and delegation
// per-use ceilings.
func CheckPerUse(amount, policyMax, delegationMax int64) CheckResult {
	return Check(amount, Stricter(policyMax, delegationMax), PerUse)
}

// CheckAggregate checks that used+amount stays within the aggregate ceiling without
// computing a sum that could wrap.
func CheckAggregate(used, amount, maxTotal int64) CheckResult {
	total := SaturatingAdd(used, amount)
	if maxTotal <= 0 || amount <= maxTotal-used {
		return CheckResult{Dimension: Aggregate, Current: total, Limit: maxTotal}
	}
	return CheckResult{
		Exceeded:  true,
		Dimension: Aggregate,
		Current:   total,
		Limit:     maxTotal,
		Reason:    fmt.Sprintf("%s ceiling exceeded: %d + %d > %d", Aggregate, used, amount, maxTotal),
	}
}

// SaturatingAdd returns a+b for non-negative operands, clamped to math.MaxInt64.
func SaturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// Stricter returns the smaller positive limit, or zero when neither limits anything.
func Stricter(a, b int64) int64 {
	switch {
	case a <= 0:
		return max(b, 0)
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// Utilization returns used/limit. An unlimited ceiling reports zero.
func Utilization(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit)
}
