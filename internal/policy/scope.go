package policy

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/mandate/internal/model"
)

// normalize folds a scope value for comparison: trimmed, NFC, lower case.
func normalize(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

func contains(list []string, value string) bool {
	v := normalize(value)
	if v == "" {
		return false
	}
	for _, item := range list {
		if normalize(item) == v {
			return true
		}
	}
	return false
}

// deniedDimension returns the first dimension whose deny-list names the context value.
func deniedDimension(scope model.Scope, ctx model.ActionContext) (model.Dimension, string, bool) {
	for _, dim := range model.Dimensions {
		v := ctx.Value(dim)
		if contains(scope.Rule(dim).Deny, v) {
			return dim, v, true
		}
	}
	return "", "", false
}

// notAllowedDimension returns the first dimension with a non-empty allow-list that does
// not name the context value. An absent value never satisfies an allow-list.
func notAllowedDimension(scope model.Scope, ctx model.ActionContext) (model.Dimension, string, bool) {
	for _, dim := range model.Dimensions {
		rule := scope.Rule(dim)
		if len(rule.Allow) == 0 {
			continue
		}
		v := ctx.Value(dim)
		if !contains(rule.Allow, v) {
			return dim, v, true
		}
	}
	return "", "", false
}

// nearMiss returns the first deny-list entry that partially overlaps the context value
// without equalling it, so "acme" against a value of "acme-holdings".
func nearMiss(scope model.Scope, ctx model.ActionContext) (model.Dimension, string, bool) {
	for _, dim := range model.Dimensions {
		v := normalize(ctx.Value(dim))
		if v == "" {
			continue
		}
		for _, entry := range scope.Rule(dim).Deny {
			e := normalize(entry)
			if e == "" || e == v {
				continue
			}
			if strings.Contains(v, e) || strings.Contains(e, v) {
				return dim, entry, true
			}
		}
	}
	return "", "", false
}

// Specificity counts the dimensions whose allow-list explicitly names the context value.
func Specificity(p model.Policy, ctx model.ActionContext) int {
	n := 0
	for _, dim := range model.Dimensions {
		if contains(p.Scope.Rule(dim).Allow, ctx.Value(dim)) {
			n++
		}
	}
	return n
}

// Select picks the policy that governs ctx. Among policies for the requested action
// kind the most specific wins; ties go to the earliest created, then the smallest id.
// It also returns how many policies matched the action.
func Select(policies []model.Policy, ctx model.ActionContext) (model.Policy, int, bool) {
	action := normalize(string(ctx.Action))
	var candidates []model.Policy
	for _, p := range policies {
		if normalize(string(p.Action)) == action {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return model.Policy{}, 0, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := Specificity(candidates[i], ctx), Specificity(candidates[j], ctx)
		if si != sj {
			return si > sj
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], len(candidates), true
}
