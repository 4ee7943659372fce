package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/model"
)

// transitions maps each event that changes status to the statuses it may leave from
// and the status it produces.
var transitions = map[model.EventType]struct {
	from []model.Status
	to   model.Status
}{
	model.EventSuspended:   {from: []model.Status{model.StatusActive}, to: model.StatusSuspended},
	model.EventReactivated: {from: []model.Status{model.StatusSuspended}, to: model.StatusActive},
	model.EventRevoked:     {from: []model.Status{model.StatusActive, model.StatusSuspended}, to: model.StatusRevoked},
	model.EventExpired:     {from: []model.Status{model.StatusActive, model.StatusSuspended}, to: model.StatusExpired},
}

// Suspend pauses an active delegation. Requests against it are denied until reactivated.
func (s *Service) Suspend(ctx context.Context, delegationID, actor, reason string) (Receipt, error) {
	return s.transition(ctx, delegationID, model.EventSuspended, actor, reason)
}

// Reactivate returns a suspended delegation to active.
func (s *Service) Reactivate(ctx context.Context, delegationID, actor, reason string) (Receipt, error) {
	return s.transition(ctx, delegationID, model.EventReactivated, actor, reason)
}

// Revoke permanently ends a delegation.
func (s *Service) Revoke(ctx context.Context, delegationID, actor, reason string) (Receipt, error) {
	return s.transition(ctx, delegationID, model.EventRevoked, actor, reason)
}

// Expire marks a delegation whose window has closed as expired.
func (s *Service) Expire(ctx context.Context, delegationID string) (Receipt, error) {
	return s.transition(ctx, delegationID, model.EventExpired, SystemActor, "validity window ended")
}

// ExpireDue expires every active or suspended delegation whose window ended before now
// and returns the receipts of those it changed. Failures are joined; one failing
// delegation does not stop the others.
func (s *Service) ExpireDue(ctx context.Context) ([]Receipt, error) {
	delegations, err := s.store.Delegations(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var receipts []Receipt
	var errs []error
	for _, d := range delegations {
		if d.Status != model.StatusActive && d.Status != model.StatusSuspended {
			continue
		}
		if !now.After(d.EndsAt) {
			continue
		}
		r, err := s.Expire(ctx, d.ID)
		if errors.Is(err, ErrInvalidTransition) {
			// Closed concurrently.
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", d.ID, err))
			continue
		}
		receipts = append(receipts, r)
	}
	return receipts, errors.Join(errs...)
}

func (s *Service) transition(ctx context.Context, delegationID string, eventType model.EventType, actor, reason string) (Receipt, error) {
	rule, ok := transitions[eventType]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s changes no status", ErrInvalidTransition, eventType)
	}
	m, err := s.mutate(ctx, delegationID, func(snap ledger.Snapshot, now time.Time) (ledger.Mutation, error) {
		from := snap.Delegation.Status
		if !allowedFrom(rule.from, from) {
			return ledger.Mutation{}, fmt.Errorf("%w: %s cannot go from %s to %s", ErrInvalidTransition, delegationID, from, rule.to)
		}
		next := snap.Delegation
		next.Status = rule.to
		next.StatusChangedAt = now

		event := model.Event{
			Type:      eventType,
			ActorID:   actor,
			Summary:   fmt.Sprintf("status %s -> %s", from, rule.to),
			CreatedAt: now,
		}
		details := map[string]any{
			"from": string(from),
			"to":   string(rule.to),
		}
		if reason != "" {
			details["reason"] = reason
		}
		return s.chainedFrom(snap.Delegation, next, event, details)
	})
	if err != nil {
		return Receipt{}, err
	}
	s.logger.Info("delegation status changed", "delegation_id", delegationID, "event", eventType, "status", rule.to, "actor", actor)
	return receiptOf(m), nil
}

func allowedFrom(from []model.Status, s model.Status) bool {
	for _, f := range from {
		if f == s {
			return true
		}
	}
	return false
}

// Export returns the delegation and its full chain read at one head. A chain that keeps
// advancing during the read yields ErrTransient.
func (s *Service) Export(ctx context.Context, delegationID string) (chain.Export, error) {
	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		before, err := s.store.Snapshot(ctx, delegationID)
		if err != nil {
			return chain.Export{}, err
		}
		events, err := s.store.Events(ctx, delegationID)
		if err != nil {
			return chain.Export{}, err
		}
		after, err := s.store.Snapshot(ctx, delegationID)
		if err != nil {
			return chain.Export{}, err
		}
		if before.Delegation.HeadHash == after.Delegation.HeadHash {
			return chain.NewExport(after.Delegation, events), nil
		}
	}
	s.metrics.IncrementTransient()
	return chain.Export{}, fmt.Errorf("%w: export %s", ErrTransient, delegationID)
}

// Verify replays the stored chain of a delegation. Errors wrapping chain.ErrIntegrity
// mean the stored history was tampered with or lost.
func (s *Service) Verify(ctx context.Context, delegationID string) error {
	x, err := s.Export(ctx, delegationID)
	if err != nil {
		return err
	}
	if err := x.Verify(); err != nil {
		s.metrics.IncrementIntegrityFailure()
		s.logger.Error("chain verification failed", "delegation_id", delegationID, "error", err)
		return err
	}
	return nil
}

func policyDetails(p model.Policy) map[string]any {
	details := map[string]any{
		"policy_id":  p.ID,
		"action":     string(p.Action),
		"max_amount": p.MaxAmount,
		"currency":   p.Currency,
		"controls":   controlNames(p.Controls.Required()),
	}
	scope := map[string]any{}
	for _, dim := range model.Dimensions {
		rule := p.Scope.Rule(dim)
		if rule.IsEmpty() {
			continue
		}
		scope[string(dim)] = map[string]any{"allow": rule.Allow, "deny": rule.Deny}
	}
	details["scope"] = scope
	return details
}

func usageDetails(u model.Usage, eval model.Evaluation) map[string]any {
	c := u.Context
	return map[string]any{
		"usage_id":      u.ID,
		"result":        string(eval.Result),
		"code":          string(eval.Code),
		"policy_id":     eval.PolicyID,
		"amount":        c.Amount,
		"currency":      c.Currency,
		"action":        string(c.Action),
		"bureau":        c.Bureau,
		"project":       c.Project,
		"supplier":      c.Supplier,
		"category":      c.Category,
		"document_ref":  c.DocumentRef,
		"document_type": c.DocumentType,
		"requester_id":  c.RequesterID,
		"requested_at":  model.FormatTime(c.Timestamp),
		"controls":      controlNames(eval.Controls),
		"risk_level":    string(eval.RiskLevel),
	}
}

func controlNames(controls []model.Control) []string {
	out := make([]string, 0, len(controls))
	for _, c := range controls {
		out = append(out, string(c))
	}
	return out
}
