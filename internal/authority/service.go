package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/metrics"
	"github.com/ppiankov/mandate/internal/model"
	"github.com/ppiankov/mandate/internal/policy"
)

var (
	// ErrTransient is returned when a mutation kept losing the head race.
	ErrTransient = errors.New("transient failure: delegation kept changing")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrClosed is returned for policy changes on a revoked or expired delegation.
	ErrClosed = errors.New("delegation is closed")
)

const (
	defaultMaxRetries = 3
	defaultTxTimeout  = 5 * time.Second

	// SystemActor signs events no human requested.
	SystemActor = "system"
)

// Options configures a Service.
type Options struct {
	Store ledger.Store
	// Locks serializes writers per delegation inside this process. Nil leaves
	// serialization to the store's head compare-and-swap alone.
	Locks      *Locks
	Clock      func() time.Time
	MaxRetries int
	TxTimeout  time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Service evaluates requests and commits every delegation mutation as one atomic,
// chained step.
type Service struct {
	store      ledger.Store
	locks      *Locks
	clock      func() time.Time
	maxRetries int
	txTimeout  time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Receipt identifies what a mutation appended.
type Receipt struct {
	DelegationID string `json:"delegation_id"`
	EventID      string `json:"event_id"`
	UsageID      string `json:"usage_id,omitempty"`
	Seq          int64  `json:"seq"`
	HeadHash     string `json:"head_hash"`
}

// Decision is the outcome of Authorize: the verdict and where it was recorded.
type Decision struct {
	Evaluation model.Evaluation `json:"evaluation"`
	Receipt    Receipt          `json:"receipt"`
}

// New returns a Service. A zero MaxRetries or TxTimeout takes the default.
func New(opts Options) *Service {
	s := &Service{
		store:      opts.Store,
		locks:      opts.Locks,
		clock:      opts.Clock,
		maxRetries: opts.MaxRetries,
		txTimeout:  opts.TxTimeout,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.txTimeout <= 0 {
		s.txTimeout = defaultTxTimeout
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Store returns the underlying store for read-only consumers such as the monitor.
func (s *Service) Store() ledger.Store { return s.store }

func (s *Service) now() time.Time { return s.clock().UTC() }

// CreateDelegation records the founding decision of d and computes its genesis hash.
// Identity is assigned when d.ID is empty. Status starts active with no usage.
func (s *Service) CreateDelegation(ctx context.Context, d model.Delegation) (model.Delegation, error) {
	if err := validateFounding(d); err != nil {
		return model.Delegation{}, err
	}
	now := s.now()
	if d.ID == "" {
		d.ID = chain.NewID(chain.KindDelegation)
	}
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	d.StartsAt = d.StartsAt.UTC()
	d.EndsAt = d.EndsAt.UTC()
	d.Status = model.StatusActive
	d.StatusChangedAt = now
	d.CreatedAt = now
	d.UsageCount, d.UsageTotalAmount, d.LastUsedAt, d.LastUsedFor, d.LastUsedAmount = 0, 0, nil, "", 0
	d.NextSeq = 1

	genesis, err := chain.GenesisHash(d)
	if err != nil {
		return model.Delegation{}, err
	}
	d.GenesisHash = genesis
	d.HeadHash = genesis

	if err := s.store.CreateDelegation(ctx, d); err != nil {
		return model.Delegation{}, err
	}
	s.logger.Info("delegation created", "delegation_id", d.ID, "grantor", d.GrantorID, "delegate", d.DelegateID, "genesis_hash", d.GenesisHash)
	return d, nil
}

// AddPolicy attaches p to a delegation and chains a POLICY_ADDED event.
func (s *Service) AddPolicy(ctx context.Context, delegationID string, p model.Policy, actor string) (model.Policy, Receipt, error) {
	if err := validatePolicy(p); err != nil {
		return model.Policy{}, Receipt{}, err
	}
	var added model.Policy
	m, err := s.mutate(ctx, delegationID, func(snap ledger.Snapshot, now time.Time) (ledger.Mutation, error) {
		if closed(snap.Delegation.Status) {
			return ledger.Mutation{}, fmt.Errorf("%w: %s is %s", ErrClosed, delegationID, snap.Delegation.Status)
		}
		added = p
		added.ID = chain.NewID(chain.KindPolicy)
		added.DelegationID = delegationID
		added.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
		added.CreatedAt = now

		event := model.Event{
			Type:      model.EventPolicyAdded,
			ActorID:   actor,
			Summary:   fmt.Sprintf("policy %s added for %s", added.ID, added.Action),
			CreatedAt: now,
		}
		m, err := s.chained(snap.Delegation, event, policyDetails(added))
		if err != nil {
			return ledger.Mutation{}, err
		}
		m.AddPolicy = &added
		return m, nil
	})
	if err != nil {
		return model.Policy{}, Receipt{}, err
	}
	return added, receiptOf(m), nil
}

// RemovePolicy deletes a policy and chains a POLICY_REMOVED event.
func (s *Service) RemovePolicy(ctx context.Context, delegationID, policyID, actor string) (Receipt, error) {
	m, err := s.mutate(ctx, delegationID, func(snap ledger.Snapshot, now time.Time) (ledger.Mutation, error) {
		if closed(snap.Delegation.Status) {
			return ledger.Mutation{}, fmt.Errorf("%w: %s is %s", ErrClosed, delegationID, snap.Delegation.Status)
		}
		var removed *model.Policy
		for i := range snap.Policies {
			if snap.Policies[i].ID == policyID {
				removed = &snap.Policies[i]
				break
			}
		}
		if removed == nil {
			return ledger.Mutation{}, fmt.Errorf("policy %s: %w", policyID, ledger.ErrNotFound)
		}

		event := model.Event{
			Type:      model.EventPolicyRemoved,
			ActorID:   actor,
			Summary:   fmt.Sprintf("policy %s removed for %s", policyID, removed.Action),
			CreatedAt: now,
		}
		m, err := s.chained(snap.Delegation, event, policyDetails(*removed))
		if err != nil {
			return ledger.Mutation{}, err
		}
		m.RemovePolicyID = policyID
		return m, nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receiptOf(m), nil
}

// Authorize evaluates a request against the delegation's current state and records the
// verdict, the usage and any counter change in one commit. DENIED and PENDING_CONTROL
// are returned as successful decisions; errors mean nothing was recorded.
func (s *Service) Authorize(ctx context.Context, actx model.ActionContext) (Decision, error) {
	if err := actx.Validate(); err != nil {
		return Decision{}, err
	}
	actx.Timestamp = actx.Timestamp.UTC()

	var eval model.Evaluation
	m, err := s.mutate(ctx, actx.DelegationID, func(snap ledger.Snapshot, now time.Time) (ledger.Mutation, error) {
		eval = policy.Evaluate(snap.Delegation, snap.Policies, actx)

		next := snap.Delegation
		usageID := chain.NewID(chain.KindUsage)
		eventID := chain.NewID(chain.KindEvent)
		usage, err := ledger.RecordUsage(&next, actx, eval, usageID, eventID, now)
		if err != nil {
			return ledger.Mutation{}, err
		}

		event := model.Event{
			ID:        eventID,
			Type:      model.EventUsed,
			ActorID:   actx.RequesterID,
			Summary:   fmt.Sprintf("%s %s %s %d %s: %s", actx.Action, actx.DocumentType, actx.DocumentRef, actx.Amount, actx.Currency, eval.Result),
			CreatedAt: now,
		}
		m, err := s.chainedFrom(snap.Delegation, next, event, usageDetails(usage, eval))
		if err != nil {
			return ledger.Mutation{}, err
		}
		m.Usage = &usage
		return m, nil
	})
	if err != nil {
		return Decision{}, err
	}

	s.metrics.IncrementEvaluation(string(eval.Result), string(eval.Code))
	s.logger.Info("authorization recorded",
		"delegation_id", actx.DelegationID,
		"result", eval.Result,
		"code", eval.Code,
		"amount", actx.Amount,
		"usage_id", m.Usage.ID,
		"head_hash", m.Delegation.HeadHash,
	)
	return Decision{Evaluation: eval, Receipt: receiptOf(m)}, nil
}

// Evaluate is a dry run of Authorize against a consistent snapshot. Nothing is written.
func (s *Service) Evaluate(ctx context.Context, actx model.ActionContext) (model.Evaluation, error) {
	if err := actx.Validate(); err != nil {
		return model.Evaluation{}, err
	}
	snap, err := s.store.Snapshot(ctx, actx.DelegationID)
	if err != nil {
		return model.Evaluation{}, err
	}
	actx.Timestamp = actx.Timestamp.UTC()
	return policy.Evaluate(snap.Delegation, snap.Policies, actx), nil
}

// mutate runs build against a fresh snapshot and commits the result under the
// delegation's lock, rebuilding against the new head whenever the commit loses a race.
func (s *Service) mutate(ctx context.Context, delegationID string, build func(ledger.Snapshot, time.Time) (ledger.Mutation, error)) (ledger.Mutation, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Mutation{}, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	if s.locks != nil {
		unlock := s.locks.Lock(delegationID)
		defer unlock()
	}

	start := time.Now()
	defer func() { s.metrics.ObserveCommitLatency(time.Since(start)) }()

	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return ledger.Mutation{}, err
		}
		snap, err := s.store.Snapshot(ctx, delegationID)
		if err != nil {
			return ledger.Mutation{}, err
		}
		m, err := build(snap, s.now())
		if err != nil {
			return ledger.Mutation{}, err
		}
		err = s.store.Commit(ctx, m)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ledger.ErrConflict) {
			return ledger.Mutation{}, err
		}
		s.metrics.IncrementConflict()
		s.logger.Warn("head moved during commit, retrying", "delegation_id", delegationID, "attempt", attempt)
	}

	s.metrics.IncrementTransient()
	return ledger.Mutation{}, fmt.Errorf("%w: %s after %d attempts", ErrTransient, delegationID, s.maxRetries+1)
}

// chained links event onto d with no other state change.
func (s *Service) chained(d model.Delegation, event model.Event, details map[string]any) (ledger.Mutation, error) {
	return s.chainedFrom(d, d, event, details)
}

// chainedFrom links event onto next, the already updated copy of current.
func (s *Service) chainedFrom(current, next model.Delegation, event model.Event, details map[string]any) (ledger.Mutation, error) {
	raw, err := chain.MarshalDetails(details)
	if err != nil {
		return ledger.Mutation{}, err
	}
	if event.ID == "" {
		event.ID = chain.NewID(chain.KindEvent)
	}
	event.Details = raw
	linked, err := chain.Link(&next, event)
	if err != nil {
		return ledger.Mutation{}, err
	}
	return ledger.Mutation{ExpectedHead: current.HeadHash, Delegation: next, Event: linked}, nil
}

func receiptOf(m ledger.Mutation) Receipt {
	r := Receipt{
		DelegationID: m.Delegation.ID,
		EventID:      m.Event.ID,
		Seq:          m.Event.Seq,
		HeadHash:     m.Delegation.HeadHash,
	}
	if m.Usage != nil {
		r.UsageID = m.Usage.ID
	}
	return r
}

func closed(s model.Status) bool {
	return s == model.StatusRevoked || s == model.StatusExpired
}

func validateFounding(d model.Delegation) error {
	var missing []string
	if strings.TrimSpace(d.GrantorID) == "" {
		missing = append(missing, "grantor_id")
	}
	if strings.TrimSpace(d.DelegateID) == "" {
		missing = append(missing, "delegate_id")
	}
	if strings.TrimSpace(d.Bureau) == "" {
		missing = append(missing, "bureau")
	}
	if d.StartsAt.IsZero() {
		missing = append(missing, "starts_at")
	}
	if d.EndsAt.IsZero() || d.EndsAt.Before(d.StartsAt) {
		missing = append(missing, "ends_at")
	}
	if d.MaxAmountPerUse < 0 {
		missing = append(missing, "max_amount_per_use")
	}
	if d.MaxTotalAmount < 0 {
		missing = append(missing, "max_total_amount")
	}
	if (d.MaxAmountPerUse > 0 || d.MaxTotalAmount > 0) && strings.TrimSpace(d.Currency) == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: delegation: %s", model.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func validatePolicy(p model.Policy) error {
	var missing []string
	if strings.TrimSpace(string(p.Action)) == "" {
		missing = append(missing, "action")
	}
	if p.MaxAmount < 0 {
		missing = append(missing, "max_amount")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: policy: %s", model.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
