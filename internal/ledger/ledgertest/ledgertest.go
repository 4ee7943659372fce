// Package ledgertest holds the behaviour every ledger.Store implementation must share.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/model"
)

// Epoch is the fixed clock the suite runs on.
var Epoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// NewDelegation returns an active delegation with its genesis hash computed.
func NewDelegation(t testing.TB, id string) model.Delegation {
	t.Helper()
	d := model.Delegation{
		ID:              id,
		GrantorID:       "dg-finance",
		DelegateID:      "daf-adjoint",
		Bureau:          "BF-OUAGA",
		StartsAt:        Epoch,
		EndsAt:          Epoch.Add(90 * 24 * time.Hour),
		MaxAmountPerUse: 10_000_000,
		MaxTotalAmount:  100_000_000,
		Currency:        "XOF",
		Status:          model.StatusActive,
		StatusChangedAt: Epoch,
		NextSeq:         1,
		CreatedAt:       Epoch,
	}
	genesis, err := chain.GenesisHash(d)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	d.GenesisHash = genesis
	d.HeadHash = genesis
	return d
}

// UsedMutation builds an AUTHORIZED usage of amount against d as it stands.
func UsedMutation(t testing.TB, d model.Delegation, amount int64, eventID, usageID string) ledger.Mutation {
	t.Helper()
	next := d
	at := Epoch.Add(time.Duration(d.NextSeq) * time.Minute)
	ctx := model.ActionContext{
		DelegationID: d.ID,
		Action:       model.ActionPay,
		Amount:       amount,
		Currency:     d.Currency,
		Bureau:       d.Bureau,
		DocumentRef:  "INV-" + eventID,
		DocumentType: "invoice",
		RequesterID:  d.DelegateID,
		Timestamp:    at,
	}
	eval := model.Evaluation{Allowed: true, Result: model.Authorized, Code: model.ReasonWithinPolicy}
	usage, err := ledger.RecordUsage(&next, ctx, eval, usageID, eventID, at)
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	details, err := chain.MarshalDetails(map[string]any{"usage_id": usageID, "amount": amount, "result": string(eval.Result)})
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	e, err := chain.Link(&next, model.Event{
		ID:        eventID,
		Type:      model.EventUsed,
		ActorID:   d.DelegateID,
		Summary:   fmt.Sprintf("pay %d %s", amount, d.Currency),
		Details:   details,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	return ledger.Mutation{ExpectedHead: d.HeadHash, Delegation: next, Event: e, Usage: &usage}
}

// PolicyMutation builds a POLICY_ADDED mutation for p against d.
func PolicyMutation(t testing.TB, d model.Delegation, p model.Policy, eventID string) ledger.Mutation {
	t.Helper()
	next := d
	e, err := chain.Link(&next, model.Event{
		ID:        eventID,
		Type:      model.EventPolicyAdded,
		ActorID:   d.GrantorID,
		Summary:   "policy " + p.ID + " added",
		CreatedAt: Epoch.Add(time.Duration(d.NextSeq) * time.Minute),
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	return ledger.Mutation{ExpectedHead: d.HeadHash, Delegation: next, Event: e, AddPolicy: &p}
}

// RunStoreTests runs the shared suite against stores produced by open.
func RunStoreTests(t *testing.T, open func(t *testing.T) ledger.Store) {
	t.Run("CreateAndSnapshot", func(t *testing.T) { testCreateAndSnapshot(t, open(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, open(t)) })
	t.Run("UnknownDelegation", func(t *testing.T) { testUnknownDelegation(t, open(t)) })
	t.Run("PolicyLifecycle", func(t *testing.T) { testPolicyLifecycle(t, open(t)) })
	t.Run("UsageCommit", func(t *testing.T) { testUsageCommit(t, open(t)) })
	t.Run("StaleHeadConflict", func(t *testing.T) { testStaleHeadConflict(t, open(t)) })
	t.Run("FaultLeavesNothingApplied", func(t *testing.T) { testFaultLeavesNothingApplied(t, open(t)) })
	t.Run("InvalidMutation", func(t *testing.T) { testInvalidMutation(t, open(t)) })
	t.Run("ConcurrentWritersKeepChain", func(t *testing.T) { testConcurrentWriters(t, open(t)) })
}

func create(t *testing.T, s ledger.Store, id string) model.Delegation {
	t.Helper()
	d := NewDelegation(t, id)
	if err := s.CreateDelegation(context.Background(), d); err != nil {
		t.Fatalf("create delegation: %v", err)
	}
	return d
}

func snapshot(t *testing.T, s ledger.Store, id string) ledger.Snapshot {
	t.Helper()
	snap, err := s.Snapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func verify(t *testing.T, s ledger.Store, id string) []model.Event {
	t.Helper()
	snap := snapshot(t, s, id)
	events, err := s.Events(context.Background(), id)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if err := chain.Verify(snap.Delegation, events); err != nil {
		t.Fatalf("chain must verify: %v", err)
	}
	return events
}

func testCreateAndSnapshot(t *testing.T, s ledger.Store) {
	d := create(t, s, "dlg_create")
	got := snapshot(t, s, d.ID).Delegation

	if got.ID != d.ID || got.GrantorID != d.GrantorID || got.Bureau != d.Bureau {
		t.Errorf("identity mismatch: %+v", got)
	}
	if !got.StartsAt.Equal(d.StartsAt) || !got.EndsAt.Equal(d.EndsAt) || !got.CreatedAt.Equal(d.CreatedAt) {
		t.Errorf("time round trip mismatch: %+v", got)
	}
	if got.GenesisHash != d.GenesisHash || got.HeadHash != d.GenesisHash {
		t.Errorf("hash mismatch: %+v", got)
	}
	if got.LastUsedAt != nil {
		t.Error("expected no last use")
	}

	all, err := s.Delegations(context.Background())
	if err != nil {
		t.Fatalf("delegations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 delegation, got %d", len(all))
	}
	verify(t, s, d.ID)
}

func testCreateDuplicate(t *testing.T, s ledger.Store) {
	d := create(t, s, "dlg_dup")
	if err := s.CreateDelegation(context.Background(), d); !errors.Is(err, ledger.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func testUnknownDelegation(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	if _, err := s.Snapshot(ctx, "dlg_missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("snapshot: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Events(ctx, "dlg_missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("events: expected ErrNotFound, got %v", err)
	}
	m := UsedMutation(t, NewDelegation(t, "dlg_missing"), 1_000, "evt_missing", "use_missing")
	if err := s.Commit(ctx, m); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("commit: expected ErrNotFound, got %v", err)
	}
}

func testPolicyLifecycle(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d := create(t, s, "dlg_policy")
	p := model.Policy{
		ID:           "pol_1",
		DelegationID: d.ID,
		Action:       model.ActionPay,
		MaxAmount:    10_000_000,
		Currency:     "XOF",
		Scope:        model.Scope{Supplier: model.ScopeRule{Deny: []string{"acme"}}},
		Controls:     model.Controls{DualControl: true},
		CreatedAt:    Epoch,
	}
	if err := s.Commit(ctx, PolicyMutation(t, d, p, "evt_p1")); err != nil {
		t.Fatalf("add policy: %v", err)
	}

	snap := snapshot(t, s, d.ID)
	if len(snap.Policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(snap.Policies))
	}
	got := snap.Policies[0]
	if got.ID != "pol_1" || !got.Controls.DualControl || len(got.Scope.Supplier.Deny) != 1 {
		t.Errorf("policy round trip mismatch: %+v", got)
	}

	// Removing an unknown policy rolls back the whole mutation.
	d = snap.Delegation
	next := d
	e, err := chain.Link(&next, model.Event{ID: "evt_p2", Type: model.EventPolicyRemoved, ActorID: d.GrantorID, CreatedAt: Epoch.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	bad := ledger.Mutation{ExpectedHead: d.HeadHash, Delegation: next, Event: e, RemovePolicyID: "pol_nope"}
	if err := s.Commit(ctx, bad); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown policy, got %v", err)
	}
	if snapshot(t, s, d.ID).Delegation.HeadHash != d.HeadHash {
		t.Fatal("failed removal must not move the head")
	}

	good := bad
	good.RemovePolicyID = "pol_1"
	if err := s.Commit(ctx, good); err != nil {
		t.Fatalf("remove policy: %v", err)
	}
	if n := len(snapshot(t, s, d.ID).Policies); n != 0 {
		t.Fatalf("expected policy to be deleted, got %d", n)
	}
	if events := verify(t, s, d.ID); len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func testUsageCommit(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d := create(t, s, "dlg_usage")
	m := UsedMutation(t, d, 5_000_000, "evt_u1", "use_u1")
	if err := s.Commit(ctx, m); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got := snapshot(t, s, d.ID).Delegation
	if got.UsageTotalAmount != 5_000_000 || got.UsageCount != 1 {
		t.Errorf("expected counters to move, got %+v", got)
	}
	if got.LastUsedAt == nil || got.LastUsedAmount != 5_000_000 {
		t.Errorf("expected last use fields, got %+v", got)
	}
	if got.HeadHash != m.Event.EventHash {
		t.Error("head must equal the committed event hash")
	}

	usages, err := s.UsagesByStatus(ctx, model.Authorized)
	if err != nil {
		t.Fatalf("usages: %v", err)
	}
	if len(usages) != 1 || usages[0].EventID != "evt_u1" || usages[0].Context.Amount != 5_000_000 {
		t.Fatalf("unexpected usages: %+v", usages)
	}
	if pending, _ := s.UsagesByStatus(ctx, model.PendingControl); len(pending) != 0 {
		t.Errorf("expected no pending usages, got %d", len(pending))
	}
	verify(t, s, d.ID)
}

func testStaleHeadConflict(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d := create(t, s, "dlg_race")

	// Both writers read the same head.
	first := UsedMutation(t, d, 1_000, "evt_a", "use_a")
	second := UsedMutation(t, d, 2_000, "evt_b", "use_b")

	if err := s.Commit(ctx, first); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := s.Commit(ctx, second); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Retrying against the fresh head succeeds.
	fresh := snapshot(t, s, d.ID).Delegation
	if err := s.Commit(ctx, UsedMutation(t, fresh, 2_000, "evt_b", "use_b")); err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	events := verify(t, s, d.ID)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if got := snapshot(t, s, d.ID).Delegation.UsageTotalAmount; got != 3_000 {
		t.Errorf("expected total 3000, got %d", got)
	}
}

func testFaultLeavesNothingApplied(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d := create(t, s, "dlg_fault")
	if err := s.Commit(ctx, UsedMutation(t, d, 1_000, "evt_f1", "use_f1")); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	before := snapshot(t, s, d.ID).Delegation

	// The head update succeeds but the event insert collides.
	dupEvent := UsedMutation(t, before, 1_000, "evt_f1", "use_f2")
	if err := s.Commit(ctx, dupEvent); err == nil {
		t.Fatal("expected duplicate event id to fail")
	}
	// Head and event succeed but the usage insert collides.
	dupUsage := UsedMutation(t, before, 1_000, "evt_f3", "use_f1")
	if err := s.Commit(ctx, dupUsage); err == nil {
		t.Fatal("expected duplicate usage id to fail")
	}

	after := snapshot(t, s, d.ID).Delegation
	if after.HeadHash != before.HeadHash || after.UsageTotalAmount != before.UsageTotalAmount || after.NextSeq != before.NextSeq {
		t.Fatalf("failed commits must not change the delegation: before=%+v after=%+v", before, after)
	}
	if events := verify(t, s, d.ID); len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	usages, err := s.UsagesByStatus(ctx, model.Authorized)
	if err != nil {
		t.Fatal(err)
	}
	if len(usages) != 1 {
		t.Fatalf("expected 1 usage, got %d", len(usages))
	}
}

func testInvalidMutation(t *testing.T, s ledger.Store) {
	d := create(t, s, "dlg_invalid")
	m := UsedMutation(t, d, 1_000, "evt_i1", "use_i1")
	m.Delegation.HeadHash = d.HeadHash
	if err := s.Commit(context.Background(), m); !errors.Is(err, ledger.ErrInvalidMutation) {
		t.Fatalf("expected ErrInvalidMutation, got %v", err)
	}
	if snapshot(t, s, d.ID).Delegation.NextSeq != 1 {
		t.Fatal("invalid mutation must not be applied")
	}
}

func testConcurrentWriters(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d := create(t, s, "dlg_concurrent")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 100; attempt++ {
				snap, err := s.Snapshot(ctx, d.ID)
				if err != nil {
					errs <- err
					return
				}
				m := UsedMutation(t, snap.Delegation, 1_000, fmt.Sprintf("evt_w%d", i), fmt.Sprintf("use_w%d", i))
				err = s.Commit(ctx, m)
				if errors.Is(err, ledger.ErrConflict) {
					continue
				}
				errs <- err
				return
			}
			errs <- fmt.Errorf("writer %d never committed", i)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("writer: %v", err)
		}
	}

	events := verify(t, s, d.ID)
	if len(events) != writers {
		t.Fatalf("expected %d events, got %d", writers, len(events))
	}
	if got := snapshot(t, s, d.ID).Delegation.UsageTotalAmount; got != writers*1_000 {
		t.Fatalf("expected total %d, got %d", writers*1_000, got)
	}
}
