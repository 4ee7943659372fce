package chain

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/mandate/internal/model"
)

var testEpoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func newTestDelegation(t *testing.T) model.Delegation {
	t.Helper()
	d := model.Delegation{
		ID:              "dlg_test",
		GrantorID:       "dg-finance",
		DelegateID:      "daf-adjoint",
		Bureau:          "BF-OUAGA",
		StartsAt:        testEpoch,
		EndsAt:          testEpoch.Add(90 * 24 * time.Hour),
		MaxAmountPerUse: 10_000_000,
		MaxTotalAmount:  100_000_000,
		Currency:        "XOF",
		Status:          model.StatusActive,
		CreatedAt:       testEpoch,
		NextSeq:         1,
	}
	genesis, err := GenesisHash(d)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	d.GenesisHash = genesis
	d.HeadHash = genesis
	return d
}

func appendEvents(t *testing.T, d *model.Delegation, n int) []model.Event {
	t.Helper()
	var events []model.Event
	for i := 0; i < n; i++ {
		details, err := MarshalDetails(map[string]any{"amount": int64(1000 * (i + 1)), "result": "AUTHORIZED"})
		if err != nil {
			t.Fatalf("details: %v", err)
		}
		e, err := Link(d, model.Event{
			ID:        NewID(KindEvent),
			Type:      model.EventUsed,
			ActorID:   "daf-adjoint",
			Summary:   "payment authorized",
			Details:   details,
			CreatedAt: testEpoch.Add(time.Duration(i+1) * time.Minute),
		})
		if err != nil {
			t.Fatalf("link %d: %v", i, err)
		}
		events = append(events, e)
	}
	return events
}

func TestComputeEventHashDeterministic(t *testing.T) {
	p := EventPayload{
		DelegationID: "dlg_1",
		Seq:          1,
		EventID:      "evt_1",
		Type:         model.EventUsed,
		ActorID:      "user",
		Summary:      "used",
		Details:      json.RawMessage(`{"amount":5000000}`),
		CreatedAt:    testEpoch,
	}
	a, err := ComputeEventHash(p, GenesisMarker)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeEventHash(p, GenesisMarker)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected deterministic hash, got %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "sha256:") || len(a) != len("sha256:")+64 {
		t.Fatalf("unexpected digest format: %s", a)
	}
}

func TestComputeEventHashChangesWithAnyInput(t *testing.T) {
	base := EventPayload{
		DelegationID: "dlg_1",
		Seq:          1,
		EventID:      "evt_1",
		Type:         model.EventUsed,
		ActorID:      "user",
		Summary:      "used",
		Details:      json.RawMessage(`{"amount":5000000}`),
		CreatedAt:    testEpoch,
	}
	ref, _ := ComputeEventHash(base, GenesisMarker)

	variants := map[string]EventPayload{}
	v := base
	v.Seq = 2
	variants["seq"] = v
	v = base
	v.Details = json.RawMessage(`{"amount":5000001}`)
	variants["details"] = v
	v = base
	v.CreatedAt = base.CreatedAt.Add(time.Nanosecond)
	variants["created_at"] = v
	v = base
	v.Summary = "Used"
	variants["summary"] = v

	for name, p := range variants {
		got, err := ComputeEventHash(p, GenesisMarker)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got == ref {
			t.Errorf("changing %s did not change the hash", name)
		}
	}

	other, _ := ComputeEventHash(base, "sha256:"+strings.Repeat("1", 64))
	if other == ref {
		t.Error("changing previous hash did not change the hash")
	}
}

func TestComputeEventHashEmptyPreviousIsGenesisMarker(t *testing.T) {
	p := EventPayload{DelegationID: "dlg_1", Seq: 1, EventID: "evt_1", CreatedAt: testEpoch}
	a, _ := ComputeEventHash(p, "")
	b, _ := ComputeEventHash(p, GenesisMarker)
	if a != b {
		t.Fatal("empty previous hash must be treated as the genesis marker")
	}
}

func TestComputeEventHashSurfacesMalformedPayload(t *testing.T) {
	p := EventPayload{EventID: "evt_bad", Details: json.RawMessage(`{"amount":1.5}`)}
	if _, err := ComputeEventHash(p, GenesisMarker); !errors.Is(err, ErrPayload) {
		t.Fatalf("expected ErrPayload, got %v", err)
	}
}

func TestNewIDPrefixAndOrder(t *testing.T) {
	var ids []string
	for i := 0; i < 200; i++ {
		ids = append(ids, NewID(KindUsage))
	}
	for _, id := range ids {
		if !strings.HasPrefix(id, "use_") {
			t.Fatalf("expected use_ prefix, got %s", id)
		}
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("expected ids to sort in creation order")
	}
	if NewID(KindEvent) == NewID(KindEvent) {
		t.Fatal("expected unique ids")
	}
}

func TestLinkAdvancesHead(t *testing.T) {
	d := newTestDelegation(t)
	genesis := d.GenesisHash
	events := appendEvents(t, &d, 3)

	if events[0].PreviousHash != genesis {
		t.Errorf("first event must link to genesis")
	}
	for i := 1; i < len(events); i++ {
		if events[i].PreviousHash != events[i-1].EventHash {
			t.Errorf("event %d does not link to event %d", i+1, i)
		}
	}
	if d.HeadHash != events[2].EventHash {
		t.Errorf("head must equal last event hash")
	}
	if d.NextSeq != 4 {
		t.Errorf("expected next seq 4, got %d", d.NextSeq)
	}
}

func TestVerifyValidChain(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 5)
	if err := Verify(d, events); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	d := newTestDelegation(t)
	if err := Verify(d, nil); err != nil {
		t.Fatalf("expected fresh delegation to verify, got %v", err)
	}
}

func TestVerifyAcceptsShuffledInput(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 4)
	shuffled := []model.Event{events[2], events[0], events[3], events[1]}
	if err := Verify(d, shuffled); err != nil {
		t.Fatalf("verify must order by seq, got %v", err)
	}
}

func TestVerifyDetectsTamperedDetails(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 3)
	events[1].Details = json.RawMessage(`{"amount":1,"result":"AUTHORIZED"}`)

	err := Verify(d, events)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.Seq != 2 {
		t.Errorf("expected failure at seq 2, got %d", ie.Seq)
	}
	if !errors.Is(err, ErrIntegrity) {
		t.Error("expected errors.Is ErrIntegrity")
	}
}

func TestVerifyDetectsDeletedEvent(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 3)
	remaining := []model.Event{events[0], events[2]}

	err := Verify(d, remaining)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.EventID != events[2].ID {
		t.Errorf("expected failure at the event after the gap, got %s", ie.EventID)
	}
}

func TestVerifyDetectsDuplicatedEvent(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 2)
	dup := append(events, events[1])
	if err := Verify(d, dup); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
}

func TestVerifyDetectsMissingTail(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 3)

	err := Verify(d, events[:2])
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.Reason != "head hash does not match chain tip" {
		t.Errorf("unexpected reason: %s", ie.Reason)
	}
}

func TestVerifyDetectsRewrittenFounding(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 1)
	d.MaxTotalAmount = 1_000_000_000

	err := Verify(d, events)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.EventID != "" {
		t.Errorf("expected genesis failure, got failure at %s", ie.EventID)
	}
}

func TestVerifyDetectsRewrittenChain(t *testing.T) {
	// Relinking every event after an edit yields a self-consistent chain, but its tip no
	// longer matches the head stored on the delegation.
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 3)

	forged := newTestDelegation(t)
	var relinked []model.Event
	for _, e := range events {
		e.Summary = "forged"
		next, err := Link(&forged, e)
		if err != nil {
			t.Fatal(err)
		}
		relinked = append(relinked, next)
	}

	err := Verify(d, relinked)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.Reason != "head hash does not match chain tip" {
		t.Errorf("unexpected reason: %s", ie.Reason)
	}
}

func TestExportVerify(t *testing.T) {
	d := newTestDelegation(t)
	events := appendEvents(t, &d, 2)
	x := NewExport(d, []model.Event{events[1], events[0]})
	if x.Events[0].Seq != 1 {
		t.Fatal("export must be in chain order")
	}
	if err := x.Verify(); err != nil {
		t.Fatalf("verify export: %v", err)
	}
}
