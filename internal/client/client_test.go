package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/mandate/internal/authority"
	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/ledger/ledgertest"
	"github.com/ppiankov/mandate/internal/model"
	"github.com/ppiankov/mandate/internal/monitor"
	"github.com/ppiankov/mandate/internal/rpc"
	"github.com/ppiankov/mandate/internal/server"
)

var clientNow = ledgertest.Epoch.Add(10 * 24 * time.Hour)

// startTestServer creates a server and returns its address.
func startTestServer(t *testing.T) string {
	t.Helper()

	store := ledger.NewMemoryStore()
	clock := func() time.Time { return clientNow }
	svc := authority.New(authority.Options{Store: store, Locks: authority.NewLocks(), Clock: clock})
	mon := monitor.New(monitor.DefaultConfig(), store, nil, nil)
	mon.SetClock(clock)
	srv := server.New(server.Config{}, svc, mon, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)
	t.Cleanup(srv.GracefulStop)
	return lis.Addr().String()
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(startTestServer(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func request(delegationID string, amount int64) model.ActionContext {
	return model.ActionContext{
		DelegationID: delegationID,
		Action:       model.ActionPay,
		Amount:       amount,
		Currency:     "XOF",
		Bureau:       "BF-OUAGA",
		DocumentRef:  "PO-2025-11",
		DocumentType: "purchase_order",
		RequesterID:  "daf-adjoint",
		Timestamp:    clientNow,
	}
}

func TestClientLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	d, err := c.CreateDelegation(ctx, model.Delegation{
		GrantorID:       "dg-finance",
		DelegateID:      "daf-adjoint",
		Bureau:          "BF-OUAGA",
		StartsAt:        ledgertest.Epoch,
		EndsAt:          ledgertest.Epoch.Add(90 * 24 * time.Hour),
		MaxAmountPerUse: 10_000_000,
		MaxTotalAmount:  100_000_000,
		Currency:        "XOF",
	})
	if err != nil {
		t.Fatalf("CreateDelegation: %v", err)
	}
	p, _, err := c.AddPolicy(ctx, d.ID, model.Policy{
		Action:    model.ActionPay,
		MaxAmount: 10_000_000,
		Currency:  "XOF",
		Controls:  model.Controls{DualControl: true},
	}, "dg-finance")
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	eval, err := c.Evaluate(ctx, request(d.ID, 2_000_000))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Result != model.PendingControl {
		t.Fatalf("expected PENDING_CONTROL, got %s", eval.Result)
	}

	dec, err := c.Authorize(ctx, request(d.ID, 2_000_000))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if dec.Evaluation.Result != model.PendingControl || len(dec.Evaluation.Controls) != 1 {
		t.Errorf("unexpected decision: %+v", dec.Evaluation)
	}

	alerts, err := c.Alerts(ctx)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Kind != monitor.KindPendingControl {
		t.Errorf("expected one PENDING_CONTROL alert, got %+v", alerts)
	}

	if _, err := c.RemovePolicy(ctx, d.ID, p.ID, "dg-finance"); err != nil {
		t.Fatalf("RemovePolicy: %v", err)
	}
	if _, err := c.Transition(ctx, d.ID, rpc.TransitionRevoke, "dg-finance", "mission ended"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	v, err := c.Verify(ctx, d.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Valid {
		t.Errorf("expected valid chain: %s", v.Error)
	}
	x, err := c.Export(ctx, d.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if x.Delegation.Status != model.StatusRevoked || len(x.Events) != 4 {
		t.Errorf("unexpected export: status %s, %d events", x.Delegation.Status, len(x.Events))
	}
}

func TestClientErrorsMatchSentinels(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Authorize(ctx, request("dlg_missing", 1))
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	bad := request("dlg_missing", 1)
	bad.Timestamp = time.Time{}
	_, err = c.Authorize(ctx, bad)
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	_, err = c.Transition(ctx, "dlg_missing", "pause", "x", "")
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown transition, got %v", err)
	}
}

func TestUnreachableServerIsAnError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	dec, err := c.Authorize(ctx, request("dlg_1", 1))
	if err == nil {
		t.Fatal("expected error from unreachable server")
	}
	if dec.Evaluation.Result == model.Authorized {
		t.Error("unreachable server must never authorize")
	}
}

func TestFromStatusPassesThroughPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	if got := fromStatus(plain); got != plain {
		t.Errorf("plain error changed: %v", got)
	}
	if fromStatus(nil) != nil {
		t.Error("nil must stay nil")
	}
	if !errors.Is(fromStatus(status.Error(codes.DataLoss, "broken link")), chain.ErrIntegrity) {
		t.Error("DataLoss should map back to ErrIntegrity")
	}
}
