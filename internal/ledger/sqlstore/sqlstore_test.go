package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/ledger/ledgertest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "mandate.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	ledgertest.RunStoreTests(t, func(t *testing.T) ledger.Store {
		return openTestStore(t)
	})
}

func TestSQLiteReopenKeepsChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mandate.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := ledgertest.NewDelegation(t, "dlg_reopen")
	if err := s.CreateDelegation(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, ledgertest.UsedMutation(t, d, 2_500, "evt_1", "use_1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	snap, err := reopened.Snapshot(ctx, d.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Delegation.UsageTotalAmount != 2_500 || snap.Delegation.NextSeq != 2 {
		t.Fatalf("state lost across reopen: %+v", snap.Delegation)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(ledger.DBDriver("nope"), ""); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestQueryRebind(t *testing.T) {
	sqlite := New(nil, ledger.DBSQLite)
	if got := sqlite.q(`SELECT 1 FROM {events} WHERE id = ? AND seq = ?`); got != `SELECT 1 FROM events WHERE id = ? AND seq = ?` {
		t.Errorf("unexpected sqlite query: %s", got)
	}
	pg := New(nil, ledger.DBPostgres)
	if got := pg.q(`SELECT 1 FROM {events} WHERE id = ? AND seq = ?`); got != `SELECT 1 FROM mandate_events WHERE id = $1 AND seq = $2` {
		t.Errorf("unexpected postgres query: %s", got)
	}
}
