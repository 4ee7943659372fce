package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/model"
)

// Store persists delegations, policies, events and usages in SQLite or Postgres. Each
// Commit is one transaction guarded by a compare-and-swap on the delegation's head hash.
type Store struct {
	db     *sql.DB
	driver ledger.DBDriver
	prefix string
}

var _ ledger.Store = (*Store)(nil)

var tables = []string{"delegations", "policies", "events", "usages"}

// Open opens and migrates a store for driver.
func Open(driver ledger.DBDriver, dsn string) (*Store, error) {
	switch driver {
	case ledger.DBSQLite:
		return OpenSQLite(dsn)
	case ledger.DBPostgres:
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
}

// OpenSQLite opens and migrates a SQLite database. SQLite has a single writer, so the
// pool is held to one connection and every statement runs on it.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ledger.Migrate(db, ledger.DBSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return New(db, ledger.DBSQLite), nil
}

// OpenPostgres opens and migrates a Postgres database.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ledger.Migrate(db, ledger.DBPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return New(db, ledger.DBPostgres), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, driver ledger.DBDriver) *Store {
	s := &Store{db: db, driver: driver}
	if driver == ledger.DBPostgres {
		s.prefix = "mandate_"
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// q expands {table} names and, for Postgres, rewrites ? placeholders to $n.
func (s *Store) q(query string) string {
	for _, t := range tables {
		query = strings.ReplaceAll(query, "{"+t+"}", s.prefix+t)
	}
	if s.driver != ledger.DBPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) withTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// readOpts returns options for multi-statement reads that must see one commit point.
// SQLite transactions are already serializable.
func (s *Store) readOpts() *sql.TxOptions {
	if s.driver == ledger.DBPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func (s *Store) CreateDelegation(ctx context.Context, d model.Delegation) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		exists, err := s.exists(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("delegation %s: %w", d.ID, ledger.ErrExists)
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO {delegations}(`+delegationColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
			d.ID,
			d.GrantorID,
			d.DelegateID,
			d.Bureau,
			model.FormatTime(d.StartsAt),
			model.FormatTime(d.EndsAt),
			d.MaxAmountPerUse,
			d.MaxTotalAmount,
			d.Currency,
			string(d.Status),
			model.FormatTime(d.StatusChangedAt),
			d.UsageCount,
			d.UsageTotalAmount,
			nullTime(d),
			d.LastUsedFor,
			d.LastUsedAmount,
			d.GenesisHash,
			d.HeadHash,
			d.NextSeq,
			model.FormatTime(d.CreatedAt),
		)
		return err
	})
}

func (s *Store) Snapshot(ctx context.Context, delegationID string) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	err := s.withTx(ctx, s.readOpts(), func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`SELECT `+delegationColumns+` FROM {delegations} WHERE id = ?`), delegationID)
		d, err := scanDelegation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("delegation %s: %w", delegationID, ledger.ErrNotFound)
		}
		if err != nil {
			return err
		}
		snap.Delegation = d

		rows, err := tx.QueryContext(ctx, s.q(`SELECT id, delegation_id, action, max_amount, currency, scope_json, controls_json, created_at
FROM {policies} WHERE delegation_id = ? ORDER BY created_at ASC, id ASC`), delegationID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPolicy(rows)
			if err != nil {
				return err
			}
			snap.Policies = append(snap.Policies, p)
		}
		return rows.Err()
	})
	return snap, err
}

func (s *Store) Delegations(ctx context.Context) ([]model.Delegation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+delegationColumns+` FROM {delegations} ORDER BY id ASC`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Delegation{}
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Events(ctx context.Context, delegationID string) ([]model.Event, error) {
	var out []model.Event
	err := s.withTx(ctx, s.readOpts(), func(tx *sql.Tx) error {
		exists, err := s.exists(ctx, tx, delegationID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("delegation %s: %w", delegationID, ledger.ErrNotFound)
		}

		rows, err := tx.QueryContext(ctx, s.q(`SELECT id, delegation_id, seq, event_type, actor_id, summary, details_json, previous_hash, event_hash, created_at
FROM {events} WHERE delegation_id = ? ORDER BY seq ASC`), delegationID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) UsagesByStatus(ctx context.Context, status model.Verdict) ([]model.Usage, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, delegation_id, event_id, status, context_json, evaluation_json, created_at
FROM {usages} WHERE status = ? ORDER BY created_at ASC, id ASC`), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Usage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Commit moves the head first so that a stale mutation fails before anything is written.
func (s *Store) Commit(ctx context.Context, m ledger.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	d, e := m.Delegation, m.Event

	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE {delegations} SET
  status = ?, status_changed_at = ?, usage_count = ?, usage_total_amount = ?,
  last_used_at = ?, last_used_for = ?, last_used_amount = ?, head_hash = ?, next_seq = ?
WHERE id = ? AND head_hash = ?`),
			string(d.Status),
			model.FormatTime(d.StatusChangedAt),
			d.UsageCount,
			d.UsageTotalAmount,
			nullTime(d),
			d.LastUsedFor,
			d.LastUsedAmount,
			d.HeadHash,
			d.NextSeq,
			d.ID,
			m.ExpectedHead,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			exists, err := s.exists(ctx, tx, d.ID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("delegation %s: %w", d.ID, ledger.ErrNotFound)
			}
			return fmt.Errorf("delegation %s: %w", d.ID, ledger.ErrConflict)
		}

		details := string(e.Details)
		if details == "" {
			details = "{}"
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO {events}(id, delegation_id, seq, event_type, actor_id, summary, details_json, previous_hash, event_hash, created_at)
VALUES(?,?,?,?,?,?,?,?,?,?)`),
			e.ID,
			e.DelegationID,
			e.Seq,
			string(e.Type),
			e.ActorID,
			e.Summary,
			details,
			e.PreviousHash,
			e.EventHash,
			model.FormatTime(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}

		if p := m.AddPolicy; p != nil {
			scope, err := json.Marshal(p.Scope)
			if err != nil {
				return err
			}
			controls, err := json.Marshal(p.Controls)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO {policies}(id, delegation_id, action, max_amount, currency, scope_json, controls_json, created_at)
VALUES(?,?,?,?,?,?,?,?)`),
				p.ID,
				p.DelegationID,
				string(p.Action),
				p.MaxAmount,
				p.Currency,
				string(scope),
				string(controls),
				model.FormatTime(p.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert policy %s: %w", p.ID, err)
			}
		}

		if m.RemovePolicyID != "" {
			res, err := tx.ExecContext(ctx, s.q(`DELETE FROM {policies} WHERE id = ? AND delegation_id = ?`), m.RemovePolicyID, d.ID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("policy %s: %w", m.RemovePolicyID, ledger.ErrNotFound)
			}
		}

		if u := m.Usage; u != nil {
			ctxJSON, err := json.Marshal(u.Context)
			if err != nil {
				return err
			}
			evaluation := string(u.Evaluation)
			if evaluation == "" {
				evaluation = "{}"
			}
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO {usages}(id, delegation_id, event_id, status, context_json, evaluation_json, created_at)
VALUES(?,?,?,?,?,?,?)`),
				u.ID,
				u.DelegationID,
				u.EventID,
				string(u.Status),
				string(ctxJSON),
				evaluation,
				model.FormatTime(u.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert usage %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) exists(ctx context.Context, tx *sql.Tx, delegationID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM {delegations} WHERE id = ?`), delegationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
