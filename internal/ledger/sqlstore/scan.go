package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/mandate/internal/model"
)

const delegationColumns = `id, grantor_id, delegate_id, bureau, starts_at, ends_at, max_amount_per_use, max_total_amount, currency,
status, status_changed_at, usage_count, usage_total_amount, last_used_at, last_used_for, last_used_amount,
genesis_hash, head_hash, next_seq, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDelegation(row scanner) (model.Delegation, error) {
	var (
		d                                      model.Delegation
		status                                 string
		startsAt, endsAt, changedAt, createdAt string
		lastUsedAt                             sql.NullString
	)
	if err := row.Scan(
		&d.ID,
		&d.GrantorID,
		&d.DelegateID,
		&d.Bureau,
		&startsAt,
		&endsAt,
		&d.MaxAmountPerUse,
		&d.MaxTotalAmount,
		&d.Currency,
		&status,
		&changedAt,
		&d.UsageCount,
		&d.UsageTotalAmount,
		&lastUsedAt,
		&d.LastUsedFor,
		&d.LastUsedAmount,
		&d.GenesisHash,
		&d.HeadHash,
		&d.NextSeq,
		&createdAt,
	); err != nil {
		return model.Delegation{}, err
	}
	d.Status = model.Status(status)

	var err error
	if d.StartsAt, err = parseTime("starts_at", startsAt); err != nil {
		return model.Delegation{}, err
	}
	if d.EndsAt, err = parseTime("ends_at", endsAt); err != nil {
		return model.Delegation{}, err
	}
	if d.StatusChangedAt, err = parseTime("status_changed_at", changedAt); err != nil {
		return model.Delegation{}, err
	}
	if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return model.Delegation{}, err
	}
	if lastUsedAt.Valid {
		at, err := parseTime("last_used_at", lastUsedAt.String)
		if err != nil {
			return model.Delegation{}, err
		}
		d.LastUsedAt = &at
	}
	return d, nil
}

func scanPolicy(row scanner) (model.Policy, error) {
	var (
		p                 model.Policy
		action, createdAt string
		scope, controls   string
	)
	if err := row.Scan(&p.ID, &p.DelegationID, &action, &p.MaxAmount, &p.Currency, &scope, &controls, &createdAt); err != nil {
		return model.Policy{}, err
	}
	p.Action = model.ActionKind(action)
	if err := json.Unmarshal([]byte(scope), &p.Scope); err != nil {
		return model.Policy{}, fmt.Errorf("decode scope of policy %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(controls), &p.Controls); err != nil {
		return model.Policy{}, fmt.Errorf("decode controls of policy %s: %w", p.ID, err)
	}
	var err error
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return model.Policy{}, err
	}
	return p, nil
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		e                  model.Event
		eventType, details string
		createdAt          string
	)
	if err := row.Scan(&e.ID, &e.DelegationID, &e.Seq, &eventType, &e.ActorID, &e.Summary, &details, &e.PreviousHash, &e.EventHash, &createdAt); err != nil {
		return model.Event{}, err
	}
	e.Type = model.EventType(eventType)
	e.Details = json.RawMessage(details)
	var err error
	if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return model.Event{}, err
	}
	return e, nil
}

func scanUsage(row scanner) (model.Usage, error) {
	var (
		u                           model.Usage
		status, ctxJSON, evaluation string
		createdAt                   string
	)
	if err := row.Scan(&u.ID, &u.DelegationID, &u.EventID, &status, &ctxJSON, &evaluation, &createdAt); err != nil {
		return model.Usage{}, err
	}
	u.Status = model.Verdict(status)
	u.Evaluation = json.RawMessage(evaluation)
	if err := json.Unmarshal([]byte(ctxJSON), &u.Context); err != nil {
		return model.Usage{}, fmt.Errorf("decode context of usage %s: %w", u.ID, err)
	}
	var err error
	if u.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return model.Usage{}, err
	}
	return u, nil
}

func parseTime(column, value string) (time.Time, error) {
	t, err := model.ParseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return t, nil
}

func nullTime(d model.Delegation) sql.NullString {
	if d.LastUsedAt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: model.FormatTime(*d.LastUsedAt), Valid: true}
}
