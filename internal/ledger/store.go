package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/mandate/internal/model"
)

var (
	// ErrNotFound is returned for an unknown delegation or policy.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a delegation whose id is taken.
	ErrExists = errors.New("already exists")
	// ErrConflict is returned by Commit when the stored head moved since it was read.
	ErrConflict = errors.New("head hash changed since snapshot")
	// ErrInvalidMutation is returned for a mutation whose parts do not agree.
	ErrInvalidMutation = errors.New("invalid mutation")
)

// Snapshot is a delegation and its policies read at one point in time.
type Snapshot struct {
	Delegation model.Delegation
	Policies   []model.Policy
}

// Mutation is one atomic change to a delegation: exactly one chained event plus the
// delegation state it produces, and optionally a policy change and a usage record.
type Mutation struct {
	// ExpectedHead is the head hash the mutation was computed against.
	ExpectedHead string
	Delegation   model.Delegation
	Event        model.Event

	AddPolicy      *model.Policy
	RemovePolicyID string
	Usage          *model.Usage
}

// Validate checks that the event, delegation state and attachments of m are consistent.
func (m Mutation) Validate() error {
	d, e := m.Delegation, m.Event
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidMutation, fmt.Sprintf(format, args...))
	}
	switch {
	case d.ID == "":
		return fail("missing delegation id")
	case e.ID == "":
		return fail("missing event id")
	case e.DelegationID != d.ID:
		return fail("event %s belongs to %s, not %s", e.ID, e.DelegationID, d.ID)
	case e.PreviousHash != m.ExpectedHead:
		return fail("event %s does not link to expected head", e.ID)
	case d.HeadHash != e.EventHash:
		return fail("delegation head does not match event %s", e.ID)
	case d.NextSeq != e.Seq+1:
		return fail("delegation next seq %d does not follow event seq %d", d.NextSeq, e.Seq)
	}
	if m.AddPolicy != nil && m.RemovePolicyID != "" {
		return fail("cannot add and remove a policy in one mutation")
	}
	if m.AddPolicy != nil && (m.AddPolicy.ID == "" || m.AddPolicy.DelegationID != d.ID) {
		return fail("policy must have an id and belong to %s", d.ID)
	}
	if u := m.Usage; u != nil && (u.ID == "" || u.DelegationID != d.ID || u.EventID != e.ID) {
		return fail("usage must have an id and reference %s and event %s", d.ID, e.ID)
	}
	return nil
}

// Store is the persistence collaborator. Every Commit is all-or-nothing and conditional
// on the delegation's stored head still equalling Mutation.ExpectedHead.
type Store interface {
	CreateDelegation(ctx context.Context, d model.Delegation) error
	Snapshot(ctx context.Context, delegationID string) (Snapshot, error)
	Delegations(ctx context.Context) ([]model.Delegation, error)
	Events(ctx context.Context, delegationID string) ([]model.Event, error)
	UsagesByStatus(ctx context.Context, status model.Verdict) ([]model.Usage, error)
	Commit(ctx context.Context, m Mutation) error
	Close() error
}
