package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ppiankov/mandate/internal/model"
)

// ErrIntegrity marks a broken chain. It is never auto-repaired.
var ErrIntegrity = errors.New("chain integrity violation")

// IntegrityError describes the first broken link found while replaying a chain.
type IntegrityError struct {
	DelegationID string `json:"delegation_id"`
	EventID      string `json:"event_id,omitempty"`
	Seq          int64  `json:"seq,omitempty"`
	Expected     string `json:"expected,omitempty"`
	Actual       string `json:"actual,omitempty"`
	Reason       string `json:"reason"`
}

func (e *IntegrityError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("chain integrity violation on %s at seq %d (%s): %s", e.DelegationID, e.Seq, e.EventID, e.Reason)
	}
	return fmt.Sprintf("chain integrity violation on %s: %s", e.DelegationID, e.Reason)
}

// Unwrap lets errors.Is match ErrIntegrity.
func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// Verify replays events in ascending sequence from the delegation's genesis hash and
// checks that every link and the final head match what is stored.
func Verify(d model.Delegation, events []model.Event) error {
	genesis, err := GenesisHash(d)
	if err != nil {
		return err
	}
	if genesis != d.GenesisHash {
		return &IntegrityError{
			DelegationID: d.ID,
			Expected:     genesis,
			Actual:       d.GenesisHash,
			Reason:       "genesis hash does not match founding attributes",
		}
	}

	prev := d.GenesisHash
	for i, e := range SortEvents(events) {
		fail := func(reason, expected, actual string) error {
			return &IntegrityError{
				DelegationID: d.ID,
				EventID:      e.ID,
				Seq:          e.Seq,
				Expected:     expected,
				Actual:       actual,
				Reason:       reason,
			}
		}

		if e.DelegationID != d.ID {
			return fail("event belongs to another delegation", d.ID, e.DelegationID)
		}
		if want := int64(i + 1); e.Seq != want {
			return fail(fmt.Sprintf("sequence gap or duplicate: expected seq %d", want), "", "")
		}
		if e.PreviousHash != prev {
			return fail("previous hash does not match chain", prev, e.PreviousHash)
		}
		got, err := ComputeEventHash(PayloadOf(e), prev)
		if err != nil {
			return err
		}
		if got != e.EventHash {
			return fail("event hash does not match payload", got, e.EventHash)
		}
		prev = got
	}

	if prev != d.HeadHash {
		return &IntegrityError{
			DelegationID: d.ID,
			Expected:     prev,
			Actual:       d.HeadHash,
			Reason:       "head hash does not match chain tip",
		}
	}
	return nil
}

// SortEvents returns a copy of events ordered by sequence, then creation time.
func SortEvents(events []model.Event) []model.Event {
	out := append([]model.Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
