package chain

import (
	"encoding/json"

	"github.com/ppiankov/mandate/internal/model"
)

// Link stamps e as the next event of d: it assigns the sequence number and previous
// hash, computes the event hash, and advances d's head. d is untouched on error.
func Link(d *model.Delegation, e model.Event) (model.Event, error) {
	seq := d.NextSeq
	if seq == 0 {
		seq = 1
	}
	e.DelegationID = d.ID
	e.Seq = seq
	e.PreviousHash = d.HeadHash
	if len(e.Details) == 0 {
		e.Details = json.RawMessage("{}")
	}

	hash, err := ComputeEventHash(PayloadOf(e), d.HeadHash)
	if err != nil {
		return model.Event{}, err
	}
	e.EventHash = hash

	d.HeadHash = hash
	d.NextSeq = seq + 1
	return e, nil
}
