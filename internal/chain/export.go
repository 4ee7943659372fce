package chain

import "github.com/ppiankov/mandate/internal/model"

// Export is everything an external auditor needs to replay a delegation's chain.
type Export struct {
	Delegation model.Delegation `json:"delegation"`
	Events     []model.Event    `json:"events"`
}

// NewExport builds an export with events in chain order.
func NewExport(d model.Delegation, events []model.Event) Export {
	return Export{Delegation: d, Events: SortEvents(events)}
}

// Verify replays the exported chain.
func (x Export) Verify() error {
	return Verify(x.Delegation, x.Events)
}
