package chain

import "github.com/google/uuid"

// Kind namespaces identifiers drawn from the shared generator.
type Kind string

const (
	KindDelegation Kind = "dlg"
	KindPolicy     Kind = "pol"
	KindEvent      Kind = "evt"
	KindUsage      Kind = "use"
)

// NewID returns "<kind>_<uuid v7>". Version 7 ids embed a millisecond timestamp and a
// monotonic counter, so ids of one kind sort lexically in creation order.
func NewID(kind Kind) string {
	return string(kind) + "_" + uuid.Must(uuid.NewV7()).String()
}
