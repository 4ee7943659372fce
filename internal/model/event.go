package model

import (
	"encoding/json"
	"time"
)

// Event is one immutable, hash-chained audit entry of a delegation.
// Details holds canonical JSON so the stored bytes hash identically on replay.
type Event struct {
	ID           string          `json:"id"`
	DelegationID string          `json:"delegation_id"`
	Seq          int64           `json:"seq"`
	Type         EventType       `json:"event_type"`
	ActorID      string          `json:"actor_id"`
	Summary      string          `json:"summary"`
	Details      json.RawMessage `json:"details"`
	PreviousHash string          `json:"previous_hash"`
	EventHash    string          `json:"event_hash"`
	CreatedAt    time.Time       `json:"created_at"`
}
