package model

import (
	"encoding/json"
	"time"
)

// Usage is the immutable record of one evaluated action and its outcome.
type Usage struct {
	ID           string          `json:"id"`
	DelegationID string          `json:"delegation_id"`
	Context      ActionContext   `json:"context"`
	Status       Verdict         `json:"status"`
	Evaluation   json.RawMessage `json:"evaluation"`
	EventID      string          `json:"event_id"`
	CreatedAt    time.Time       `json:"created_at"`
}
