package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/mandate/internal/model"
)

// GenesisMarker stands in for the previous hash when a chain has no predecessor.
const GenesisMarker = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// ErrPayload marks a payload that cannot be canonically serialised. Callers must treat
// it as a fatal precondition violation and abort the mutation.
var ErrPayload = errors.New("chain: payload not serialisable")

// EventPayload is the fixed set of event fields covered by the event hash.
type EventPayload struct {
	DelegationID string
	Seq          int64
	EventID      string
	Type         model.EventType
	ActorID      string
	Summary      string
	Details      json.RawMessage
	CreatedAt    time.Time
}

// PayloadOf extracts the hashed fields of a stored event.
func PayloadOf(e model.Event) EventPayload {
	return EventPayload{
		DelegationID: e.DelegationID,
		Seq:          e.Seq,
		EventID:      e.ID,
		Type:         e.Type,
		ActorID:      e.ActorID,
		Summary:      e.Summary,
		Details:      e.Details,
		CreatedAt:    e.CreatedAt,
	}
}

func (p EventPayload) fields() map[string]any {
	details := p.Details
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}
	return map[string]any{
		"delegation_id": p.DelegationID,
		"seq":           p.Seq,
		"event_id":      p.EventID,
		"event_type":    string(p.Type),
		"actor_id":      p.ActorID,
		"summary":       p.Summary,
		"details":       details,
		"created_at":    model.FormatTime(p.CreatedAt),
	}
}

// ComputeEventHash returns the digest of payload chained onto previousHash.
// An empty previousHash is replaced by GenesisMarker.
func ComputeEventHash(payload EventPayload, previousHash string) (string, error) {
	body, err := Canonicalize(payload.fields())
	if err != nil {
		return "", fmt.Errorf("%w: event %s: %v", ErrPayload, payload.EventID, err)
	}
	return digest(previousHash, body), nil
}

// GenesisHash hashes the founding attributes of a delegation, chained from the marker.
// Only attributes that never change after creation take part.
func GenesisHash(d model.Delegation) (string, error) {
	body, err := Canonicalize(map[string]any{
		"delegation_id":      d.ID,
		"grantor_id":         d.GrantorID,
		"delegate_id":        d.DelegateID,
		"bureau":             d.Bureau,
		"starts_at":          model.FormatTime(d.StartsAt),
		"ends_at":            model.FormatTime(d.EndsAt),
		"max_amount_per_use": d.MaxAmountPerUse,
		"max_total_amount":   d.MaxTotalAmount,
		"currency":           d.Currency,
		"created_at":         model.FormatTime(d.CreatedAt),
	})
	if err != nil {
		return "", fmt.Errorf("%w: delegation %s: %v", ErrPayload, d.ID, err)
	}
	return digest(GenesisMarker, body), nil
}

// MarshalDetails canonicalises structured event details for storage.
func MarshalDetails(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: details: %v", ErrPayload, err)
	}
	body, err := Canonicalize(json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: details: %v", ErrPayload, err)
	}
	return json.RawMessage(body), nil
}

func digest(previousHash string, body []byte) string {
	if previousHash == "" {
		previousHash = GenesisMarker
	}
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write([]byte{'\n'})
	h.Write(body)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
