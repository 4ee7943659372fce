package audit

import (
	"encoding/json"
	"time"

	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/model"
)

// Summary holds event counts and metadata for one exported chain.
type Summary struct {
	DelegationID     string                  `json:"delegation_id"`
	Status           model.Status            `json:"status"`
	Total            int                     `json:"total"`
	ByType           map[model.EventType]int `json:"by_type"`
	ByVerdict        map[model.Verdict]int   `json:"by_verdict"`
	AuthorizedAmount int64                   `json:"authorized_amount"`
	Currency         string                  `json:"currency,omitempty"`
	First            time.Time               `json:"first,omitzero"`
	Last             time.Time               `json:"last,omitzero"`
}

// usedDetails is the subset of USED event details a summary reads.
type usedDetails struct {
	Result model.Verdict `json:"result"`
	Amount int64         `json:"amount"`
}

// Summarize counts events per type and USED events per verdict.
func Summarize(x chain.Export) Summary {
	s := Summary{
		DelegationID: x.Delegation.ID,
		Status:       x.Delegation.Status,
		Currency:     x.Delegation.Currency,
		ByType:       map[model.EventType]int{},
		ByVerdict:    map[model.Verdict]int{},
	}
	for _, e := range chain.SortEvents(x.Events) {
		s.Total++
		s.ByType[e.Type]++
		if s.First.IsZero() || e.CreatedAt.Before(s.First) {
			s.First = e.CreatedAt
		}
		if e.CreatedAt.After(s.Last) {
			s.Last = e.CreatedAt
		}
		if e.Type != model.EventUsed {
			continue
		}
		var d usedDetails
		if err := json.Unmarshal(e.Details, &d); err != nil || d.Result == "" {
			continue // not a verdict we can attribute
		}
		s.ByVerdict[d.Result]++
		if d.Result == model.Authorized {
			s.AuthorizedAmount += d.Amount
		}
	}
	return s
}
