package audit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders an exported chain as a human-readable text timeline.
func FormatTimeline(x chain.Export) string {
	d := x.Delegation
	if len(x.Events) == 0 {
		return fmt.Sprintf("Delegation: %s | No events.\n", d.ID)
	}

	var b strings.Builder
	s := Summarize(x)
	b.WriteString(fmt.Sprintf("Delegation: %s | %s -> %s | %s–%s UTC\n",
		d.ID, d.GrantorID, d.DelegateID, s.First.Format("2006-01-02 15:04:05"), s.Last.Format("15:04:05")))
	b.WriteString(separator + "\n")

	for _, e := range chain.SortEvents(x.Events) {
		b.WriteString(fmt.Sprintf("%-5d %-19s %-15s %-16s %s\n",
			e.Seq, e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.Type, truncate(e.ActorID, 16), truncate(e.Summary, 48)))
	}

	b.WriteString(separator + "\n")
	b.WriteString(FormatSummary(s))
	return b.String()
}

// FormatSummary renders the counts line of a summary.
func FormatSummary(s Summary) string {
	parts := []string{}
	for _, v := range []model.Verdict{model.Authorized, model.Denied, model.PendingControl} {
		if n := s.ByVerdict[v]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(string(v))))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no usage")
	}
	return fmt.Sprintf("Summary: %d events | %s | authorized %d %s | status %s\n",
		s.Total, strings.Join(parts, ", "), s.AuthorizedAmount, s.Currency, s.Status)
}

// FormatJSON renders v as indented JSON.
func FormatJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(data), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
