package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ppiankov/mandate/internal/model"
)

// ErrCeilingBreach is returned when an AUTHORIZED usage would push the running total
// past the aggregate ceiling. It means the evaluation was computed on stale state.
var ErrCeilingBreach = errors.New("authorized usage would exceed aggregate ceiling")

// RecordUsage builds the usage row for one evaluated request and applies it to d's
// running totals. A usage is produced for every verdict; only AUTHORIZED moves the
// counters. PENDING_CONTROL usages stay uncounted until a control-completion step
// confirms them. d is unchanged on error.
func RecordUsage(d *model.Delegation, ctx model.ActionContext, eval model.Evaluation, usageID, eventID string, now time.Time) (model.Usage, error) {
	raw, err := json.Marshal(eval)
	if err != nil {
		return model.Usage{}, fmt.Errorf("encode evaluation: %w", err)
	}

	usage := model.Usage{
		ID:           usageID,
		DelegationID: d.ID,
		Context:      ctx,
		Status:       eval.Result,
		Evaluation:   raw,
		EventID:      eventID,
		CreatedAt:    now.UTC(),
	}

	if eval.Result != model.Authorized {
		return usage, nil
	}
	if ctx.Amount < 0 || d.UsageTotalAmount > math.MaxInt64-ctx.Amount {
		return model.Usage{}, fmt.Errorf("%w: amount %d overflows total %d", ErrCeilingBreach, ctx.Amount, d.UsageTotalAmount)
	}
	total := d.UsageTotalAmount + ctx.Amount
	if d.MaxTotalAmount > 0 && total > d.MaxTotalAmount {
		return model.Usage{}, fmt.Errorf("%w: %d > %d", ErrCeilingBreach, total, d.MaxTotalAmount)
	}

	at := usage.CreatedAt
	d.UsageCount++
	d.UsageTotalAmount = total
	d.LastUsedAt = &at
	d.LastUsedFor = LastUsedFor(ctx)
	d.LastUsedAmount = ctx.Amount
	return usage, nil
}

// LastUsedFor describes what a usage was for, as "<action> <document_type> <document_ref>".
func LastUsedFor(ctx model.ActionContext) string {
	return fmt.Sprintf("%s %s %s", ctx.Action, ctx.DocumentType, ctx.DocumentRef)
}
