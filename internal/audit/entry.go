package audit

import (
	"time"

	"github.com/ppiankov/mandate/internal/model"
)

// FormatVersion identifies the export file layout.
const FormatVersion = "mandate-export/v1"

// Header is the first line of an export file. The remaining lines are the delegation's
// events in ascending sequence, one JSON object per line.
type Header struct {
	Format      string           `json:"format"`
	Delegation  model.Delegation `json:"delegation"`
	GenesisHash string           `json:"genesis_hash"`
	HeadHash    string           `json:"head_hash"`
	Events      int              `json:"events"`
	ExportedAt  time.Time        `json:"exported_at"`
}
