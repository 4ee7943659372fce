package audit

import (
	"errors"
	"fmt"
	"os"

	"github.com/ppiankov/mandate/internal/chain"
)

// VerifyResult holds the outcome of replaying an export file.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	DelegationID string `json:"delegation_id,omitempty"`
	Events       int    `json:"events"`
	HeadHash     string `json:"head_hash,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorSeq     int64  `json:"error_seq,omitempty"`
}

// VerifyFile replays the chain in an export file from its founding record alone.
// Returns Valid=true if the chain is intact, or details about the first broken link.
func VerifyFile(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	x, header, err := ReadExport(f)
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}
	return verifyExport(x, header)
}

func verifyExport(x chain.Export, header Header) VerifyResult {
	result := VerifyResult{
		DelegationID: x.Delegation.ID,
		Events:       len(x.Events),
		HeadHash:     x.Delegation.HeadHash,
	}
	if header.GenesisHash != x.Delegation.GenesisHash || header.HeadHash != x.Delegation.HeadHash {
		result.Error = "header hashes disagree with the delegation record"
		return result
	}
	if err := x.Verify(); err != nil {
		result.Error = err.Error()
		var ie *chain.IntegrityError
		if errors.As(err, &ie) {
			result.ErrorSeq = ie.Seq
		}
		return result
	}
	result.Valid = true
	return result
}
