package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/model"
)

// ErrFormat marks an export file that cannot be parsed.
var ErrFormat = errors.New("audit: malformed export")

// maxLine bounds a single JSONL line. Event details are small; this is generous.
const maxLine = 4 << 20

// WriteExport writes x as JSONL: a header line, then every event in chain order.
func WriteExport(w io.Writer, x chain.Export, exportedAt time.Time) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	events := chain.SortEvents(x.Events)
	header := Header{
		Format:      FormatVersion,
		Delegation:  x.Delegation,
		GenesisHash: x.Delegation.GenesisHash,
		HeadHash:    x.Delegation.HeadHash,
		Events:      len(events),
		ExportedAt:  exportedAt.UTC(),
	}
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("audit: write header: %w", err)
	}
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("audit: write event %d: %w", e.Seq, err)
		}
	}
	return bw.Flush()
}

// WriteFile writes x to path, creating parent directories, and syncs it to disk.
func WriteFile(path string, x chain.Export, exportedAt time.Time) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("audit: create directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open file: %w", err)
	}
	if err := WriteExport(f, x, exportedAt); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("audit: sync: %w", err)
	}
	return f.Close()
}

// ReadExport parses an export written by WriteExport. It checks structure only; use
// Export.Verify to replay the chain.
func ReadExport(r io.Reader) (chain.Export, Header, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var header Header
	var events []model.Event
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if line == 1 {
			if err := json.Unmarshal(raw, &header); err != nil {
				return chain.Export{}, Header{}, fmt.Errorf("%w: header: %v", ErrFormat, err)
			}
			if header.Format != FormatVersion {
				return chain.Export{}, Header{}, fmt.Errorf("%w: unsupported format %q", ErrFormat, header.Format)
			}
			continue
		}
		var e model.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return chain.Export{}, Header{}, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return chain.Export{}, Header{}, fmt.Errorf("audit: read export: %w", err)
	}
	if line == 0 {
		return chain.Export{}, Header{}, fmt.Errorf("%w: empty file", ErrFormat)
	}
	if header.Events != len(events) {
		return chain.Export{}, Header{}, fmt.Errorf("%w: header announces %d events, file has %d", ErrFormat, header.Events, len(events))
	}
	return chain.Export{Delegation: header.Delegation, Events: events}, header, nil
}
