// Package job decodes the metadata blob attached to a job dispatch.
package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Metadata carries the per-call parameters a dispatcher attaches to a job.
type Metadata struct {
	// PhoneNumber is the outbound destination. Empty means the callee joins
	// the room directly and no dial is placed.
	PhoneNumber string `json:"phone_number"`

	// TransferTo is the human handoff target offered to the transfer tool.
	TransferTo string `json:"transfer_to"`
}

// Direct reports whether the session runs in direct-participant mode,
// skipping the dialer.
func (m Metadata) Direct() bool {
	return m.PhoneNumber == ""
}

// Parse decodes raw job metadata. On malformed input it returns a zero
// Metadata together with the decode error so the caller can log and carry
// on; a bad blob must never take the job down.
func Parse(raw json.RawMessage) (Metadata, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Metadata{}, nil
	}

	var meta Metadata
	if err := json.Unmarshal(trimmed, &meta); err != nil {
		return Metadata{}, fmt.Errorf("job: parse metadata: %w", err)
	}

	meta.PhoneNumber = strings.TrimSpace(meta.PhoneNumber)
	meta.TransferTo = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(meta.TransferTo), "tel:"))
	return meta, nil
}
