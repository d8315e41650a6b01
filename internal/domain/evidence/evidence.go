// Package evidence defines EvidencePacket, the hash-sealed, redacted
// receipt emitted by the connector harness for every invocation attempt.
package evidence

import (
	"time"

	"github.com/hardonian/jobforge/internal/canonicaljson"
)

// ConnectorError is the error detail surfaced when a connector invocation
// does not succeed.
type ConnectorError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Packet is the cryptographic receipt of one connector invocation.
// EvidenceHash covers every other field and is computed last, over the
// canonical serialization of the packet with EvidenceHash set to "".
type Packet struct {
	EvidenceID       string            `json:"evidenceId"`
	ConnectorID      string            `json:"connectorId"`
	TraceID          string            `json:"traceId"`
	TenantID         string            `json:"tenantId"`
	ProjectID        *string           `json:"projectId,omitempty"`
	StartedAt        time.Time         `json:"startedAt"`
	EndedAt          time.Time         `json:"endedAt"`
	DurationMs       int64             `json:"durationMs"`
	Retries          int               `json:"retries"`
	StatusCodes      []int             `json:"statusCodes,omitempty"`
	RedactedInput    map[string]any    `json:"redactedInput,omitempty"`
	OutputHash       string            `json:"outputHash,omitempty"`
	OK               bool              `json:"ok"`
	Error            *ConnectorError   `json:"error,omitempty"`
	BackoffDelaysMs  []int64           `json:"backoffDelaysMs,omitempty"`
	RateLimited      bool              `json:"rateLimited"`
	LeakScrubbed     bool              `json:"leakScrubbed,omitempty"`
	EvidenceHash     string            `json:"evidenceHash"`
}

// Seal computes EvidenceHash over the canonical serialization of every
// other field (EvidenceHash itself is zeroed for the purpose of hashing)
// and sets it on p.
func Seal(p *Packet) error {
	p.EvidenceHash = ""
	h, err := canonicaljson.Hash(p)
	if err != nil {
		return err
	}
	p.EvidenceHash = h
	return nil
}
