// Package bundle defines JobRequestBundle, the atomic group of 1-100 job
// requests submitted to the bundle executor, and its validator.
package bundle

import "encoding/json"

// Request is one job request inside a bundle.
type Request struct {
	ID             string          `json:"id" binding:"required"`
	JobType        string          `json:"jobType" binding:"required"`
	TenantID       string          `json:"tenantId" binding:"required"`
	ProjectID      *string         `json:"projectId,omitempty"`
	Payload        json.RawMessage `json:"payload" binding:"required"`
	IdempotencyKey string          `json:"idempotencyKey" binding:"required"`
	RequiredScopes []string        `json:"requiredScopes,omitempty"`
	IsActionJob    bool            `json:"isActionJob"`
}

// Metadata carries the bundle's provenance.
type Metadata struct {
	Source        string  `json:"source"`
	TriggeredAt   string  `json:"triggeredAt"`
	CorrelationID *string `json:"correlationId,omitempty"`
}

const (
	MaxRequests        = 100
	MinRequests        = 1
	MaxRequestPayload  = 64 * 1024
	CurrentSchemaVersion = "1.0.0"
)

// Bundle is an atomic group of job requests sharing tenant, trace, and
// metadata.
type Bundle struct {
	BundleID      string    `json:"bundleId" binding:"required"`
	SchemaVersion string    `json:"schemaVersion" binding:"required"`
	Version       string    `json:"version,omitempty"`
	TenantID      string    `json:"tenantId" binding:"required"`
	ProjectID     *string   `json:"projectId,omitempty"`
	TraceID       string    `json:"traceId"`
	Requests      []Request `json:"requests" binding:"required"`
	Metadata      Metadata  `json:"metadata"`
}

// Mode controls whether the executor actually performs action jobs.
type Mode string

const (
	ModeDryRun  Mode = "dry_run"
	ModeExecute Mode = "execute"
)

// ExecutionPayload is the bundle executor job's payload: a Bundle plus
// execution controls.
type ExecutionPayload struct {
	Bundle      Bundle  `json:"bundle"`
	Mode        Mode    `json:"mode"`
	PolicyToken *string `json:"policyToken,omitempty"`
}
