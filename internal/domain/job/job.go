// Package job defines the Job entity and its status machine. A Job is the
// unit of work claimed by workers; it is created by enqueue_job and mutated
// only through the store's named procedures (never deleted — terminal
// dead-letter state is represented by StatusDead).
package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusRunning, StatusSucceeded, StatusFailed, StatusDead:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound       = errors.New("job: not found")
	ErrClaimLost      = errors.New("job: claim lost")
	ErrNotFailed      = errors.New("job: not in failed state")
	ErrTenantMismatch = errors.New("job: tenant mismatch")
)

// Job is the unit of work claimed, executed, and reported on by a worker.
type Job struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	ProjectID      *string         `json:"projectId,omitempty"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         Status          `json:"status"`
	Priority       int             `json:"priority"`
	AttemptNo      int             `json:"attemptNo"`
	MaxAttempts    int             `json:"maxAttempts"`
	AvailableAt    time.Time       `json:"availableAt"`
	ClaimedBy      *string         `json:"claimedBy,omitempty"`
	ClaimedAt      *time.Time      `json:"claimedAt,omitempty"`
	HeartbeatAt    *time.Time      `json:"heartbeatAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ResultID       *string         `json:"resultId,omitempty"`
	TraceID        string          `json:"traceId"`
	IsActionJob    bool            `json:"isActionJob"`
	RequiredScopes []string        `json:"requiredScopes,omitempty"`
}

// EnqueueRequest carries the arguments to the enqueue_job procedure.
type EnqueueRequest struct {
	TenantID       string
	ProjectID      *string
	Type           string
	Payload        json.RawMessage
	IdempotencyKey string
	Priority       int
	MaxAttempts    int
	AvailableAt    time.Time
	IsActionJob    bool
	RequiredScopes []string
	TraceID        string
}

const MaxPayloadBytes = 64 * 1024

// New builds a pending Job from an EnqueueRequest, applying the defaults
// named in the store's enqueue_job contract.
func New(req EnqueueRequest) Job {
	now := time.Now().UTC()

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	availableAt := req.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return Job{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Status:         StatusPending,
		Priority:       req.Priority,
		AttemptNo:      0,
		MaxAttempts:    maxAttempts,
		AvailableAt:    availableAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		TraceID:        traceID,
		IsActionJob:    req.IsActionJob,
		RequiredScopes: req.RequiredScopes,
	}
}
