// Package event defines Event, the immutable fact producers submit that
// may match a BundleTriggerRule. Unlike Job, an Event is never mutated
// after creation.
package event

import (
	"encoding/json"
	"time"
)

// Subject optionally identifies the entity an event is about.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event is an immutable fact submitted by a producer.
type Event struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	ProjectID       *string         `json:"projectId,omitempty"`
	EventType       string          `json:"eventType" binding:"required"`
	OccurredAt      time.Time       `json:"occurredAt" binding:"required"`
	TraceID         string          `json:"traceId"`
	SourceApp       string          `json:"sourceApp" binding:"required"`
	SourceModule    string          `json:"sourceModule,omitempty"`
	Subject         *Subject        `json:"subject,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	ContainsPII     bool            `json:"containsPii"`
	RedactionHints  []string        `json:"redactionHints,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SubmitRequest is the producer-facing request envelope for submitEvent.
type SubmitRequest struct {
	TenantID       string          `json:"tenantId" binding:"required"`
	ProjectID      *string         `json:"projectId,omitempty"`
	EventType      string          `json:"eventType" binding:"required"`
	OccurredAt     time.Time       `json:"occurredAt" binding:"required"`
	TraceID        string          `json:"traceId,omitempty"`
	SourceApp      string          `json:"sourceApp" binding:"required"`
	SourceModule   string          `json:"sourceModule,omitempty"`
	Subject        *Subject        `json:"subject,omitempty"`
	Payload        json.RawMessage `json:"payload" binding:"required"`
	ContainsPII    bool            `json:"containsPii"`
	RedactionHints []string        `json:"redactionHints,omitempty"`
}
