package event

import (
	"time"

	"github.com/google/uuid"
)

// NewFromSubmitRequest builds an immutable Event from a producer's
// SubmitRequest, assigning an id and trace id when the caller did not
// supply one.
func NewFromSubmitRequest(req SubmitRequest) Event {
	now := time.Now().UTC()

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return Event{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
		EventType:      req.EventType,
		OccurredAt:     req.OccurredAt,
		TraceID:        traceID,
		SourceApp:      req.SourceApp,
		SourceModule:   req.SourceModule,
		Subject:        req.Subject,
		Payload:        req.Payload,
		ContainsPII:    req.ContainsPII,
		RedactionHints: req.RedactionHints,
		CreatedAt:      now,
	}
}
