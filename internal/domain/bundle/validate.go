package bundle

import "fmt"

// Issue is one validation problem found in a bundle or one of its requests.
// RequestID is empty for bundle-level issues.
type Issue struct {
	RequestID string `json:"requestId,omitempty"`
	Field     string `json:"field"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Validate checks b against every invariant in the data model and returns
// every issue found, not just the first (per the REDESIGN FLAGS directive
// that validation functions return the full issue list).
func Validate(b Bundle) []Issue {
	var issues []Issue

	if b.BundleID == "" {
		issues = append(issues, Issue{Field: "bundleId", Code: "required", Message: "bundleId is required"})
	}
	if b.SchemaVersion == "" {
		issues = append(issues, Issue{Field: "schemaVersion", Code: "required", Message: "schemaVersion is required"})
	}
	if b.Version != "" && b.Version != b.SchemaVersion {
		issues = append(issues, Issue{
			Field:   "version",
			Code:    "schema_version_mismatch",
			Message: fmt.Sprintf("version %q does not match schemaVersion %q; schemaVersion is authoritative", b.Version, b.SchemaVersion),
		})
	}
	if b.TenantID == "" {
		issues = append(issues, Issue{Field: "tenantId", Code: "required", Message: "tenantId is required"})
	}

	n := len(b.Requests)
	if n < MinRequests || n > MaxRequests {
		issues = append(issues, Issue{
			Field:   "requests",
			Code:    "bad_length",
			Message: fmt.Sprintf("requests must contain between %d and %d items, got %d", MinRequests, MaxRequests, n),
		})
	}

	seenIDs := make(map[string]bool, n)
	seenKeys := make(map[string]bool, n)

	for _, r := range b.Requests {
		if r.ID == "" {
			issues = append(issues, Issue{RequestID: r.ID, Field: "id", Code: "required", Message: "request id is required"})
		} else if seenIDs[r.ID] {
			issues = append(issues, Issue{RequestID: r.ID, Field: "id", Code: "duplicate", Message: "request id is not unique within the bundle"})
		}
		seenIDs[r.ID] = true

		if r.JobType == "" {
			issues = append(issues, Issue{RequestID: r.ID, Field: "jobType", Code: "required", Message: "jobType is required"})
		}

		if r.TenantID != b.TenantID {
			issues = append(issues, Issue{RequestID: r.ID, Field: "tenantId", Code: "tenant_mismatch", Message: "request tenantId must equal bundle tenantId"})
		}

		if b.ProjectID != nil {
			if r.ProjectID == nil || *r.ProjectID != *b.ProjectID {
				issues = append(issues, Issue{RequestID: r.ID, Field: "projectId", Code: "project_mismatch", Message: "request projectId must equal bundle projectId when set"})
			}
		}

		if r.IdempotencyKey == "" {
			issues = append(issues, Issue{RequestID: r.ID, Field: "idempotencyKey", Code: "required", Message: "idempotencyKey is required"})
		} else if seenKeys[r.IdempotencyKey] {
			issues = append(issues, Issue{RequestID: r.ID, Field: "idempotencyKey", Code: "duplicate", Message: "idempotencyKey is not unique within the bundle"})
		}
		seenKeys[r.IdempotencyKey] = true

		if len(r.Payload) > MaxRequestPayload {
			issues = append(issues, Issue{RequestID: r.ID, Field: "payload", Code: "too_large", Message: fmt.Sprintf("payload exceeds %d bytes", MaxRequestPayload)})
		}
	}

	return issues
}
