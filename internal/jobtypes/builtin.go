package jobtypes

import "strings"

// ScanPayload is the payload for the "ops.scan" job type, a network range
// scan request.
type ScanPayload struct {
	Target string `json:"target"`
}

// AgentExecutePayload is the payload for "aias.agent.execute" (§8 scenario 3).
type AgentExecutePayload struct {
	X int `json:"x"`
}

func init() {
	Register("ops.scan",
		func() any { return &ScanPayload{} },
		func(payload any) []Issue {
			p, ok := payload.(*ScanPayload)
			if !ok {
				return []Issue{{Field: "payload", Message: "expected ops.scan payload"}}
			}
			if strings.TrimSpace(p.Target) == "" {
				return []Issue{{Field: "target", Message: "target is required"}}
			}
			return nil
		},
	)

	Register("aias.agent.execute",
		func() any { return &AgentExecutePayload{} },
		nil,
	)
}
