// Package jobtypes generalizes the fixed job-type switch the source used
// into a registry: each job type registers a payload prototype and a
// validation function, so the producer API's handlers share one source of
// truth for "is this payload shaped right for this type" instead of
// duplicating a type switch per caller. The worker's handler registry is
// separate and does not consult this one.
package jobtypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownType        = errors.New("jobtypes: unknown job type")
	ErrPayloadTypeMismatch = errors.New("jobtypes: payload does not match registered type")
)

// Issue is one payload validation problem, named per the REDESIGN FLAGS
// rule that validation returns every issue rather than the first.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator returns every issue found in a decoded payload. A nil/empty
// result means the payload is valid.
type Validator func(payload any) []Issue

type registration struct {
	prototype func() any
	validate  Validator
}

var (
	mu       sync.RWMutex
	registry = map[string]registration{}
)

// Register associates a job type with a payload prototype constructor and
// validator. It is called from package init(); in this module the built-in
// types are registered in builtin.go.
func Register(jobType string, prototype func() any, validate Validator) {
	mu.Lock()
	defer mu.Unlock()
	registry[jobType] = registration{prototype: prototype, validate: validate}
}

// IsRegistered reports whether jobType has a registered payload shape.
func IsRegistered(jobType string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[jobType]
	return ok
}

// Decode unmarshals raw into the registered prototype for jobType. Unknown
// types decode into a generic map so unregistered job types (owned by
// out-of-process workers in another language) still flow through the
// store untouched.
func Decode(jobType string, raw json.RawMessage) (any, error) {
	mu.RLock()
	reg, ok := registry[jobType]
	mu.RUnlock()

	if !ok {
		var generic map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &generic); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPayloadTypeMismatch, err)
			}
		}
		return generic, nil
	}

	payload := reg.prototype()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPayloadTypeMismatch, err)
		}
	}
	return payload, nil
}

// Validate runs the registered validator for jobType against a decoded
// payload, returning every issue found. Unregistered types are always
// considered structurally valid (the core does not own their schema).
func Validate(jobType string, payload any) []Issue {
	mu.RLock()
	reg, ok := registry[jobType]
	mu.RUnlock()

	if !ok || reg.validate == nil {
		return nil
	}
	return reg.validate(payload)
}

// Encode marshals payload back to json.RawMessage for persistence.
func Encode(payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobtypes: encode: %w", err)
	}
	return json.RawMessage(b), nil
}
