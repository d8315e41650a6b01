package worker

import (
	"context"
	"sync"

	"github.com/hardonian/jobforge/internal/domain/job"
	"github.com/hardonian/jobforge/internal/domain/manifest"
)

// Result is what a Handler hands back for a completed job: the manifest to
// persist and an optional opaque pointer to a larger result payload stored
// elsewhere.
type Result struct {
	Manifest  manifest.Manifest
	ResultRef *string
}

// Handler executes one job. ctx is cancelled if the job's claim is lost
// (heartbeat failure) so a well-behaved handler should select on ctx.Done()
// around any long-running work.
type Handler func(ctx context.Context, j job.Job) (Result, error)

var (
	handlersMu sync.RWMutex
	handlers   = map[string]Handler{}
)

// Register associates a job type with the handler that executes it.
// Intended to be called from package init() by the package that owns a job
// type (bundleexec registers "autopilot.execute_request_bundle", etc).
func Register(jobType string, h Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[jobType] = h
}

func lookup(jobType string) (Handler, bool) {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	h, ok := handlers[jobType]
	return h, ok
}
