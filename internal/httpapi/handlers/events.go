package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hardonian/jobforge/internal/config"
	"github.com/hardonian/jobforge/internal/domain/event"
	"github.com/hardonian/jobforge/internal/store"
	"github.com/gin-gonic/gin"
)

// TriggerEvaluator matches a submitted event against enabled bundle trigger
// rules. The router wires bundleexec.Executor.EvaluateEvent here; kept as a
// plain func type so this handler doesn't import bundleexec directly (it
// would otherwise import the worker package transitively for no reason).
type TriggerEvaluator func(ctx context.Context, evt event.Event) error

type EventsHandler struct {
	store     store.Store
	evaluator TriggerEvaluator
}

func NewEventsHandler(s store.Store, evaluator TriggerEvaluator) *EventsHandler {
	return &EventsHandler{store: s, evaluator: evaluator}
}

// POST /events
func (h *EventsHandler) Submit(ctx *gin.Context) {
	var req event.SubmitRequest
	if !BindJSON(ctx, &req) {
		return
	}

	evt := event.NewFromSubmitRequest(req)

	if err := h.store.CreateEvent(ctx.Request.Context(), evt); err != nil {
		respondStoreError(ctx, err)
		return
	}

	if h.evaluator != nil && config.BundleTriggersEnabled() {
		// Trigger evaluation enqueues any firing bundle as an ordinary job;
		// it never blocks the producer's response. Evaluation runs once in
		// the background; a failure is logged and not retried.
		go func(evt event.Event) {
			bg := context.Background()
			if err := h.evaluator(bg, evt); err != nil {
				slog.Default().ErrorContext(bg, "trigger.evaluate_failed", "event_id", evt.ID, "err", err)
			}
		}(evt)
	}

	ctx.JSON(http.StatusAccepted, gin.H{"id": evt.ID})
}
