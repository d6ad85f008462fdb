package router

import (
	"context"
	"log/slog"

	"github.com/coalmine/coalmine/internal/detector"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/registry"
	"github.com/coalmine/coalmine/internal/store"
)

// Router fans change-feed mutations out to their consumers.
type Router struct {
	registry *registry.Registry
	detector *detector.Detector
}

// New creates a Router delivering to reg and det.
func New(reg *registry.Registry, det *detector.Detector) *Router {
	return &Router{registry: reg, detector: det}
}

// Run consumes the feed until ctx is cancelled.
func (r *Router) Run(ctx context.Context, feed <-chan store.Mutation) {
	for {
		select {
		case <-ctx.Done():
			return
		case mut, ok := <-feed:
			if !ok {
				return
			}
			r.Route(mut)
		}
	}
}

// Route dispatches one mutation. It never panics outward; a failure handling
// one record must not prevent processing of the others.
func (r *Router) Route(mut store.Mutation) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("router: panic handling mutation — record skipped",
				"op", mut.Op, "kind", mut.Kind, "panic", p)
		}
	}()

	switch mut.Kind {
	case store.KindClient:
		r.registry.Cleanup(mut)

	case store.KindResult:
		// Results are immutable; only insertions carry signal.
		if mut.Op != store.OpInsert {
			return
		}
		rec, ok := mut.New.(*model.CheckResultRecord)
		if !ok || rec == nil {
			slog.Warn("router: result INSERT without new image")
			return
		}
		r.detector.HandleInsert(*rec)

	case store.KindHistory, store.KindNotification:
		// Audit-only records.

	default:
		slog.Warn("router: unrecognized record kind — skipped", "kind", mut.Kind, "op", mut.Op)
	}
}
