package detector

import (
	"encoding/json"
	"log/slog"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

// Detector decides whether a freshly stored result warrants notification.
type Detector struct {
	store         *store.Store
	catalog       catalog.Source
	notifications *bus.Queue
}

// New creates a Detector emitting onto the notification work queue.
func New(st *store.Store, src catalog.Source, notifications *bus.Queue) *Detector {
	return &Detector{store: st, catalog: src, notifications: notifications}
}

// ShouldNotify is the state-change policy. With no prior result, any non-OK
// status notifies; with a prior result, any transition notifies, recoveries
// to OK included.
func ShouldNotify(prior *model.CheckResultRecord, cur model.CheckResultRecord) bool {
	if prior == nil {
		return cur.Status != model.StatusOK
	}
	return prior.Status != cur.Status
}

// HandleInsert processes one result insertion from the change feed. Results
// are immutable by contract, so modify/remove mutations never reach here
// (the router filters them out).
func (d *Detector) HandleInsert(rec model.CheckResultRecord) {
	var prior *model.CheckResultRecord
	if p, ok := d.store.LatestResultBefore(rec.Key, rec.CompletedAt); ok {
		prior = &p
	}

	if !ShouldNotify(prior, rec) {
		return
	}

	chk, ok := d.catalog.Lookup(rec.Group, rec.Name)
	if !ok {
		// Result for a check no longer (or never) in the catalog: no
		// handlers can be resolved. Logged, non-fatal.
		slog.Warn("detector: result for unknown check identity",
			"group", rec.Group, "check", rec.Name, "source", rec.Source)
		return
	}

	priorStatus := "none"
	if prior != nil {
		priorStatus = string(prior.Status)
	}
	slog.Info("detector: state change",
		"group", rec.Group, "check", rec.Name, "source", rec.Source,
		"from", priorStatus, "to", rec.Status)

	for _, handler := range chk.Base().Handlers {
		body, err := json.Marshal(model.NotificationMessage{
			Handler: handler,
			Result:  rec.Message(),
		})
		if err != nil {
			slog.Error("detector: marshal notification failed", "handler", handler, "err", err)
			continue
		}
		if err := d.notifications.Send(body); err != nil {
			// Per-handler isolation: keep emitting for the rest.
			slog.Error("detector: notification enqueue failed",
				"handler", handler, "group", rec.Group, "check", rec.Name, "err", err)
		}
	}
}
