package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

// Ingester writes queued check results into the store.
type Ingester struct {
	queue *bus.Queue
	store *store.Store
}

// New creates an Ingester draining queue into st.
func New(queue *bus.Queue, st *store.Store) *Ingester {
	return &Ingester{queue: queue, store: st}
}

// Run receives result messages until ctx is cancelled. Every delivery is
// acknowledged: malformed bodies are dropped, duplicates are no-ops, and
// redelivering either would not change the outcome.
func (i *Ingester) Run(ctx context.Context) {
	for {
		d, err := i.queue.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				slog.Error("ingest: receive failed", "err", err)
			}
			return
		}
		i.handle(d.Body)
		d.Ack()
	}
}

func (i *Ingester) handle(body []byte) {
	var msg model.ResultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Warn("ingest: dropping malformed result", "err", err)
		return
	}
	if !msg.Status.Valid() {
		slog.Warn("ingest: dropping result with invalid status",
			"group", msg.Group, "check", msg.Name, "status", msg.Status)
		return
	}

	rec := msg.Record()
	if !i.store.PutResult(rec) {
		slog.Debug("ingest: duplicate result dropped",
			"group", rec.Group, "check", rec.Name, "source", rec.Source,
			"completed_at", rec.CompletedAt)
		return
	}

	slog.Debug("ingest: result stored",
		"group", rec.Group, "check", rec.Name, "source", rec.Source, "status", rec.Status)
}
