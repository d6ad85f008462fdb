package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

// Cleanup reconciles delivery resources against a client-record mutation.
// Invoked only by the stream router.
//
//   - REMOVE: delete the channel and subscription referenced by the old
//     image. "Already deleted" is a no-op.
//   - MODIFY: delete a channel or subscription only if its identifier
//     actually changed between images. Additionally, an active true→false
//     transition deletes the current resources, clears the identifiers on
//     the record, and appends a history entry describing the removal.
//   - INSERT: no action.
func (r *Registry) Cleanup(mut store.Mutation) {
	switch mut.Op {
	case store.OpRemove:
		old, ok := mut.Old.(*model.ClientRecord)
		if !ok || old == nil {
			slog.Warn("registry: cleanup REMOVE without old client image")
			return
		}
		r.deleteChannel(old.Name, old.CommandChannel)
		r.deleteSubscription(old.Name, old.Subscription)

	case store.OpModify:
		old, okOld := mut.Old.(*model.ClientRecord)
		cur, okNew := mut.New.(*model.ClientRecord)
		if !okOld || !okNew || old == nil || cur == nil {
			slog.Warn("registry: cleanup MODIFY with missing client image")
			return
		}

		if old.CommandChannel != "" && old.CommandChannel != cur.CommandChannel {
			r.deleteChannel(old.Name, old.CommandChannel)
		}
		if old.Subscription != "" && old.Subscription != cur.Subscription {
			r.deleteSubscription(old.Name, old.Subscription)
		}

		if old.Active && !cur.Active {
			r.deactivate(*cur)
		}

	case store.OpInsert:
		// Nothing to reconcile on a fresh record.
	}
}

// deactivate tears down a deactivated client's resources and clears the
// identifiers on its record, preserving the original creation time. The
// record write emits a further MODIFY whose identifier diffs re-enter
// Cleanup; those deletes find nothing and are tolerated.
func (r *Registry) deactivate(rec model.ClientRecord) {
	// The mutation image may be stale by the time it is routed: the client
	// can have re-registered (or been removed) since the deactivation was
	// recorded. Writing the image back would clobber the fresh record, so a
	// superseded image is skipped; the re-registration's own MODIFY diff
	// reclaims the resources this image refers to.
	cur, ok := r.store.GetClient(rec.Name)
	if !ok || cur.Active || cur.CommandChannel != rec.CommandChannel {
		slog.Debug("registry: skipping stale deactivation image", "client", rec.Name, "channel", rec.CommandChannel)
		return
	}

	removedChannel := rec.CommandChannel
	removedSub := rec.Subscription
	r.deleteChannel(rec.Name, removedChannel)
	r.deleteSubscription(rec.Name, removedSub)

	rec.CommandChannel = ""
	rec.Subscription = ""
	r.store.PutClient(rec)
	r.store.AppendHistory(model.ClientHistoryRecord{
		Name:       rec.Name,
		Note:       fmt.Sprintf("deactivated: removed channel %s, subscription %s", removedChannel, removedSub),
		RecordedAt: r.now(),
	})

	slog.Info("registry: deactivated client resources removed",
		"client", rec.Name, "channel", removedChannel, "subscription", removedSub)
}

func (r *Registry) deleteChannel(client, id string) {
	if id == "" {
		return
	}
	if err := r.broker.DeleteQueue(id); err != nil {
		if errors.Is(err, bus.ErrNotFound) {
			slog.Debug("registry: channel already deleted", "client", client, "channel", id)
			return
		}
		slog.Error("registry: channel delete failed", "client", client, "channel", id, "err", err)
	}
}

func (r *Registry) deleteSubscription(client, id string) {
	if id == "" {
		return
	}
	if err := r.dispatch.Unsubscribe(id); err != nil {
		if errors.Is(err, bus.ErrNotFound) {
			slog.Debug("registry: subscription already deleted", "client", client, "subscription", id)
			return
		}
		slog.Error("registry: subscription delete failed", "client", client, "subscription", id, "err", err)
	}
}
