package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

var (
	// ErrValidation reports malformed registration or deregistration input.
	// Surfaced to the caller, never retried.
	ErrValidation = errors.New("registry: invalid input")

	// ErrNotFound reports an unknown client name.
	ErrNotFound = errors.New("registry: client not found")
)

// Registry provisions and tears down per-client delivery resources.
type Registry struct {
	store    *store.Store
	broker   *bus.Broker
	dispatch *bus.Topic
	results  string // shared result-delivery channel identifier

	now   func() time.Time // injectable for deterministic tests
	newID func() string
}

// New creates a Registry. dispatch is the check-dispatch fanout topic;
// resultChannel is the shared result queue identifier handed to every client.
func New(st *store.Store, broker *bus.Broker, dispatch *bus.Topic, resultChannel string) *Registry {
	return &Registry{
		store:    st,
		broker:   broker,
		dispatch: dispatch,
		results:  resultChannel,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Registration is the response to a successful Register call.
type Registration struct {
	CommandChannel string `json:"commandChannel"`
	ResultChannel  string `json:"resultChannel"`
}

// Register creates or repairs the delivery path for a client. It is
// idempotent: when a record exists and its channel and subscription pass a
// live existence probe, the existing channel is returned without
// re-provisioning. A record whose resources are gone — or whose tags have
// changed, invalidating the subscription filter — is re-provisioned in
// place, preserving the original creation time. A deactivated record is
// never reused either: its teardown is already in flight on the change
// feed, so handing back the old channel would race the pending cleanup.
// Re-provisioning emits a fresh MODIFY whose images supersede the old
// identifiers; Cleanup skips the lagging deactivation image and reclaims
// the old resources through the superseding MODIFY's identifier diff.
func (r *Registry) Register(ctx context.Context, name string, tags []string) (Registration, error) {
	if name == "" {
		return Registration{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(tags) == 0 {
		return Registration{}, fmt.Errorf("%w: at least one tag is required", ErrValidation)
	}

	rec, exists := r.store.GetClient(name)
	if exists && rec.Active && r.healthy(rec) && sameTags(rec.Tags, tags) {
		slog.Debug("registry: client already registered", "client", name, "channel", rec.CommandChannel)
		return Registration{CommandChannel: rec.CommandChannel, ResultChannel: r.results}, nil
	}

	// Provision a fresh channel and subscription. If the old record held
	// identifiers for resources that still exist, the record update's MODIFY
	// mutation drives their deletion through Cleanup.
	channelID := r.newID()
	subID := r.newID()
	q := r.broker.CreateQueue(channelID)
	r.dispatch.Subscribe(subID, q, tags)

	next := model.ClientRecord{
		Name:           name,
		Tags:           append([]string(nil), tags...),
		CommandChannel: channelID,
		Subscription:   subID,
		Active:         true,
		CreatedAt:      r.now(),
	}
	if exists {
		next.CreatedAt = rec.CreatedAt
	}
	r.store.PutClient(next)
	r.store.AppendHistory(model.ClientHistoryRecord{
		Name:       name,
		Note:       fmt.Sprintf("registered: channel %s, subscription %s", channelID, subID),
		RecordedAt: r.now(),
	})

	slog.Info("registry: client registered",
		"client", name, "channel", channelID, "subscription", subID, "tags", tags)
	return Registration{CommandChannel: channelID, ResultChannel: r.results}, nil
}

// Deregister marks the client inactive. Resource teardown is reactive: the
// MODIFY mutation emitted here reaches Cleanup through the change feed.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}

	rec, ok := r.store.GetClient(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !rec.Active {
		return nil
	}

	rec.Active = false
	r.store.PutClient(rec)
	r.store.AppendHistory(model.ClientHistoryRecord{
		Name:       name,
		Note:       "deactivated",
		RecordedAt: r.now(),
	})

	slog.Info("registry: client deactivated", "client", name)
	return nil
}

// healthy probes whether the record's delivery resources actually exist.
// Presence of identifiers on the record is not trusted; a crashed teardown
// or lost broker state must force re-provisioning.
func (r *Registry) healthy(rec model.ClientRecord) bool {
	if rec.CommandChannel == "" || rec.Subscription == "" {
		return false
	}
	return r.broker.QueueExists(rec.CommandChannel) && r.dispatch.HasSubscription(rec.Subscription)
}

func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
