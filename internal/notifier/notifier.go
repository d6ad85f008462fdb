package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/creds"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

// Notification is the payload handed to a handler.
type Notification struct {
	Check       catalog.Check
	Result      model.CheckResultRecord
	Env         string
	Credentials creds.Credentials
}

// Handler delivers one notification. Implementations must be safe for
// concurrent use.
type Handler interface {
	Notify(ctx context.Context, n Notification) error
}

// Entry binds a handler implementation to its credential role and declared
// permissions.
type Entry struct {
	Handler     Handler
	Role        string
	Permissions []model.Permission
}

// Registry maps stable handler keys to entries, populated at process start.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Entry)}
}

// Register binds key to e, replacing any previous binding.
func (r *Registry) Register(key string, e Entry) {
	r.mu.Lock()
	r.m[key] = e
	r.mu.Unlock()
}

// Resolve returns the entry for key and whether it exists.
func (r *Registry) Resolve(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[key]
	return e, ok
}

// Keys returns the registered handler keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatcher consumes the notification work queue.
type Dispatcher struct {
	reg     *Registry
	store   *store.Store
	catalog catalog.Source
	creds   creds.Provider
	queue   *bus.Queue
	env     string

	now func() time.Time // injectable for deterministic tests
}

// New creates a Dispatcher reading from the notification queue.
func New(reg *Registry, st *store.Store, src catalog.Source, cp creds.Provider, queue *bus.Queue, env string) *Dispatcher {
	return &Dispatcher{
		reg:     reg,
		store:   st,
		catalog: src,
		creds:   cp,
		queue:   queue,
		env:     env,
		now:     time.Now,
	}
}

// Run receives notification messages until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		del, err := d.queue.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				slog.Error("notifier: receive failed", "err", err)
			}
			return
		}
		if err := d.Handle(ctx, del.Body); err != nil {
			// Re-raise: the queue's redelivery policy owns the retry.
			slog.Error("notifier: handler failed — message will be redelivered", "err", err)
			del.Nack()
			continue
		}
		del.Ack()
	}
}

// Handle processes one notification message. The returned error is non-nil
// only for handler failures, which the caller must re-raise; configuration
// problems (unknown handler, unknown check) are audited and swallowed since
// redelivery cannot fix them.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var msg model.NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Warn("notifier: dropping malformed message", "err", err)
		return nil
	}
	rec := msg.Result.Record()

	entry, ok := d.reg.Resolve(msg.Handler)
	if !ok {
		d.audit(msg.Handler, rec, fmt.Sprintf("failed: handler %q not registered", msg.Handler))
		slog.Error("notifier: unknown handler", "handler", msg.Handler)
		return nil
	}

	chk, ok := d.catalog.Lookup(rec.Group, rec.Name)
	if !ok {
		d.audit(msg.Handler, rec, fmt.Sprintf("failed: check %s/%s not in catalog", rec.Group, rec.Name))
		slog.Error("notifier: unknown check identity", "group", rec.Group, "check", rec.Name)
		return nil
	}

	session := creds.SessionName(d.env, "notify", msg.Handler)
	cr, err := d.creds.Scoped(ctx, entry.Role, session)
	if err != nil {
		d.audit(msg.Handler, rec, fmt.Sprintf("failed: obtain credentials: %v", err))
		return fmt.Errorf("notifier: credentials for %q: %w", msg.Handler, err)
	}

	err = invoke(ctx, entry.Handler, Notification{
		Check:       chk,
		Result:      rec,
		Env:         d.env,
		Credentials: cr,
	})
	if err != nil {
		d.audit(msg.Handler, rec, fmt.Sprintf("failed: %v", err))
		return fmt.Errorf("notifier: handler %q: %w", msg.Handler, err)
	}

	d.audit(msg.Handler, rec, fmt.Sprintf("successfully executed as %s", session))
	slog.Info("notifier: handler executed",
		"handler", msg.Handler, "group", rec.Group, "check", rec.Name, "status", rec.Status)
	return nil
}

// invoke contains handler panics so they surface as ordinary failures on the
// audit trail.
func invoke(ctx context.Context, h Handler, n Notification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h.Notify(ctx, n)
}

func (d *Dispatcher) audit(handler string, rec model.CheckResultRecord, outcome string) {
	d.store.AppendNotification(model.NotificationRecord{
		Handler:     handler,
		Group:       rec.Group,
		Name:        rec.Name,
		Source:      rec.Source,
		ResultKey:   rec.Key,
		CompletedAt: rec.CompletedAt,
		Outcome:     outcome,
		RecordedAt:  d.now(),
	})
}
