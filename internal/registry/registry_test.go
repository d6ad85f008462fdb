package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

func newTestRegistry() (*Registry, *store.Store, *bus.Broker, *bus.Topic) {
	st := store.New()
	broker := bus.NewBroker(bus.QueueConfig{})
	dispatch := broker.Topic("check-dispatch")
	r := New(st, broker, dispatch, "check-results")

	ids := 0
	r.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	r.now = func() time.Time { return time.Unix(7000, 0) }
	return r, st, broker, dispatch
}

// applyFeed routes pending client mutations into Cleanup, simulating the
// stream router for one reconciliation round.
func applyFeed(r *Registry, st *store.Store) {
	for {
		select {
		case mut := <-st.Feed():
			if mut.Kind == store.KindClient {
				r.Cleanup(mut)
			}
		default:
			return
		}
	}
}

func TestRegister_Validation(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	ctx := context.Background()

	if _, err := r.Register(ctx, "", []string{"web"}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty name: got %v, want ErrValidation", err)
	}
	if _, err := r.Register(ctx, "web-1", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("no tags: got %v, want ErrValidation", err)
	}
}

func TestRegister_ProvisionsChannelAndSubscription(t *testing.T) {
	r, st, broker, dispatch := newTestRegistry()

	reg, err := r.Register(context.Background(), "web-1", []string{"web"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.ResultChannel != "check-results" {
		t.Errorf("ResultChannel: got %q, want check-results", reg.ResultChannel)
	}
	if !broker.QueueExists(reg.CommandChannel) {
		t.Error("command channel queue was not created")
	}

	rec, ok := st.GetClient("web-1")
	if !ok {
		t.Fatal("client record was not written")
	}
	if !rec.Active {
		t.Error("Active: got false, want true")
	}
	if rec.CommandChannel != reg.CommandChannel {
		t.Errorf("record channel: got %q, want %q", rec.CommandChannel, reg.CommandChannel)
	}
	if !dispatch.HasSubscription(rec.Subscription) {
		t.Error("subscription was not created")
	}
	if h := st.HistoryFor("web-1"); len(h) != 1 || !strings.HasPrefix(h[0].Note, "registered") {
		t.Errorf("history: got %+v, want one 'registered' entry", h)
	}
}

func TestRegister_IdempotentWhenHealthy(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	ctx := context.Background()

	first, err := r.Register(ctx, "web-1", []string{"web"})
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}
	second, err := r.Register(ctx, "web-1", []string{"web"})
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if first.CommandChannel != second.CommandChannel {
		t.Errorf("channels differ: %q vs %q — want idempotent registration",
			first.CommandChannel, second.CommandChannel)
	}
}

func TestRegister_ReprovisionsWhenChannelGone(t *testing.T) {
	r, st, broker, _ := newTestRegistry()
	ctx := context.Background()

	first, _ := r.Register(ctx, "web-1", []string{"web"})
	created, _ := st.GetClient("web-1")

	// Simulate lost broker state: the record still points at a channel that
	// no longer exists. The identifier alone must not be trusted.
	broker.DeleteQueue(first.CommandChannel) //nolint:errcheck

	second, err := r.Register(ctx, "web-1", []string{"web"})
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if second.CommandChannel == first.CommandChannel {
		t.Error("expected a fresh channel after the existence probe failed")
	}
	if !broker.QueueExists(second.CommandChannel) {
		t.Error("fresh channel was not created")
	}

	rec, _ := st.GetClient("web-1")
	if !rec.CreatedAt.Equal(created.CreatedAt) {
		t.Error("CreatedAt changed on re-registration; original must be preserved")
	}
}

func TestRegister_ReprovisionsAfterDeregister(t *testing.T) {
	r, st, broker, dispatch := newTestRegistry()
	ctx := context.Background()

	// An agent restart can re-register before the router has processed the
	// deactivation MODIFY. The inactive record must not be reused, and the
	// lagging cleanup must not tear down the fresh registration.
	first, _ := r.Register(ctx, "web-1", []string{"web"})
	r.Deregister(ctx, "web-1") //nolint:errcheck

	second, err := r.Register(ctx, "web-1", []string{"web"})
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if second.CommandChannel == first.CommandChannel {
		t.Error("deactivated record was reused; expected fresh provisioning")
	}

	rec, _ := st.GetClient("web-1")
	if !rec.Active {
		t.Error("Active: got false, want true after re-registration")
	}
	if rec.CommandChannel != second.CommandChannel {
		t.Errorf("record channel: got %q, want %q", rec.CommandChannel, second.CommandChannel)
	}
	newSub := rec.Subscription

	// Only now does the router catch up on the backlog, including the
	// deactivation recorded before the re-registration.
	applyFeed(r, st)

	if !broker.QueueExists(second.CommandChannel) {
		t.Error("fresh channel deleted by lagging cleanup")
	}
	if !dispatch.HasSubscription(newSub) {
		t.Error("fresh subscription deleted by lagging cleanup")
	}
	if broker.QueueExists(first.CommandChannel) {
		t.Error("superseded channel still exists after cleanup")
	}

	rec, _ = st.GetClient("web-1")
	if !rec.Active {
		t.Error("record deactivated by lagging cleanup")
	}
	if rec.CommandChannel != second.CommandChannel || rec.Subscription != newSub {
		t.Errorf("identifiers clobbered by lagging cleanup: %+v", rec)
	}
}

func TestDeregister(t *testing.T) {
	r, st, _, _ := newTestRegistry()
	ctx := context.Background()

	if err := r.Deregister(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty name: got %v, want ErrValidation", err)
	}
	if err := r.Deregister(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown client: got %v, want ErrNotFound", err)
	}

	r.Register(ctx, "web-1", []string{"web"}) //nolint:errcheck
	if err := r.Deregister(ctx, "web-1"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	rec, _ := st.GetClient("web-1")
	if rec.Active {
		t.Error("Active: got true, want false")
	}
	// Deregister must not delete resources itself; that is the feed's job.
	if rec.CommandChannel == "" {
		t.Error("CommandChannel cleared on deregister; cleanup is reactive")
	}
}

func TestCleanup_DeactivationRemovesResources(t *testing.T) {
	r, st, broker, dispatch := newTestRegistry()
	ctx := context.Background()

	reg, _ := r.Register(ctx, "web-1", []string{"web"})
	before, _ := st.GetClient("web-1")
	applyFeed(r, st) // consume the registration INSERT

	r.Deregister(ctx, "web-1") //nolint:errcheck
	applyFeed(r, st)           // the MODIFY drives deactivation cleanup
	applyFeed(r, st)           // and the follow-up identifier-clearing MODIFY

	if broker.QueueExists(reg.CommandChannel) {
		t.Error("command channel still exists after deactivation cleanup")
	}
	if dispatch.HasSubscription(before.Subscription) {
		t.Error("subscription still exists after deactivation cleanup")
	}

	rec, _ := st.GetClient("web-1")
	if rec.CommandChannel != "" || rec.Subscription != "" {
		t.Errorf("identifiers not cleared: %+v", rec)
	}
	if !rec.CreatedAt.Equal(before.CreatedAt) {
		t.Error("CreatedAt changed during cleanup")
	}

	h := st.HistoryFor("web-1")
	last := h[len(h)-1]
	if !strings.Contains(last.Note, "removed channel") {
		t.Errorf("last history note: got %q, want removal description", last.Note)
	}
}

func TestCleanup_RemoveDeletesOldImageResources(t *testing.T) {
	r, st, broker, dispatch := newTestRegistry()
	ctx := context.Background()

	reg, _ := r.Register(ctx, "web-1", []string{"web"})
	rec, _ := st.GetClient("web-1")
	applyFeed(r, st)

	st.DeleteClient("web-1")
	applyFeed(r, st)

	if broker.QueueExists(reg.CommandChannel) {
		t.Error("command channel still exists after REMOVE cleanup")
	}
	if dispatch.HasSubscription(rec.Subscription) {
		t.Error("subscription still exists after REMOVE cleanup")
	}
}

func TestCleanup_RemoveToleratesAlreadyDeleted(t *testing.T) {
	r, _, _, _ := newTestRegistry()

	old := &model.ClientRecord{
		Name:           "web-1",
		CommandChannel: "gone-channel",
		Subscription:   "gone-sub",
	}
	// Resources never existed; Cleanup must treat NotFound as a no-op.
	r.Cleanup(store.Mutation{Op: store.OpRemove, Kind: store.KindClient, Old: old})
}

func TestCleanup_InsertIsNoop(t *testing.T) {
	r, st, broker, _ := newTestRegistry()
	ctx := context.Background()

	reg, _ := r.Register(ctx, "web-1", []string{"web"})
	applyFeed(r, st)

	if !broker.QueueExists(reg.CommandChannel) {
		t.Error("INSERT cleanup must leave fresh resources alone")
	}
}
