package detector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

func TestShouldNotify(t *testing.T) {
	ok := model.CheckResultRecord{Status: model.StatusOK}
	crit := model.CheckResultRecord{Status: model.StatusCritical}

	cases := []struct {
		name  string
		prior *model.CheckResultRecord
		cur   model.CheckResultRecord
		want  bool
	}{
		{"first result non-OK", nil, crit, true},
		{"first result OK", nil, ok, false},
		{"repeated status", &crit, crit, false},
		{"OK to CRITICAL", &ok, crit, true},
		{"recovery to OK", &crit, ok, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldNotify(tc.prior, tc.cur); got != tc.want {
				t.Errorf("ShouldNotify = %v, want %v", got, tc.want)
			}
		})
	}
}

func notifyCatalog(handlers ...string) *catalog.Catalog {
	return catalog.New([]catalog.Group{{
		Name: "edge",
		Checks: []catalog.Check{&catalog.ServerlessCheck{
			CheckBase: catalog.CheckBase{Name: "probe", Interval: 1, TimeoutSec: 5, Handlers: handlers},
			Executor:  "httpGet",
		}},
	}})
}

func result(status model.Status, at time.Time) model.CheckResultRecord {
	return model.CheckResultRecord{
		Key:         model.ResultKey("edge", "probe", "httpGet"),
		Group:       "edge",
		Name:        "probe",
		Source:      "httpGet",
		CompletedAt: at,
		Status:      status,
		Output:      "x",
	}
}

func drain(t *testing.T, q *bus.Queue) []model.NotificationMessage {
	t.Helper()
	var out []model.NotificationMessage
	for q.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d, err := q.Receive(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		d.Ack()
		var msg model.NotificationMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func TestHandleInsert_FirstCriticalNotifiesPerHandler(t *testing.T) {
	st := store.New()
	broker := bus.NewBroker(bus.QueueConfig{})
	q := broker.CreateQueue("notifications")
	d := New(st, notifyCatalog("slack", "pager"), q)

	rec := result(model.StatusCritical, time.Unix(100, 0))
	st.PutResult(rec)
	d.HandleInsert(rec)

	msgs := drain(t, q)
	if len(msgs) != 2 {
		t.Fatalf("notifications: got %d, want one per handler", len(msgs))
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		seen[m.Handler] = true
		if m.Result.Status != model.StatusCritical {
			t.Errorf("Result.Status: %s", m.Result.Status)
		}
	}
	if !seen["slack"] || !seen["pager"] {
		t.Errorf("handlers: %v", seen)
	}
}

func TestHandleInsert_FirstOKIsSilent(t *testing.T) {
	st := store.New()
	broker := bus.NewBroker(bus.QueueConfig{})
	q := broker.CreateQueue("notifications")
	d := New(st, notifyCatalog("slack"), q)

	rec := result(model.StatusOK, time.Unix(100, 0))
	st.PutResult(rec)
	d.HandleInsert(rec)

	if q.Len() != 0 {
		t.Error("first OK result must not notify")
	}
}

func TestHandleInsert_RepeatedCriticalIsSilent(t *testing.T) {
	st := store.New()
	broker := bus.NewBroker(bus.QueueConfig{})
	q := broker.CreateQueue("notifications")
	d := New(st, notifyCatalog("slack"), q)

	st.PutResult(result(model.StatusCritical, time.Unix(100, 0)))
	rec := result(model.StatusCritical, time.Unix(160, 0))
	st.PutResult(rec)
	d.HandleInsert(rec)

	if q.Len() != 0 {
		t.Error("unchanged status must not notify")
	}
}

func TestHandleInsert_RecoveryNotifies(t *testing.T) {
	st := store.New()
	broker := bus.NewBroker(bus.QueueConfig{})
	q := broker.CreateQueue("notifications")
	d := New(st, notifyCatalog("slack"), q)

	st.PutResult(result(model.StatusCritical, time.Unix(100, 0)))
	rec := result(model.StatusOK, time.Unix(160, 0))
	st.PutResult(rec)
	d.HandleInsert(rec)

	msgs := drain(t, q)
	if len(msgs) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(msgs))
	}
	if msgs[0].Result.Status != model.StatusOK {
		t.Errorf("recovery status: %s", msgs[0].Result.Status)
	}
}

func TestHandleInsert_UnknownIdentitySkipped(t *testing.T) {
	st := store.New()
	broker := bus.NewBroker(bus.QueueConfig{})
	q := broker.CreateQueue("notifications")
	d := New(st, notifyCatalog("slack"), q)

	rec := model.CheckResultRecord{
		Key:         model.ResultKey("ghost", "none", "agent-1"),
		Group:       "ghost",
		Name:        "none",
		Source:      "agent-1",
		CompletedAt: time.Unix(100, 0),
		Status:      model.StatusCritical,
	}
	st.PutResult(rec)
	d.HandleInsert(rec)

	if q.Len() != 0 {
		t.Error("result for an unknown check identity must not notify")
	}
}
