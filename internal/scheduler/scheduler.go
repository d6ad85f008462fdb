package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/model"
)

// Scheduler evaluates the catalog on every scheduling tick.
type Scheduler struct {
	catalog    catalog.Source
	dispatch   *bus.Topic
	serverless *bus.Queue
}

// New creates a Scheduler reading checks from src, publishing client checks
// to dispatch and serverless checks to the serverless work queue.
func New(src catalog.Source, dispatch *bus.Topic, serverless *bus.Queue) *Scheduler {
	return &Scheduler{catalog: src, dispatch: dispatch, serverless: serverless}
}

// Due reports whether a check with the given interval is due at tick time t,
// ignoring predicates: the tick's minutes-since-epoch must be divisible by
// the interval. Correctness relies on ticks being aligned to minute
// boundaries, not on drift tracking.
func Due(t time.Time, intervalMinutes int) bool {
	if intervalMinutes < 1 {
		return false
	}
	minutes := t.UnixMilli() / 60000
	return minutes%int64(intervalMinutes) == 0
}

// RunTick evaluates every catalog check against tick time t and dispatches
// the due ones. A dispatch failure for one check never prevents attempting
// the rest; the number of failures is returned for observability.
func (s *Scheduler) RunTick(t time.Time) int {
	failures := 0
	for _, group := range s.catalog.Groups() {
		for _, chk := range group.Checks {
			base := chk.Base()
			if !Due(t, base.Interval) || !base.ShouldRun() {
				continue
			}
			if err := s.dispatchCheck(t, group.Name, chk); err != nil {
				failures++
				slog.Error("scheduler: dispatch failed",
					"group", group.Name, "check", base.Name, "err", err)
			}
		}
	}
	return failures
}

func (s *Scheduler) dispatchCheck(t time.Time, group string, chk catalog.Check) error {
	switch c := chk.(type) {
	case *catalog.ClientCheck:
		return s.publishClient(t, group, c)
	case *catalog.ServerlessCheck:
		return s.enqueueServerless(t, group, c)
	default:
		return fmt.Errorf("unknown check variant %T", chk)
	}
}

func (s *Scheduler) publishClient(t time.Time, group string, c *catalog.ClientCheck) error {
	body, err := json.Marshal(model.CheckMessage{
		ScheduledAt: t,
		Group:       group,
		Name:        c.Name,
		Command:     c.Command,
		Timeout:     c.TimeoutSec,
		Tags:        c.Tags,
	})
	if err != nil {
		return fmt.Errorf("marshal check message: %w", err)
	}
	attrs := map[string][]string{bus.TagAttribute: c.Tags}
	if err := s.dispatch.Publish(body, attrs); err != nil {
		return fmt.Errorf("publish to %s: %w", s.dispatch.Name(), err)
	}
	slog.Debug("scheduler: client check dispatched",
		"group", group, "check", c.Name, "tags", c.Tags)
	return nil
}

func (s *Scheduler) enqueueServerless(t time.Time, group string, c *catalog.ServerlessCheck) error {
	body, err := json.Marshal(model.ServerlessMessage{
		ScheduledAt: t,
		Group:       group,
		Name:        c.Name,
		Executor:    c.Executor,
		Timeout:     c.TimeoutSec,
	})
	if err != nil {
		return fmt.Errorf("marshal serverless message: %w", err)
	}
	if err := s.serverless.Send(body); err != nil {
		return fmt.Errorf("enqueue to %s: %w", s.serverless.Name(), err)
	}
	slog.Debug("scheduler: serverless check enqueued",
		"group", group, "check", c.Name, "executor", c.Executor)
	return nil
}

// Run fires RunTick on every minute boundary until ctx is cancelled. The
// first tick waits for the next boundary so the due predicate always sees
// aligned timestamps.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case t := <-timer.C:
			tick := t.Truncate(time.Minute)
			if n := s.RunTick(tick); n > 0 {
				slog.Warn("scheduler: tick finished with dispatch failures",
					"tick", tick, "failures", n)
			}
		}
	}
}
