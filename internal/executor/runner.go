package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/creds"
	"github.com/coalmine/coalmine/internal/model"
)

// Runner consumes the serverless work queue and executes checks.
type Runner struct {
	reg     *Registry
	catalog catalog.Source
	queue   *bus.Queue
	results *bus.Queue
	creds   creds.Provider
	env     string

	now func() time.Time // injectable for deterministic tests
}

// NewRunner creates a Runner. queue is the serverless work queue; results is
// the result work queue feeding the store ingester.
func NewRunner(reg *Registry, src catalog.Source, queue, results *bus.Queue, cp creds.Provider, env string) *Runner {
	return &Runner{
		reg:     reg,
		catalog: src,
		queue:   queue,
		results: results,
		creds:   cp,
		env:     env,
		now:     time.Now,
	}
}

// Run receives serverless messages until ctx is cancelled. Each message is
// processed independently; a malformed message is logged and dropped, and
// only a result-delivery failure rejects the message for redelivery.
func (r *Runner) Run(ctx context.Context) {
	for {
		d, err := r.queue.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				slog.Error("executor: receive failed", "err", err)
			}
			return
		}
		if r.handle(ctx, d.Body) {
			d.Ack()
		} else {
			d.Nack()
		}
	}
}

// handle executes one serverless message. Returns false only when the
// message should be redelivered.
func (r *Runner) handle(ctx context.Context, body []byte) bool {
	var msg model.ServerlessMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Warn("executor: dropping malformed message", "err", err)
		return true
	}

	executedAt := r.now()
	out := r.execute(ctx, msg)

	res := model.ResultMessage{
		ScheduledAt: msg.ScheduledAt,
		ExecutedAt:  executedAt,
		CompletedAt: r.now(),
		Group:       msg.Group,
		Name:        msg.Name,
		Source:      msg.Executor,
		Status:      out.Status,
		Output:      out.Output,
	}
	payload, err := json.Marshal(res)
	if err != nil {
		slog.Error("executor: marshal result failed", "group", msg.Group, "check", msg.Name, "err", err)
		return true
	}
	if err := r.results.Send(payload); err != nil {
		slog.Error("executor: result enqueue failed — message will be redelivered",
			"group", msg.Group, "check", msg.Name, "err", err)
		return false
	}

	slog.Debug("executor: check finished",
		"group", msg.Group, "check", msg.Name, "status", out.Status)
	return true
}

// execute resolves and invokes the executor, mapping every failure mode to a
// result status. It never returns an error.
func (r *Runner) execute(ctx context.Context, msg model.ServerlessMessage) Outcome {
	chk, ok := r.lookupServerless(msg.Group, msg.Name)
	if !ok {
		// Check removed from the catalog between scheduling and execution.
		return Outcome{
			Status: model.StatusUnknown,
			Output: fmt.Sprintf("check %s/%s not in catalog", msg.Group, msg.Name),
		}
	}

	entry, ok := r.reg.Resolve(msg.Executor)
	if !ok {
		return Outcome{
			Status: model.StatusCritical,
			Output: fmt.Sprintf("executor %q not registered", msg.Executor),
		}
	}

	session := creds.SessionName(r.env, "check", msg.Executor)
	cr, err := r.creds.Scoped(ctx, entry.Role, session)
	if err != nil {
		return Outcome{
			Status: model.StatusCritical,
			Output: fmt.Sprintf("obtain credentials: %v", err),
		}
	}

	timeout := time.Duration(msg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = catalog.DefaultTimeoutSec * time.Second
	}
	return Invoke(ctx, entry.Run, chk, cr, timeout)
}

func (r *Runner) lookupServerless(group, name string) (*catalog.ServerlessCheck, bool) {
	chk, ok := r.catalog.Lookup(group, name)
	if !ok {
		return nil, false
	}
	sc, ok := chk.(*catalog.ServerlessCheck)
	return sc, ok
}

// Invoke runs fn under a hard deadline. The executor goroutine gets a
// context cancelled at the boundary, but Invoke does not wait for it to
// cooperate: at the deadline it returns UNKNOWN immediately and abandons the
// goroutine. A panic inside fn maps to CRITICAL with the panic message, a
// returned error to CRITICAL with the error text.
func Invoke(ctx context.Context, fn Func, chk *catalog.ServerlessCheck, cr creds.Credentials, timeout time.Duration) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan Outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- Outcome{Status: model.StatusCritical, Output: fmt.Sprintf("check panicked: %v", p)}
			}
		}()
		out, err := fn(runCtx, chk, cr)
		if err != nil {
			ch <- Outcome{Status: model.StatusCritical, Output: err.Error()}
			return
		}
		if !out.Status.Valid() {
			out = Outcome{Status: model.StatusUnknown, Output: fmt.Sprintf("executor returned invalid status %q", out.Status)}
		}
		ch <- out
	}()

	select {
	case out := <-ch:
		return out
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Outcome{Status: model.StatusUnknown, Output: fmt.Sprintf("timed out after %s", timeout)}
		}
		return Outcome{Status: model.StatusUnknown, Output: "execution cancelled"}
	}
}
