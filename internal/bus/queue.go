package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

var (
	// ErrNotFound reports a queue, topic or subscription that does not exist.
	ErrNotFound = errors.New("bus: not found")

	// ErrClosed reports an operation on a deleted queue.
	ErrClosed = errors.New("bus: queue closed")
)

// QueueConfig tunes delivery behavior shared by all queues of a Broker.
type QueueConfig struct {
	// Visibility is how long a received message stays invisible before an
	// unacknowledged delivery is returned to the queue.
	Visibility time.Duration

	// RedeliveryMin and RedeliveryMax bound the exponential delay applied
	// between a Nack and the message becoming receivable again.
	RedeliveryMin time.Duration
	RedeliveryMax time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Visibility <= 0 {
		c.Visibility = 30 * time.Second
	}
	if c.RedeliveryMin <= 0 {
		c.RedeliveryMin = 200 * time.Millisecond
	}
	if c.RedeliveryMax <= 0 {
		c.RedeliveryMax = 30 * time.Second
	}
	return c
}

// Queue is a named point-to-point channel with at-least-once semantics.
// A message received but neither acked nor nacked reappears after the
// visibility timeout; a nacked message reappears after a backoff delay that
// grows with its delivery attempts.
type Queue struct {
	name string
	cfg  QueueConfig
	bo   *backoff.Backoff

	mu     sync.Mutex
	items  []*item
	arrive chan struct{}
	closed chan struct{}
}

type item struct {
	body     []byte
	attempts int
}

// NewQueue creates a standalone queue. Queues that the registry must be able
// to probe should be created through a Broker instead.
func NewQueue(name string, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		name: name,
		cfg:  cfg,
		bo: &backoff.Backoff{
			Min:    cfg.RedeliveryMin,
			Max:    cfg.RedeliveryMax,
			Factor: 2,
			Jitter: true,
		},
		arrive: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Name returns the queue identifier.
func (q *Queue) Name() string { return q.name }

// Send enqueues one message body. The body is not copied; callers must not
// modify it afterwards.
func (q *Queue) Send(body []byte) error {
	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		return ErrClosed
	default:
	}
	q.items = append(q.items, &item{body: body})
	q.mu.Unlock()
	q.signal()
	return nil
}

// Receive blocks until a message is available, ctx is done, or the queue is
// closed. The returned Delivery must be Acked or Nacked; otherwise the
// message reappears after the visibility timeout.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			d := &Delivery{q: q, Body: it.body, Attempts: it.attempts + 1}
			d.timer = time.AfterFunc(q.cfg.Visibility, func() {
				// Visibility expired without ack: the consumer is presumed
				// dead, return the message immediately.
				d.settle(func() { q.requeue(it) })
			})
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, ErrClosed
		case <-q.arrive:
		}
	}
}

// Len returns the number of currently receivable messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.arrive <- struct{}{}:
	default:
	}
}

func (q *Queue) requeue(it *item) {
	it.attempts++
	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		return
	default:
	}
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.closed:
	default:
		close(q.closed)
		q.items = nil
	}
}

// Delivery is one received message awaiting acknowledgement.
type Delivery struct {
	Body     []byte
	Attempts int

	q       *Queue
	timer   *time.Timer
	mu      sync.Mutex
	settled bool
}

// Ack marks the message as processed; it will not be redelivered.
func (d *Delivery) Ack() {
	d.settle(nil)
}

// Nack returns the message to the queue after a backoff delay derived from
// its delivery attempts.
func (d *Delivery) Nack() {
	d.settle(func() {
		delay := d.q.bo.ForAttempt(float64(d.Attempts))
		it := &item{body: d.Body, attempts: d.Attempts}
		time.AfterFunc(delay, func() {
			d.q.mu.Lock()
			select {
			case <-d.q.closed:
				d.q.mu.Unlock()
				return
			default:
			}
			d.q.items = append(d.q.items, it)
			d.q.mu.Unlock()
			d.q.signal()
		})
	})
}

// settle runs fn exactly once across Ack, Nack and visibility expiry.
func (d *Delivery) settle(fn func()) {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return
	}
	d.settled = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}
