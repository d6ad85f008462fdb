package bus

import (
	"fmt"
	"sync"
)

// Broker owns the named queues and topics of one process so that components
// can look them up — and the registry can probe their existence — by
// identifier.
type Broker struct {
	cfg QueueConfig

	mu     sync.RWMutex
	queues map[string]*Queue
	topics map[string]*Topic
}

// NewBroker creates a Broker whose queues share cfg.
func NewBroker(cfg QueueConfig) *Broker {
	return &Broker{
		cfg:    cfg.withDefaults(),
		queues: make(map[string]*Queue),
		topics: make(map[string]*Topic),
	}
}

// CreateQueue creates the named queue, or returns the existing one.
func (b *Broker) CreateQueue(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := NewQueue(name, b.cfg)
	b.queues[name] = q
	return q
}

// Queue returns the named queue and whether it exists.
func (b *Broker) Queue(name string) (*Queue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[name]
	return q, ok
}

// QueueExists is the registry's channel liveness probe.
func (b *Broker) QueueExists(name string) bool {
	_, ok := b.Queue(name)
	return ok
}

// DeleteQueue closes and removes the named queue. Returns ErrNotFound if it
// does not exist; cleanup paths treat that as a no-op.
func (b *Broker) DeleteQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return fmt.Errorf("queue %q: %w", name, ErrNotFound)
	}
	q.close()
	delete(b.queues, name)
	return nil
}

// Topic returns the named topic, creating it on first use.
func (b *Broker) Topic(name string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = NewTopic(name)
		b.topics[name] = t
	}
	return t
}
