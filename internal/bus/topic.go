package bus

import (
	"errors"
	"fmt"
	"sync"
)

// TagAttribute is the message attribute key carrying routing tags.
const TagAttribute = "tags"

// Topic is a fanout channel. Each subscription binds a delivery queue and a
// tag filter; a published message is copied into every subscription whose
// filter matches the message's tag attribute.
type Topic struct {
	name string

	mu   sync.RWMutex
	subs map[string]subscription
}

type subscription struct {
	id     string
	queue  *Queue
	filter map[string]struct{}
}

// NewTopic creates an empty topic.
func NewTopic(name string) *Topic {
	return &Topic{name: name, subs: make(map[string]subscription)}
}

// Name returns the topic identifier.
func (t *Topic) Name() string { return t.name }

// Subscribe binds q under the given subscription id with a tag filter.
// An empty filter matches every message. Re-subscribing an existing id
// replaces its binding.
func (t *Topic) Subscribe(id string, q *Queue, filter []string) {
	f := make(map[string]struct{}, len(filter))
	for _, tag := range filter {
		f[tag] = struct{}{}
	}
	t.mu.Lock()
	t.subs[id] = subscription{id: id, queue: q, filter: f}
	t.mu.Unlock()
}

// Unsubscribe removes the subscription id. Returns ErrNotFound if absent.
func (t *Topic) Unsubscribe(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[id]; !ok {
		return fmt.Errorf("topic %q: subscription %q: %w", t.name, id, ErrNotFound)
	}
	delete(t.subs, id)
	return nil
}

// HasSubscription reports whether the subscription id currently exists.
// This is the registry's liveness probe.
func (t *Topic) HasSubscription(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.subs[id]
	return ok
}

// Publish fans body out to every subscription whose filter intersects the
// tags attribute. Delivery failures for one subscription do not prevent
// delivery to the others; the joined error is returned.
func (t *Topic) Publish(body []byte, attrs map[string][]string) error {
	t.mu.RLock()
	targets := make([]subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		if sub.matches(attrs[TagAttribute]) {
			targets = append(targets, sub)
		}
	}
	t.mu.RUnlock()

	var errs []error
	for _, sub := range targets {
		if err := sub.queue.Send(body); err != nil {
			errs = append(errs, fmt.Errorf("topic %q: subscription %q: %w", t.name, sub.id, err))
		}
	}
	return errors.Join(errs...)
}

// matches reports whether any message tag is present in the subscription
// filter. A subscription with no filter receives everything.
func (s subscription) matches(tags []string) bool {
	if len(s.filter) == 0 {
		return true
	}
	for _, tag := range tags {
		if _, ok := s.filter[tag]; ok {
			return true
		}
	}
	return false
}
