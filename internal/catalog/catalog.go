package catalog

import "sync"

// DefaultTimeoutSec is the check execution deadline applied when the
// definition does not set one.
const DefaultTimeoutSec = 30

// Predicate is a schedule-time gate evaluated on every tick.
type Predicate func() bool

// CheckBase carries the attributes shared by both check variants.
// Values are immutable after construction.
type CheckBase struct {
	// Name is the check identifier, unique within its group.
	Name string

	// Interval is the scheduling period in minutes. A check is due on a
	// tick iff the tick's minutes-since-epoch is divisible by Interval.
	Interval int

	// TimeoutSec is the execution deadline in seconds.
	TimeoutSec int

	// Message is the free-form notification text attached to alerts.
	Message string

	// Handlers lists the notification handler keys invoked on a state change.
	Handlers []string

	// FlapLow and FlapHigh are flap-detection thresholds. Carried for
	// definition compatibility; smoothing is not implemented.
	FlapLow  int
	FlapHigh int

	// Metadata is free-form configuration consumed by executors and handlers.
	Metadata map[string]string

	// Contacts lists notification routing contacts.
	Contacts []string

	// Occurrences is the occurrence threshold carried on the definition.
	Occurrences int

	// RunOnlyIf gates scheduling; nil means always run.
	RunOnlyIf Predicate

	// SkipIf suppresses scheduling; nil means never skip.
	SkipIf Predicate
}

// Base returns the shared attributes; it makes CheckBase satisfy Check when
// embedded in a variant.
func (b *CheckBase) Base() *CheckBase { return b }

// ShouldRun evaluates the schedule-time predicates.
func (b *CheckBase) ShouldRun() bool {
	if b.RunOnlyIf != nil && !b.RunOnlyIf() {
		return false
	}
	if b.SkipIf != nil && b.SkipIf() {
		return false
	}
	return true
}

// Check is either a *ClientCheck or a *ServerlessCheck.
type Check interface {
	Base() *CheckBase
}

// ClientCheck is executed by remote client agents: a shell command fanned out
// over the dispatch topic, routed by tags.
type ClientCheck struct {
	CheckBase
	Command string
	Tags    []string
}

// ServerlessCheck runs in-process through a named executor implementation.
type ServerlessCheck struct {
	CheckBase
	Executor string
}

// Group is a named, ordered collection of checks.
type Group struct {
	Name   string
	Checks []Check
}

type key struct{ group, name string }

// Catalog is the full read-only check configuration with identity lookup.
type Catalog struct {
	groups []Group
	index  map[key]Check
}

// New builds a Catalog from groups. The groups are referenced, not copied;
// callers must not mutate them afterwards.
func New(groups []Group) *Catalog {
	c := &Catalog{groups: groups, index: make(map[key]Check)}
	for _, g := range groups {
		for _, chk := range g.Checks {
			c.index[key{g.Name, chk.Base().Name}] = chk
		}
	}
	return c
}

// Groups returns the configured groups in definition order.
func (c *Catalog) Groups() []Group { return c.groups }

// Lookup resolves a check by its (group, name) identity.
func (c *Catalog) Lookup(group, name string) (Check, bool) {
	chk, ok := c.index[key{group, name}]
	return chk, ok
}

// Source is the read interface the pipeline consumes the catalog through.
// *Catalog is a fixed Source; *Holder is a swappable one.
type Source interface {
	Groups() []Group
	Lookup(group, name string) (Check, bool)
}

// Holder is a Source whose underlying Catalog can be replaced atomically,
// used for configuration hot-reload.
type Holder struct {
	mu  sync.RWMutex
	cur *Catalog
}

// NewHolder creates a Holder starting at c.
func NewHolder(c *Catalog) *Holder { return &Holder{cur: c} }

// Swap replaces the current catalog.
func (h *Holder) Swap(c *Catalog) {
	h.mu.Lock()
	h.cur = c
	h.mu.Unlock()
}

// Groups returns the current catalog's groups.
func (h *Holder) Groups() []Group {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur.Groups()
}

// Lookup resolves against the current catalog.
func (h *Holder) Lookup(group, name string) (Check, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur.Lookup(group, name)
}
