package executor

import (
	"context"
	"sort"
	"sync"

	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/creds"
	"github.com/coalmine/coalmine/internal/model"
)

// Outcome is the normalized result of one executor invocation.
type Outcome struct {
	Status model.Status
	Output string
}

// Func is a serverless check implementation. It should honor ctx's deadline;
// the runner abandons it at the boundary regardless. A returned error maps
// to a CRITICAL outcome.
type Func func(ctx context.Context, chk *catalog.ServerlessCheck, cr creds.Credentials) (Outcome, error)

// Entry binds an executor implementation to its credential role and the
// least-privilege permissions it declares. Permissions are carried to the
// credential provider opaquely.
type Entry struct {
	Run         Func
	Role        string
	Permissions []model.Permission
}

// Registry maps stable executor keys to entries. It is populated at process
// start from static configuration; the pipeline resolves by key instead of
// any dynamic construction.
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

// Keys returns the registered executor keys, sorted.
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
