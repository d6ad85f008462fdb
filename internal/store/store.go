package store

import (
	"sort"
	"sync"
	"time"

	"github.com/coalmine/coalmine/internal/model"
)

// Store is a thread-safe in-memory record store with a change feed.
// All cross-invocation pipeline state lives here; no other component keeps
// state between events.
type Store struct {
	mu            sync.RWMutex
	clients       map[string]model.ClientRecord
	history       map[string][]model.ClientHistoryRecord
	results       map[string][]model.CheckResultRecord // sorted by CompletedAt asc
	notifications []model.NotificationRecord

	feed chan Mutation
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		clients: make(map[string]model.ClientRecord),
		history: make(map[string][]model.ClientHistoryRecord),
		results: make(map[string][]model.CheckResultRecord),
		feed:    make(chan Mutation, feedBufSize),
	}
}

// --- clients ----------------------------------------------------------------

// PutClient inserts or replaces the record for rec.Name and emits an INSERT
// or MODIFY mutation carrying the old and new images.
func (s *Store) PutClient(rec model.ClientRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.clients[rec.Name]
	s.clients[rec.Name] = rec

	if existed {
		o := old
		n := rec
		s.emit(Mutation{Op: OpModify, Kind: KindClient, Old: &o, New: &n})
		return
	}
	n := rec
	s.emit(Mutation{Op: OpInsert, Kind: KindClient, New: &n})
}

// GetClient returns the record for name and whether it exists.
func (s *Store) GetClient(name string) (model.ClientRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.clients[name]
	return rec, ok
}

// DeleteClient removes the record for name, emitting a REMOVE mutation with
// the old image. Returns false if no such record exists.
func (s *Store) DeleteClient(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.clients[name]
	if !ok {
		return false
	}
	delete(s.clients, name)
	o := old
	s.emit(Mutation{Op: OpRemove, Kind: KindClient, Old: &o})
	return true
}

// Clients returns all client records, sorted by name.
func (s *Store) Clients() []model.ClientRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ClientRecord, 0, len(s.clients))
	for _, rec := range s.clients {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AppendHistory appends an audit entry for a client record write.
// History entries are immutable and never feed back into the pipeline.
func (s *Store) AppendHistory(rec model.ClientHistoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[rec.Name] = append(s.history[rec.Name], rec)
	n := rec
	s.emit(Mutation{Op: OpInsert, Kind: KindHistory, New: &n})
}

// HistoryFor returns the audit trail for one client, oldest first.
func (s *Store) HistoryFor(name string) []model.ClientHistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ClientHistoryRecord(nil), s.history[name]...)
}

// --- check results ----------------------------------------------------------

// PutResult appends an immutable result under its identity key, keeping the
// per-key slice ordered by CompletedAt. A result with the same key and
// completion time as an existing one is a duplicate delivery and is dropped;
// PutResult reports whether the record was actually inserted.
func (s *Store) PutResult(rec model.CheckResultRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.results[rec.Key]
	i := sort.Search(len(rs), func(i int) bool {
		return !rs[i].CompletedAt.Before(rec.CompletedAt)
	})
	if i < len(rs) && rs[i].CompletedAt.Equal(rec.CompletedAt) {
		return false
	}

	rs = append(rs, model.CheckResultRecord{})
	copy(rs[i+1:], rs[i:])
	rs[i] = rec
	s.results[rec.Key] = rs

	n := rec
	s.emit(Mutation{Op: OpInsert, Kind: KindResult, New: &n})
	return true
}

// LatestResultBefore returns the newest result for key whose CompletedAt is
// strictly before t, and whether one exists.
func (s *Store) LatestResultBefore(key string, t time.Time) (model.CheckResultRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs := s.results[key]
	// First index at or after t; everything before it completed strictly earlier.
	i := sort.Search(len(rs), func(i int) bool {
		return !rs[i].CompletedAt.Before(t)
	})
	if i == 0 {
		return model.CheckResultRecord{}, false
	}
	return rs[i-1], true
}

// ResultsFor returns the full ordered history for one identity key.
func (s *Store) ResultsFor(key string) []model.CheckResultRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CheckResultRecord(nil), s.results[key]...)
}

// --- notifications ----------------------------------------------------------

// AppendNotification records one handler invocation outcome.
func (s *Store) AppendNotification(rec model.NotificationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, rec)
	n := rec
	s.emit(Mutation{Op: OpInsert, Kind: KindNotification, New: &n})
}

// Notifications returns the full audit trail, oldest first.
func (s *Store) Notifications() []model.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.NotificationRecord(nil), s.notifications...)
}
