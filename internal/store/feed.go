package store

import "log/slog"

// Op is the mutation type reported on the change feed.
type Op string

const (
	OpInsert Op = "INSERT"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// Kind is the logical record type discriminator carried on every mutation.
type Kind string

const (
	KindClient       Kind = "client"
	KindResult       Kind = "result"
	KindHistory      Kind = "history"
	KindNotification Kind = "notification"
)

// Mutation is one change-feed event. Old and New hold the record images;
// either may be nil depending on Op (INSERT has no old image, REMOVE no new
// one). Images are typed by Kind: *model.ClientRecord for KindClient,
// *model.CheckResultRecord for KindResult, and so on.
type Mutation struct {
	Op   Op
	Kind Kind
	Old  any
	New  any
}

// feedBufSize is the change-feed channel depth. The feed is best-effort:
// when the consumer falls this far behind, the oldest pending event is
// dropped to keep writers non-blocking.
const feedBufSize = 256

// Feed returns the change-feed channel. There is a single feed per Store;
// all consumers must go through one router.
func (s *Store) Feed() <-chan Mutation {
	return s.feed
}

// emit publishes a mutation to the feed, dropping the oldest pending event
// if the buffer is full. Callers hold s.mu.
func (s *Store) emit(m Mutation) {
	select {
	case s.feed <- m:
	default:
		select {
		case <-s.feed:
			slog.Warn("store: change feed full, dropped oldest event")
		default:
		}
		select {
		case s.feed <- m:
		default:
		}
	}
}
