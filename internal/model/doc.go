// Package model defines the canonical records persisted by the store and the
// JSON message bodies exchanged over the dispatch topic and the work queues.
// Records are plain values; none of them carry behavior beyond key derivation.
package model
