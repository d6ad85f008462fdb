// Package ingest drains the result work queue into the store. Writes are
// idempotent on (identity key, completion time), which absorbs the duplicate
// deliveries an at-least-once scheduler and queue inevitably produce.
package ingest
