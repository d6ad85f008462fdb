// Package router is the single change-feed consumer. It classifies each
// mutation by its record kind and routes client-record mutations to the
// registry's cleanup path and result insertions to the state detector.
// History and notification records are audit-only and ignored; unrecognized
// kinds are logged and skipped. Records are isolated from each other: a
// panic handling one never stops the feed.
package router
