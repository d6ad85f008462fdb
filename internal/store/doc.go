// Package store is the durable keyed storage behind the pipeline: client
// records, client history, check results and notification audit entries.
// It offers point lookups, an ordered "latest result before T" range query,
// and a best-effort change feed of record mutations consumed by the router.
package store
