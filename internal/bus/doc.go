// Package bus provides the in-process message substrates the pipeline runs
// on: a fanout Topic whose subscriptions filter on routing tags, and a
// point-to-point Queue with at-least-once delivery, per-message visibility
// timeout and backoff redelivery. A Broker owns the named instances so the
// registry can probe for their existence.
package bus
