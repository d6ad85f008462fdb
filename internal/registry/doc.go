// Package registry manages client lifecycle: registration provisions a
// private delivery channel and a tag-filtered subscription on the dispatch
// topic, deregistration only deactivates the record, and actual resource
// teardown happens reactively in Cleanup, driven by client-record mutations
// on the store's change feed. Decoupling deregistration from teardown keeps
// the request path fast and lets the feed reconcile orphaned resources.
package registry
