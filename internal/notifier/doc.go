// Package notifier dispatches queued notifications. Handlers are resolved
// from a registry keyed by stable names and invoked with the check
// definition, the triggering result and scoped credentials. Every
// invocation, successful or not, appends a NotificationRecord to the audit
// trail; a handler failure is additionally re-raised to the queue so the
// at-least-once redelivery policy applies. Bundled handlers deliver to
// Slack, Teams and generic HTTP webhooks, or to the log.
package notifier
