// Package api is the HTTP surface: client registration and deregistration,
// plus read-only views over clients, results and the notification audit
// trail. Responses are JSON; deregistration mirrors its outcome in both the
// HTTP status and the body code (200 deactivated, 400 invalid input, 404
// unknown client). Authentication is an optional API-key header check
// applied as middleware.
package api
