// Package creds defines the scoped-credential collaborator consumed by the
// executor runner and the notification dispatcher. Components never assume
// roles themselves; they ask a Provider for credentials scoped to a role key
// and an environment-qualified session name.
package creds
