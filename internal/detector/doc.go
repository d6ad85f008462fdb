// Package detector implements the state-change notification policy: a newly
// inserted check result is compared against the latest prior result for the
// same identity, and any status transition — degradation or recovery —
// queues one notification per handler registered on the check definition.
// Threshold smoothing and flap detection are deliberately absent.
package detector
