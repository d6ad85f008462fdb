package model

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Status is the outcome classification of a single check execution.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusUnknown  Status = "UNKNOWN"
)

// Valid reports whether s is one of the four defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusWarning, StatusCritical, StatusUnknown:
		return true
	}
	return false
}

// ClientRecord is the persisted registration state of one client agent,
// keyed by client name.
//
// Invariant: CommandChannel and Subscription are either both set or both
// empty — a client either owns a full delivery path or none of it.
type ClientRecord struct {
	Name           string    `json:"name"`
	Tags           []string  `json:"tags"`
	CommandChannel string    `json:"commandChannel"`
	Subscription   string    `json:"subscription"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ClientHistoryRecord is an append-only audit entry written alongside every
// ClientRecord mutation. It is never updated in place.
type ClientHistoryRecord struct {
	Name       string    `json:"name"`
	Note       string    `json:"note"`
	RecordedAt time.Time `json:"recordedAt"`
}

// CheckResultRecord is one immutable execution outcome for a check identity.
// Key is the hash of (group, name, source); CompletedAt is the sort key, so a
// single identity accumulates an append-only history ordered by completion.
type CheckResultRecord struct {
	Key         string    `json:"key"`
	Group       string    `json:"group"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	ScheduledAt time.Time `json:"scheduledAt"`
	ExecutedAt  time.Time `json:"executedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Status      Status    `json:"status"`
	Output      string    `json:"output"`
}

// ResultKey derives the primary key for a result identity: the hex MD5 of
// group, check name and result source joined with '|'. MD5 is a key-spreading
// choice here, not a security boundary.
func ResultKey(group, name, source string) string {
	sum := md5.Sum([]byte(group + "|" + name + "|" + source))
	return hex.EncodeToString(sum[:])
}

// NotificationRecord is an append-only audit entry describing one handler
// invocation, successful or failed.
type NotificationRecord struct {
	Handler     string    `json:"handler"`
	Group       string    `json:"group"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	ResultKey   string    `json:"resultKey"`
	CompletedAt time.Time `json:"completedAt"`
	Outcome     string    `json:"outcome"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// Permission declares least-privilege access an executor or handler requires:
// a list of actions over a list of resources. The core carries permissions to
// the credential provider opaquely and never interprets them.
type Permission struct {
	Actions   []string `json:"actions"`
	Resources []string `json:"resources"`
}
