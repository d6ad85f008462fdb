package model

import "time"

// CheckMessage is the fanout body published for a due client check. Tags are
// duplicated into the topic message attributes for subscriber-side filtering.
type CheckMessage struct {
	ScheduledAt time.Time `json:"scheduledAt"`
	Group       string    `json:"group"`
	Name        string    `json:"name"`
	Command     string    `json:"command"`
	Timeout     int       `json:"timeout"` // seconds
	Tags        []string  `json:"tags"`
}

// ServerlessMessage is the work-queue body for a due serverless check.
type ServerlessMessage struct {
	ScheduledAt time.Time `json:"scheduledAt"`
	Group       string    `json:"group"`
	Name        string    `json:"name"`
	Executor    string    `json:"executor"`
	Timeout     int       `json:"timeout"` // seconds
}

// ResultMessage is the work-queue body carrying one finished check execution
// toward the store.
type ResultMessage struct {
	ScheduledAt time.Time `json:"scheduledAt"`
	ExecutedAt  time.Time `json:"executedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Group       string    `json:"group"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Status      Status    `json:"status"`
	Output      string    `json:"output"`
}

// Record converts the wire message to its persisted form, deriving the key.
func (m ResultMessage) Record() CheckResultRecord {
	return CheckResultRecord{
		Key:         ResultKey(m.Group, m.Name, m.Source),
		Group:       m.Group,
		Name:        m.Name,
		Source:      m.Source,
		ScheduledAt: m.ScheduledAt,
		ExecutedAt:  m.ExecutedAt,
		CompletedAt: m.CompletedAt,
		Status:      m.Status,
		Output:      m.Output,
	}
}

// Message converts the persisted record back to its wire form.
func (r CheckResultRecord) Message() ResultMessage {
	return ResultMessage{
		ScheduledAt: r.ScheduledAt,
		ExecutedAt:  r.ExecutedAt,
		CompletedAt: r.CompletedAt,
		Group:       r.Group,
		Name:        r.Name,
		Source:      r.Source,
		Status:      r.Status,
		Output:      r.Output,
	}
}

// NotificationMessage is the work-queue body for one pending handler
// invocation. Handler is the registry key of the handler implementation.
type NotificationMessage struct {
	Handler string        `json:"handler"`
	Result  ResultMessage `json:"checkResult"`
}
