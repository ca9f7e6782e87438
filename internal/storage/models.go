package storage

import "time"

// EventType classifies an audit log entry.
type EventType string

const (
	EventInfo       EventType = "info"
	EventWarning    EventType = "warning"
	EventError      EventType = "error"
	EventSkip       EventType = "skip"
	EventValidation EventType = "validation"
	EventSuccess    EventType = "success"
)

// Sample is one persisted hashrate reading set.
type Sample struct {
	ID                int64     `json:"-"`
	Timestamp         time.Time `json:"timestamp"`
	PeriodStart       time.Time `json:"period_start"`
	QLIHashrate       float64   `json:"qli_hashrate"`
	ApoolHashrate     float64   `json:"apool_hashrate"`
	SolutionsHashrate float64   `json:"solutions_hashrate"`
	MinerlabHashrate  float64   `json:"minerlab_hashrate"`
	WasIdle           bool      `json:"was_idle"`
}

// LogEntry is an append-only record of a sampling decision or failure.
type LogEntry struct {
	ID          int64          `json:"-"`
	Timestamp   time.Time      `json:"timestamp"`
	PeriodStart time.Time      `json:"period_start"`
	EventType   EventType      `json:"event_type"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
}
