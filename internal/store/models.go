package store

import "time"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusHalted    = "halted"
	StatusFailed    = "failed"
)

// Release event actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// Release event outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
)

// Run records one sync session
type Run struct {
	ID           int64
	SessionID    string // correlates the run with its log lines
	Destination  string
	StartTime    time.Time
	EndTime      time.Time
	Planned      int // additions + removals in the computed delta
	Additions    int
	Removals     int
	DryRun       bool
	Status       string // "running", "completed", "halted", "failed"
	ErrorMessage string
}

// ReleaseEvent records the outcome of one addition or removal within a run
type ReleaseEvent struct {
	ID           int64
	RunID        int64
	Release      string
	Digest       string // empty for removals
	Action       string // "add" or "remove"
	Outcome      string // "applied" or "failed"
	ErrorMessage string
	Time         time.Time
}
