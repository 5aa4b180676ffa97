package domain

import (
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// BackupRun is one execution attempt of a schedule, kept as local history.
type BackupRun struct {
	ID          string
	ScheduleKey string
	ScheduleID  string // empty for local schedules
	Attempt     int
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       *string
	DurationMS  *int64
}

// BackupReport is what the agent tells the backend once an occurrence is over.
type BackupReport struct {
	ScheduleID string
	RunID      string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Attempts   int
	Error      string
	Files      []string
	Databases  []string
}
