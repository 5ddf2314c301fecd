package models

import "time"

// SyncJobState is the lifecycle state of a backend-initiated sync job.
type SyncJobState string

const (
	JobIdle      SyncJobState = "idle"
	JobRunning   SyncJobState = "running"
	JobSucceeded SyncJobState = "succeeded"
	JobFailed    SyncJobState = "failed"
)

// IsTerminal reports whether the job finished (successfully or not).
func (s SyncJobState) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// SyncJob is an observed background synchronization job.
// It is created by a syncStart event and never initiated by the client.
type SyncJob struct {
	Name       string
	State      SyncJobState
	Percentage float64 // 0 to 100
	Message    string  // error message when State is JobFailed
	StartedAt  time.Time
	FinishedAt time.Time
}
