package history

import "time"

// Run statuses beyond those a finished run reports.
const (
	// StatusRejected marks a trigger refused because a run was already in progress.
	StatusRejected = "rejected"
)

// RunRecord represents a single orchestrator run in the database
type RunRecord struct {
	ID              int64      `json:"id"`
	RunID           string     `json:"run_id"`
	Target          string     `json:"target"`
	Trigger         string     `json:"trigger"`
	Requested       string     `json:"requested"`
	Previous        *string    `json:"previous,omitempty"`
	Serving         *string    `json:"serving,omitempty"`
	Status          string     `json:"status"` // success, failed, rolled_back, rollback_failed, rejected
	RolledBack      bool       `json:"rolled_back"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    *string    `json:"error,omitempty"`
}

// TargetStatus represents the latest status of a target
type TargetStatus struct {
	Target        string      `json:"target"`
	Running       bool        `json:"running"`
	LatestRun     *RunRecord  `json:"latest_run,omitempty"`
	RecentHistory []RunRecord `json:"recent_history,omitempty"`
}
