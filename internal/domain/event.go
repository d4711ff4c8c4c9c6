package domain

import "time"

// RunSummaryEvent is the message published after a QC run completes, for
// downstream consumers that track network data quality.
type RunSummaryEvent struct {
	RunID      int64     `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stations   int       `json:"stations"`
	Timesteps  int       `json:"timesteps"`
	Summary    Summary   `json:"summary"`
}
