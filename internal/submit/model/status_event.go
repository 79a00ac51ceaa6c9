package model

import "time"

// StatusEvent is published whenever the judge answers for a run.
type StatusEvent struct {
	RunID       int64     `json:"run_id"`
	Status      int       `json:"status"`
	EjudgeRunID int64     `json:"ejudge_run_id,omitempty"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}
