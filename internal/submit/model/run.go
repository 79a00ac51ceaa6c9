package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Run statuses owned by this service. Every other value is a judge code.
const (
	StatusInQueue      = 377
	StatusFailedToSend = -1
)

const (
	// DefaultContextSource marks a run submitted outside any course context.
	DefaultContextSource = 10
)

// Run is one submitted source and its judging state.
type Run struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ProblemID     int64     `json:"problem_id"`
	StatementID   int64     `json:"statement_id"`
	ContestID     int64     `json:"ejudge_contest_id"`
	LanguageID    int64     `json:"lang_id"`
	Status        int       `json:"status"`
	EjudgeRunID   int64     `json:"ejudge_run_id"`
	SourceHash    string    `json:"source_hash"`
	Filename      string    `json:"filename"`
	ContextSource int       `json:"context_source"`
	IsVisible     bool      `json:"is_visible"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// InQueue reports whether the run still waits for a judge answer.
func (r *Run) InQueue() bool {
	return r.Status == StatusInQueue
}

// Problem is the judge-side problem a run is sent to.
type Problem struct {
	ID              int64 `json:"id"`
	EjudgeContestID int64 `json:"ejudge_contest_id"`
	EjudgeProblemID int64 `json:"ejudge_problem_id"`
	OutputOnly      bool  `json:"output_only"`
}

// GenerateSourceHash returns the hex sha256 of source.
func GenerateSourceHash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}
