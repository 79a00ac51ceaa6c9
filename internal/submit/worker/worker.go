// Package worker drains the submit queue and hands each job to the judge.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ejsubmit/internal/common/db"
	"ejsubmit/internal/submit/queue"
	"ejsubmit/pkg/utils/contextkey"
	"ejsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultRestartDelay = time.Second

// State is the lifecycle phase of a worker.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Source hands out queued jobs.
type Source interface {
	Dequeue(ctx context.Context) (queue.Job, error)
}

// Scopes opens the database transaction a job is handled in.
type Scopes interface {
	BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error)
}

// Sender delivers one job inside scope. It may commit scope.
type Sender interface {
	Send(ctx context.Context, scope db.Transaction, job queue.Job) error
}

// Config holds per-worker settings.
type Config struct {
	ID string `yaml:"-"`
	// RestartDelay is the fixed pause after a backend outage. Default: 1s
	RestartDelay time.Duration `yaml:"restartDelay"`
}

// Worker is one sequential consumer of the submit queue.
type Worker struct {
	id           string
	source       Source
	scopes       Scopes
	sender       Sender
	restartDelay time.Duration
	state        atomic.Int32
	restarts     atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a worker.
func New(cfg Config, source Source, scopes Scopes, sender Sender) (*Worker, error) {
	if source == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if scopes == nil {
		return nil, fmt.Errorf("database is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	return &Worker{
		id:           cfg.ID,
		source:       source,
		scopes:       scopes,
		sender:       sender,
		restartDelay: cfg.RestartDelay,
		sleep:        sleepContext,
	}, nil
}

// ID returns the worker id used in logs.
func (w *Worker) ID() string {
	return w.id
}

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Restarts returns how many times the worker went through backoff.
func (w *Worker) Restarts() int64 {
	return w.restarts.Load()
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run consumes jobs until ctx is cancelled. A failing backend never stops
// the worker: it pauses for the restart delay and starts over.
func (w *Worker) Run(ctx context.Context) error {
	if w.id != "" {
		ctx = context.WithValue(ctx, contextkey.WorkerID, w.id)
	}
	defer w.setState(StateStopped)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.setState(StateStarting)
		logger.Info(ctx, "worker started")

		err := w.serve(ctx)
		if ctx.Err() != nil {
			logger.Info(ctx, "worker stopped")
			return ctx.Err()
		}

		w.setState(StateBackoff)
		w.restarts.Add(1)
		if errors.Is(err, queue.ErrCorruptJob) {
			logger.Error(ctx, "submit queue head is corrupt; restarting worker", zap.Error(err), zap.Duration("delay", w.restartDelay))
		} else {
			logger.Warn(ctx, "backend unavailable; restarting worker", zap.Error(err), zap.Duration("delay", w.restartDelay))
		}
		if err := w.sleep(ctx, w.restartDelay); err != nil {
			return err
		}
	}
}

func (w *Worker) serve(ctx context.Context) error {
	w.setState(StateRunning)
	for {
		job, err := w.source.Dequeue(ctx)
		if err != nil {
			return err
		}
		if err := w.Handle(ctx, job); err != nil {
			return err
		}
	}
}

// Handle delivers one job. Only transient database failures are returned;
// any other failure is logged and the job counts as consumed. The job's
// transaction is always rolled back afterwards, which is a no-op once the
// sender has committed it.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	ctx = context.WithValue(ctx, contextkey.RunID, job.RecordRef)
	err := w.handle(ctx, job)
	if err == nil {
		return nil
	}
	if db.IsTransient(err) {
		logger.Warn(ctx, "database failure while handling job", zap.Int64("sequence_id", job.SequenceID), zap.Error(err))
		return err
	}
	logger.Error(ctx, "submit worker skipped job",
		zap.Int64("sequence_id", job.SequenceID),
		zap.String("destination", job.Destination),
		zap.Error(err),
	)
	return nil
}

func (w *Worker) handle(ctx context.Context, job queue.Job) error {
	scope, err := w.scopes.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := scope.Rollback(); err != nil && !db.IsTxDone(err) {
			logger.Warn(ctx, "rollback after job failed", zap.Error(err))
		}
	}()
	return w.sender.Send(ctx, scope, job)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
