package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/mq"
	"ejsubmit/internal/judge/ejudge"
	"ejsubmit/internal/submit/model"
	"ejsubmit/internal/submit/queue"
	"ejsubmit/internal/submit/repository"
	appErr "ejsubmit/pkg/errors"
	"ejsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultSourceFilename = "source"

// JudgeClient sends one source file to the judge.
type JudgeClient interface {
	Submit(ctx context.Context, req ejudge.SubmitRequest, endpoint string) (ejudge.Result, error)
}

// SourceLoader reads a stored source.
type SourceLoader interface {
	Load(ctx context.Context, runID int64) ([]byte, error)
}

// SenderConfig holds RunSender dependencies.
type SenderConfig struct {
	Runs     repository.RunRepository
	Problems repository.ProblemRepository
	Sources  SourceLoader
	Judge    JudgeClient

	// Events and EventTopic are optional; without them no status event is published.
	Events     mq.Producer
	EventTopic string

	// MarkFailed records StatusFailedToSend on runs the judge could not be reached for.
	MarkFailed bool
	Timeouts   TimeoutConfig
}

// RunSender delivers queued runs to the judge and records the answer.
type RunSender struct {
	runs       repository.RunRepository
	problems   repository.ProblemRepository
	sources    SourceLoader
	judge      JudgeClient
	events     mq.Producer
	eventTopic string
	markFailed bool
	timeouts   TimeoutConfig
}

// NewRunSender creates a sender.
func NewRunSender(cfg SenderConfig) (*RunSender, error) {
	if cfg.Runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source loader is required")
	}
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge client is required")
	}
	return &RunSender{
		runs:       cfg.Runs,
		problems:   cfg.Problems,
		sources:    cfg.Sources,
		judge:      cfg.Judge,
		events:     cfg.Events,
		eventTopic: cfg.EventTopic,
		markFailed: cfg.MarkFailed,
		timeouts:   cfg.Timeouts,
	}, nil
}

// Send delivers the run named by job inside scope. Database errors are
// returned unwrapped so callers can tell connection failures apart; every
// other failure carries an application error code.
func (s *RunSender) Send(ctx context.Context, scope db.Transaction, job queue.Job) error {
	run, err := s.runs.GetByID(ctx, scope, job.RecordRef)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return appErr.Newf(appErr.RunNotFound, "run %d not found", job.RecordRef)
		}
		return err
	}
	problem, err := s.problems.GetByID(ctx, scope, run.ProblemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return appErr.Newf(appErr.ProblemNotFound, "problem %d not found", run.ProblemID)
		}
		return err
	}

	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	source, err := s.sources.Load(ctxStorage.ctx, run.ID)
	ctxStorage.cancel()
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			return appErr.Newf(appErr.SourceNotFound, "source of run %d not found", run.ID)
		}
		return appErr.Wrapf(err, appErr.StorageError, "load source of run %d failed", run.ID)
	}

	filename := run.Filename
	if filename == "" {
		filename = defaultSourceFilename
	}
	ctxJudge := withTimeout(ctx, s.timeouts.Judge)
	result, err := s.judge.Submit(ctxJudge.ctx, ejudge.SubmitRequest{
		File:       source,
		Filename:   filename,
		ContestID:  problem.EjudgeContestID,
		ProblemID:  problem.EjudgeProblemID,
		LanguageID: run.LanguageID,
	}, job.Destination)
	ctxJudge.cancel()
	if err != nil {
		if s.markFailed {
			if markErr := s.record(ctx, scope, run.ID, repository.StatusUpdate{Status: model.StatusFailedToSend, Message: err.Error()}); markErr != nil {
				return markErr
			}
		}
		return appErr.Wrapf(err, appErr.JudgeRequestFailed, "send run %d to judge failed", run.ID)
	}

	update := repository.StatusUpdate{Status: result.Code, Message: result.Message}
	if ejudgeRunID, ok := result.RunID(); ok {
		update.EjudgeRunID = ejudgeRunID
	}
	if err := s.record(ctx, scope, run.ID, update); err != nil {
		return err
	}
	logger.Info(ctx, "run sent to judge",
		zap.Int64("sequence_id", job.SequenceID),
		zap.Int("code", result.Code),
		zap.Int64("ejudge_run_id", update.EjudgeRunID),
	)
	s.publish(ctx, run.ID, update)
	return nil
}

// record writes the status and commits the scope.
func (s *RunSender) record(ctx context.Context, scope db.Transaction, runID int64, update repository.StatusUpdate) error {
	if err := s.runs.UpdateStatus(ctx, scope, runID, update); err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return appErr.Newf(appErr.RunNotFound, "run %d not found", runID)
		}
		return err
	}
	if scope != nil {
		if err := scope.Commit(); err != nil {
			return err
		}
	}
	s.runs.Invalidate(ctx, runID)
	return nil
}

func (s *RunSender) publish(ctx context.Context, runID int64, update repository.StatusUpdate) {
	if s.events == nil || s.eventTopic == "" {
		return
	}
	body, err := json.Marshal(model.StatusEvent{
		RunID:       runID,
		Status:      update.Status,
		EjudgeRunID: update.EjudgeRunID,
		Message:     update.Message,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		logger.Error(ctx, "encode status event failed", zap.Error(err))
		return
	}
	msg := mq.NewMessage(body)
	msg.ID = strconv.FormatInt(runID, 10)
	msg.SetHeader("event", "run.status")

	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.events.Publish(ctxMQ.ctx, s.eventTopic, msg); err != nil {
		logger.Warn(ctx, "publish status event failed", zap.String("topic", s.eventTopic), zap.Error(err))
	}
}
