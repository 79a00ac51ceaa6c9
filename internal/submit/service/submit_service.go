package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/db"
	"ejsubmit/internal/submit/model"
	"ejsubmit/internal/submit/queue"
	"ejsubmit/internal/submit/repository"
	appErr "ejsubmit/pkg/errors"
	"ejsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	rateUserKeyPrefix = "submit:rate:user:"
	rateIPKeyPrefix   = "submit:rate:ip:"

	defaultMaxSourceBytes     = 64 * 1024
	defaultMaxOutputOnlyBytes = 16 * 1024 * 1024
	minSourceBytes            = 4
	defaultRejudgeLimit       = 1000
)

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
	Judge   time.Duration `yaml:"judge"`
}

// SourceSaver stores a run's source.
type SourceSaver interface {
	Save(ctx context.Context, runID int64, source []byte) error
}

// Queue is the producer side of the submit queue.
type Queue interface {
	Enqueue(ctx context.Context, runID int64, destination string) (queue.Job, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Config holds submit service dependencies and settings.
type Config struct {
	DB       db.Database
	Runs     repository.RunRepository
	Problems repository.ProblemRepository
	Sources  SourceSaver
	Queue    Queue
	Cache    cache.Cache

	// Endpoint is the judge URL carried by every enqueued job.
	Endpoint           string
	MaxSourceBytes     int
	MaxOutputOnlyBytes int
	RateLimit          RateLimitConfig
	Timeouts           TimeoutConfig
}

// SubmitService handles submission intake and dispatch.
type SubmitService struct {
	db       db.Database
	runs     repository.RunRepository
	problems repository.ProblemRepository
	sources  SourceSaver
	queue    Queue
	cache    cache.Cache

	endpoint           string
	maxSourceBytes     int
	maxOutputOnlyBytes int
	rateLimit          RateLimitConfig
	timeouts           TimeoutConfig
}

// SubmitInput describes a trusted submission.
type SubmitInput struct {
	UserID        int64
	ProblemID     int64
	LanguageID    int64
	StatementID   int64
	ContextID     int64
	ContextSource int
	IsVisible     *bool
	Filename      string
	Source        []byte
	ClientIP      string
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("submit queue is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("judge endpoint is required")
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.MaxOutputOnlyBytes <= 0 {
		cfg.MaxOutputOnlyBytes = defaultMaxOutputOnlyBytes
	}
	return &SubmitService{
		db:                 cfg.DB,
		runs:               cfg.Runs,
		problems:           cfg.Problems,
		sources:            cfg.Sources,
		queue:              cfg.Queue,
		cache:              cfg.Cache,
		endpoint:           cfg.Endpoint,
		maxSourceBytes:     cfg.MaxSourceBytes,
		maxOutputOnlyBytes: cfg.MaxOutputOnlyBytes,
		rateLimit:          cfg.RateLimit,
		timeouts:           cfg.Timeouts,
	}, nil
}

// Submit stores a run and queues it for the judge. The job is enqueued
// only after the run and its source are committed.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (int64, error) {
	if err := validateInput(input); err != nil {
		return 0, err
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	problem, err := s.problems.GetByID(ctxDB.ctx, nil, input.ProblemID)
	ctxDB.cancel()
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return 0, appErr.New(appErr.ProblemNotFound).WithMessage("problem not found")
		}
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	if err := s.checkSize(input.Source, problem.OutputOnly); err != nil {
		return 0, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return 0, err
	}

	sourceHash := model.GenerateSourceHash(input.Source)
	if err := s.checkDuplicate(ctx, input, sourceHash); err != nil {
		return 0, err
	}

	run := &model.Run{
		UserID:        input.UserID,
		ProblemID:     input.ProblemID,
		StatementID:   input.StatementID,
		ContestID:     problem.EjudgeContestID,
		LanguageID:    input.LanguageID,
		Status:        model.StatusInQueue,
		SourceHash:    sourceHash,
		Filename:      input.Filename,
		ContextSource: input.ContextSource,
		IsVisible:     true,
	}
	if input.ContextID > 0 {
		run.StatementID = input.ContextID
	}
	if run.ContextSource == 0 {
		run.ContextSource = model.DefaultContextSource
	}
	if input.IsVisible != nil {
		run.IsVisible = *input.IsVisible
	}

	ctxTx := withTimeout(ctx, s.timeouts.DB)
	err = s.db.Transaction(ctxTx.ctx, func(tx db.Transaction) error {
		if _, err := s.runs.Create(ctxTx.ctx, tx, run); err != nil {
			return appErr.Wrapf(err, appErr.RunCreateFailed, "create run failed")
		}
		ctxStorage := withTimeout(ctxTx.ctx, s.timeouts.Storage)
		defer ctxStorage.cancel()
		if err := s.sources.Save(ctxStorage.ctx, run.ID, input.Source); err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "upload source failed")
		}
		return nil
	})
	ctxTx.cancel()
	if err != nil {
		if appErr.GetCode(err) == appErr.InternalServerError {
			return 0, appErr.Wrapf(err, appErr.TransactionFailed, "commit run failed")
		}
		return 0, err
	}

	if _, err := s.queue.Enqueue(ctx, run.ID, s.endpoint); err != nil {
		logger.Error(ctx, "run committed but not enqueued", zap.Int64("run_id", run.ID), zap.Error(err))
		return run.ID, err
	}
	return run.ID, nil
}

// Rejudge resets a run to the in-queue status and queues it again.
func (s *SubmitService) Rejudge(ctx context.Context, runID int64) (queue.Job, error) {
	if runID <= 0 {
		return queue.Job{}, appErr.ValidationError("run_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.runs.UpdateStatus(ctxDB.ctx, nil, runID, repository.StatusUpdate{Status: model.StatusInQueue}); err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return queue.Job{}, appErr.New(appErr.RunNotFound).WithMessage("run not found")
		}
		return queue.Job{}, appErr.Wrapf(err, appErr.RunStatusUpdateFailed, "reset run status failed")
	}
	return s.queue.Enqueue(ctx, runID, s.endpoint)
}

// RejudgeStuck queues again up to limit runs above afterID that are still in
// the in-queue status. It keeps going past individual failures and returns
// the ids it enqueued together with the joined errors.
func (s *SubmitService) RejudgeStuck(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = defaultRejudgeLimit
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	ids, err := s.runs.ListByStatus(ctxDB.ctx, model.StatusInQueue, afterID, limit)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list stuck runs failed")
	}

	enqueued := make([]int64, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if _, err := s.queue.Enqueue(ctx, id, s.endpoint); err != nil {
			logger.Warn(ctx, "rejudge stuck run failed", zap.Int64("run_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		enqueued = append(enqueued, id)
	}
	logger.Info(ctx, "stuck runs rejudged", zap.Int("found", len(ids)), zap.Int("enqueued", len(enqueued)))
	return enqueued, errors.Join(errs...)
}

// QueueStats reports the submit queue counters.
func (s *SubmitService) QueueStats(ctx context.Context) (queue.Stats, error) {
	return s.queue.Stats(ctx)
}

func validateInput(input SubmitInput) error {
	if input.UserID <= 0 {
		return appErr.New(appErr.InvalidUser).WithMessage("user_id is required")
	}
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if input.LanguageID <= 0 {
		return appErr.ValidationError("lang_id", "required")
	}
	if strings.TrimSpace(input.Filename) == "" {
		return appErr.ValidationError("file", "filename required")
	}
	return nil
}

func (s *SubmitService) checkSize(source []byte, outputOnly bool) error {
	limit := s.maxSourceBytes
	if outputOnly {
		limit = s.maxOutputOnlyBytes
	}
	if len(source) >= limit {
		return appErr.Newf(appErr.SourceTooLarge, "submission must be smaller than %d bytes", limit)
	}
	if len(source) < minSourceBytes {
		return appErr.New(appErr.SourceTooSmall).WithMessage("submission is too small")
	}
	return nil
}

func (s *SubmitService) checkDuplicate(ctx context.Context, input SubmitInput, sourceHash string) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	latest, err := s.runs.GetLatestByUserProblem(ctxDB.ctx, nil, input.UserID, input.ProblemID)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return nil
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "get latest run failed")
	}
	if latest.SourceHash == sourceHash && latest.LanguageID == input.LanguageID {
		return appErr.New(appErr.DuplicateSubmission).WithMessage("source is identical to the previous submission")
	}
	return nil
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+fmt.Sprintf("%d", userID), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > max {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
