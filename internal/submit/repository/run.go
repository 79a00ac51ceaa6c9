package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/db"
	"ejsubmit/internal/submit/model"
)

const (
	defaultRunCacheTTL      = 10 * time.Minute
	defaultRunCacheEmptyTTL = time.Minute
	runCacheKeyPrefix       = "run:"
)

var (
	ErrRunNotFound = errors.New("run not found")
)

// StatusUpdate is the judge answer written back to a run.
type StatusUpdate struct {
	Status      int
	EjudgeRunID int64
	Message     string
}

// RunRepository defines run persistence interfaces.
type RunRepository interface {
	Create(ctx context.Context, tx db.Transaction, run *model.Run) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, runID int64) (*model.Run, error)
	GetLatestByUserProblem(ctx context.Context, tx db.Transaction, userID, problemID int64) (*model.Run, error)
	UpdateStatus(ctx context.Context, tx db.Transaction, runID int64, update StatusUpdate) error
	ListByStatus(ctx context.Context, status int, afterID int64, limit int) ([]int64, error)
	Invalidate(ctx context.Context, runID int64)
}

// MySQLRunRepository implements RunRepository with MySQL.
type MySQLRunRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewRunRepository creates a run repository with defaults. cacheClient may be nil.
func NewRunRepository(database db.Database, cacheClient cache.Cache) *MySQLRunRepository {
	return NewRunRepositoryWithTTL(database, cacheClient, defaultRunCacheTTL, defaultRunCacheEmptyTTL)
}

// NewRunRepositoryWithTTL creates a run repository with custom TTL.
func NewRunRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLRunRepository {
	if ttl <= 0 {
		ttl = defaultRunCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultRunCacheEmptyTTL
	}
	return &MySQLRunRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const runColumns = "id, user_id, problem_id, statement_id, ejudge_contest_id, ejudge_language_id, ejudge_status, ejudge_run_id, source_hash, filename, context_source, is_visible, message, create_time, update_time"

// Create inserts a run and returns its id.
func (r *MySQLRunRepository) Create(ctx context.Context, tx db.Transaction, run *model.Run) (int64, error) {
	if run == nil {
		return 0, errors.New("run is nil")
	}
	if run.UserID <= 0 {
		return 0, errors.New("userID is required")
	}
	if run.ProblemID <= 0 {
		return 0, errors.New("problemID is required")
	}
	if run.SourceHash == "" {
		return 0, errors.New("sourceHash is required")
	}

	query := `
		INSERT INTO runs
		(user_id, problem_id, statement_id, ejudge_contest_id, ejudge_language_id, ejudge_status, source_hash, filename, context_source, is_visible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		run.UserID,
		run.ProblemID,
		nullableID(run.StatementID),
		run.ContestID,
		run.LanguageID,
		run.Status,
		run.SourceHash,
		run.Filename,
		run.ContextSource,
		run.IsVisible,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// GetByID retrieves a run. Reads inside a transaction bypass the cache.
func (r *MySQLRunRepository) GetByID(ctx context.Context, tx db.Transaction, runID int64) (*model.Run, error) {
	if runID <= 0 {
		return nil, errors.New("runID is required")
	}
	if r.cache != nil && tx == nil {
		run, err := cache.GetJSON(ctx, r.cache, runCacheKey(runID), cache.TTL{Hit: r.ttl, Miss: r.emptyTTL},
			func(ctx context.Context) (*model.Run, error) {
				run, err := r.getOne(ctx, nil, "id = ?", runID)
				if errors.Is(err, ErrRunNotFound) {
					return nil, nil
				}
				return run, err
			},
		)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, ErrRunNotFound
		}
		return run, nil
	}
	return r.getOne(ctx, tx, "id = ?", runID)
}

// GetLatestByUserProblem returns the newest run of a user on a problem.
func (r *MySQLRunRepository) GetLatestByUserProblem(ctx context.Context, tx db.Transaction, userID, problemID int64) (*model.Run, error) {
	return r.getOne(ctx, tx, "user_id = ? AND problem_id = ? ORDER BY id DESC", userID, problemID)
}

// UpdateStatus writes the judge answer and drops the cached entry.
func (r *MySQLRunRepository) UpdateStatus(ctx context.Context, tx db.Transaction, runID int64, update StatusUpdate) error {
	query := `
		UPDATE runs
		SET ejudge_status = ?, ejudge_run_id = ?, message = ?, update_time = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return cache.InvalidateAfter(ctx, r.cache, runCacheKey(runID), func(ctx context.Context) error {
		res, err := db.GetQuerier(r.db, tx).Exec(ctx, query, update.Status, nullableID(update.EjudgeRunID), update.Message, runID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// ListByStatus returns up to limit run ids in status with id greater than afterID, newest first.
func (r *MySQLRunRepository) ListByStatus(ctx context.Context, status int, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx, "SELECT id FROM runs WHERE ejudge_status = ? AND id > ? ORDER BY id DESC LIMIT ?", status, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Invalidate drops the cached entry of a run. Call it after committing a
// transaction that changed the run.
func (r *MySQLRunRepository) Invalidate(ctx context.Context, runID int64) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, runCacheKey(runID))
}

func (r *MySQLRunRepository) getOne(ctx context.Context, tx db.Transaction, where string, args ...interface{}) (*model.Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE " + where + " LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, args...)
	run := &model.Run{}
	var (
		statementID *int64
		ejudgeRunID *int64
		message     *string
	)
	if err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.ProblemID,
		&statementID,
		&run.ContestID,
		&run.LanguageID,
		&run.Status,
		&ejudgeRunID,
		&run.SourceHash,
		&run.Filename,
		&run.ContextSource,
		&run.IsVisible,
		&message,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if statementID != nil {
		run.StatementID = *statementID
	}
	if ejudgeRunID != nil {
		run.EjudgeRunID = *ejudgeRunID
	}
	if message != nil {
		run.Message = *message
	}
	return run, nil
}

func nullableID(id int64) interface{} {
	if id <= 0 {
		return nil
	}
	return id
}

func runCacheKey(runID int64) string {
	return runCacheKeyPrefix + strconv.FormatInt(runID, 10)
}
