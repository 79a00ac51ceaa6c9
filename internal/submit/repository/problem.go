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
	defaultProblemCacheTTL      = 30 * time.Minute
	defaultProblemCacheEmptyTTL = 5 * time.Minute
	problemCacheKeyPrefix       = "ejudge_problem:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository reads the judge binding of a problem.
type ProblemRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error)
}

// MySQLProblemRepository implements ProblemRepository with MySQL.
type MySQLProblemRepository struct {
	db    db.Database
	cache cache.Cache
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) *MySQLProblemRepository {
	return &MySQLProblemRepository{db: database, cache: cacheClient}
}

func (r *MySQLProblemRepository) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, errors.New("problemID is required")
	}
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, problemID)
	}
	problem, err := cache.GetJSON(ctx, r.cache, problemCacheKeyPrefix+strconv.FormatInt(problemID, 10),
		cache.TTL{Hit: defaultProblemCacheTTL, Miss: defaultProblemCacheEmptyTTL},
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.getFromDB(ctx, nil, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	query := "SELECT id, ejudge_contest_id, problem_id, output_only FROM ejudge_problems WHERE id = ? LIMIT 1"
	p := &model.Problem{}
	if err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID).Scan(
		&p.ID,
		&p.EjudgeContestID,
		&p.EjudgeProblemID,
		&p.OutputOnly,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return p, nil
}
