package main

import (
	"context"
	"fmt"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/common/storage"
	"ejsubmit/internal/submit/queue"
	submitRepo "ejsubmit/internal/submit/repository"
	"ejsubmit/internal/submit/service"
	"ejsubmit/pkg/utils/logger"
)

// QueueAdmin is the queue surface the CLI drives.
type QueueAdmin interface {
	Stats(ctx context.Context) (queue.Stats, error)
	Enqueue(ctx context.Context, runID int64, destination string) (queue.Job, error)
	QuarantineHead(ctx context.Context) (string, error)
}

// StuckRejudger re-queues runs left in the queue state.
type StuckRejudger interface {
	RejudgeStuck(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

type backend struct {
	queue    QueueAdmin
	endpoint string

	// rejudger is opened lazily because it needs MySQL and object storage.
	rejudger func() (StuckRejudger, error)
	closers  []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackend(configPath string) (*backend, error) {
	cfg, err := loadAppConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	b := &backend{endpoint: cfg.Judge.Endpoint}
	b.closers = append(b.closers, redisClient.Close)

	store, err := queuestore.New(redisClient, cfg.Queue)
	if err != nil {
		b.Close()
		return nil, err
	}
	submitQueue, err := queue.NewSubmitQueue(store)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.queue = submitQueue

	b.rejudger = func() (StuckRejudger, error) {
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		mysqlDB, err := db.NewMySQLWithConfig(&cfg.Database)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, mysqlDB.Close)
		redisCache, err := cache.NewRedisCacheWithClient(redisClient)
		if err != nil {
			return nil, err
		}
		objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		sources, err := submitRepo.NewSourceStore(objStorage, cfg.Submit.SourceBucket, cfg.Submit.SourceKeyPrefix)
		if err != nil {
			return nil, err
		}
		return service.NewSubmitService(service.Config{
			DB:       mysqlDB,
			Runs:     submitRepo.NewRunRepository(mysqlDB, redisCache),
			Problems: submitRepo.NewProblemRepository(mysqlDB, redisCache),
			Sources:  sources,
			Queue:    submitQueue,
			Cache:    redisCache,
			Endpoint: cfg.Judge.Endpoint,
		})
	}
	return b, nil
}
