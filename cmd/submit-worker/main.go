package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/mq"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/common/storage"
	"ejsubmit/internal/judge/ejudge"
	"ejsubmit/internal/submit/queue"
	submitRepo "ejsubmit/internal/submit/repository"
	"ejsubmit/internal/submit/service"
	"ejsubmit/internal/submit/worker"
	"ejsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submit_worker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisClient, err := cache.NewRedisClient(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisClient.Close()
	}()
	redisCache, err := cache.NewRedisCacheWithClient(redisClient)
	if err != nil {
		logger.Error(context.Background(), "init redis cache failed", zap.Error(err))
		return
	}

	store, err := queuestore.New(redisClient, appCfg.Queue)
	if err != nil {
		logger.Error(context.Background(), "init queue store failed", zap.Error(err))
		return
	}
	submitQueue, err := queue.NewSubmitQueue(store)
	if err != nil {
		logger.Error(context.Background(), "init submit queue failed", zap.Error(err))
		return
	}

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	sources, err := submitRepo.NewSourceStore(objStorage, appCfg.Sender.SourceBucket, appCfg.Sender.SourceKeyPrefix)
	if err != nil {
		logger.Error(context.Background(), "init source store failed", zap.Error(err))
		return
	}

	var events mq.Producer
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		events = producer
	} else {
		logger.Warn(context.Background(), "kafka brokers not configured, status events disabled")
	}

	sender, err := service.NewRunSender(service.SenderConfig{
		Runs:       submitRepo.NewRunRepository(mysqlDB, redisCache),
		Problems:   submitRepo.NewProblemRepository(mysqlDB, redisCache),
		Sources:    sources,
		Judge:      ejudge.NewClient(appCfg.Judge, nil),
		Events:     events,
		EventTopic: appCfg.Sender.EventTopic,
		MarkFailed: appCfg.Sender.MarkFailed,
		Timeouts:   appCfg.Sender.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init run sender failed", zap.Error(err))
		return
	}

	workerCfg := appCfg.Workers.Worker
	workerCfg.ID = appCfg.Workers.ID
	pool, err := worker.NewPool(appCfg.Workers.Size, workerCfg, submitQueue, mysqlDB, sender)
	if err != nil {
		logger.Error(context.Background(), "init worker pool failed", zap.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "submit workers started",
		zap.Int("size", appCfg.Workers.Size),
		zap.String("namespace", store.Key()),
		zap.String("judge", appCfg.Judge.Endpoint),
	)
	pool.Run(ctx)
	logger.Info(context.Background(), "submit workers stopped")
}
