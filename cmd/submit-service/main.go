package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/db"
	commonmw "ejsubmit/internal/common/http/middleware"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/common/storage"
	"ejsubmit/internal/submit/controller"
	"ejsubmit/internal/submit/queue"
	submitRepo "ejsubmit/internal/submit/repository"
	"ejsubmit/internal/submit/service"
	"ejsubmit/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submit_service.yaml"

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
	if err := objStorage.EnsureBucket(context.Background(), appCfg.Submit.SourceBucket, appCfg.MinIO.Region); err != nil {
		logger.Error(context.Background(), "ensure source bucket failed", zap.Error(err))
		return
	}
	sources, err := submitRepo.NewSourceStore(objStorage, appCfg.Submit.SourceBucket, appCfg.Submit.SourceKeyPrefix)
	if err != nil {
		logger.Error(context.Background(), "init source store failed", zap.Error(err))
		return
	}

	runRepo := submitRepo.NewRunRepositoryWithTTL(mysqlDB, redisCache, appCfg.Submit.RunCacheTTL, appCfg.Submit.RunCacheEmptyTTL)
	problemRepo := submitRepo.NewProblemRepository(mysqlDB, redisCache)

	submitService, err := service.NewSubmitService(service.Config{
		DB:                 mysqlDB,
		Runs:               runRepo,
		Problems:           problemRepo,
		Sources:            sources,
		Queue:              submitQueue,
		Cache:              redisCache,
		Endpoint:           appCfg.Judge.Endpoint,
		MaxSourceBytes:     appCfg.Submit.MaxSourceBytes,
		MaxOutputOnlyBytes: appCfg.Submit.MaxOutputOnlyBytes,
		RateLimit:          appCfg.Submit.RateLimit,
		Timeouts:           appCfg.Submit.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, submitService)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "submit http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, submitService *service.SubmitService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLogMiddleware())
	if cfg.InternalToken != "" {
		router.Use(commonmw.InternalTokenMiddleware(cfg.InternalToken))
	}

	controller.NewSubmitController(submitService).Register(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
