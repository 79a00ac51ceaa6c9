package main

import (
	"fmt"
	"time"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/config"
	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/common/storage"
	"ejsubmit/internal/judge/ejudge"
	"ejsubmit/internal/submit/service"
	"ejsubmit/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultQueueNamespace  = "submit.queue"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// InternalToken guards every route; empty disables the check.
	InternalToken string `yaml:"internalToken"`
}

// SubmitConfig holds submission settings.
type SubmitConfig struct {
	SourceBucket       string                  `yaml:"sourceBucket"`
	SourceKeyPrefix    string                  `yaml:"sourceKeyPrefix"`
	MaxSourceBytes     int                     `yaml:"maxSourceBytes"`
	MaxOutputOnlyBytes int                     `yaml:"maxOutputOnlyBytes"`
	RunCacheTTL        time.Duration           `yaml:"runCacheTTL"`
	RunCacheEmptyTTL   time.Duration           `yaml:"runCacheEmptyTTL"`
	RateLimit          service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts           service.TimeoutConfig   `yaml:"timeouts"`
}

// AppConfig holds submit-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Queue    queuestore.Config   `yaml:"queue"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Judge    ejudge.Config       `yaml:"judge"`
	Submit   SubmitConfig        `yaml:"submit"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := config.LoadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Queue.Namespace == "" {
		cfg.Queue.Namespace = defaultQueueNamespace
	}

	if cfg.Submit.RateLimit.Window == 0 {
		cfg.Submit.RateLimit.Window = time.Minute
	}
	if cfg.Submit.RateLimit.UserMax == 0 {
		cfg.Submit.RateLimit.UserMax = 30
	}
	if cfg.Submit.RateLimit.IPMax == 0 {
		cfg.Submit.RateLimit.IPMax = 60
	}
	if cfg.Submit.Timeouts.DB == 0 {
		cfg.Submit.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Cache == 0 {
		cfg.Submit.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Submit.Timeouts.Storage == 0 {
		cfg.Submit.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Judge.Endpoint == "" {
		return nil, fmt.Errorf("judge endpoint is required")
	}
	return &cfg, nil
}
