package main

import (
	"fmt"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/config"
	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/common/storage"
	"ejsubmit/internal/judge/ejudge"
	"ejsubmit/pkg/utils/logger"
)

const defaultQueueNamespace = "submit.queue"

// SubmitConfig is the part of the submit settings the CLI needs.
type SubmitConfig struct {
	SourceBucket    string `yaml:"sourceBucket"`
	SourceKeyPrefix string `yaml:"sourceKeyPrefix"`
}

// AppConfig is read from the submit-service config file; unknown sections
// are ignored.
type AppConfig struct {
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
	if cfg.Queue.Namespace == "" {
		cfg.Queue.Namespace = defaultQueueNamespace
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "warn"
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	return &cfg, nil
}
