package main

import (
	"fmt"
	"time"

	"ejsubmit/internal/common/cache"
	"ejsubmit/internal/common/config"
	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/mq"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/common/storage"
	"ejsubmit/internal/judge/ejudge"
	"ejsubmit/internal/submit/service"
	"ejsubmit/internal/submit/worker"
	"ejsubmit/pkg/utils/logger"
)

const (
	defaultQueueNamespace = "submit.queue"
	defaultPoolSize       = 1
	defaultEventTopic     = "ejudge.run.status"
)

// WorkerConfig holds pool settings.
type WorkerConfig struct {
	// ID prefixes worker ids in logs; a random prefix is used when empty.
	ID     string        `yaml:"id"`
	Size   int           `yaml:"size"`
	Worker worker.Config `yaml:",inline"`
}

// SenderConfig holds delivery settings.
type SenderConfig struct {
	SourceBucket    string                `yaml:"sourceBucket"`
	SourceKeyPrefix string                `yaml:"sourceKeyPrefix"`
	EventTopic      string                `yaml:"eventTopic"`
	MarkFailed      bool                  `yaml:"markFailed"`
	Timeouts        service.TimeoutConfig `yaml:"timeouts"`
}

// AppConfig holds submit-worker configuration.
type AppConfig struct {
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Queue    queuestore.Config   `yaml:"queue"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	Judge    ejudge.Config       `yaml:"judge"`
	Workers  WorkerConfig        `yaml:"workers"`
	Sender   SenderConfig        `yaml:"sender"`
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
	if cfg.Workers.Size <= 0 {
		cfg.Workers.Size = defaultPoolSize
	}
	if cfg.Workers.Worker.RestartDelay == 0 {
		cfg.Workers.Worker.RestartDelay = time.Second
	}
	// One blocking pop per worker plus headroom for counters and the cache.
	if minPool := cfg.Workers.Size*2 + 4; cfg.Redis.PoolSize < minPool {
		cfg.Redis.PoolSize = minPool
	}
	if cfg.Sender.EventTopic == "" {
		cfg.Sender.EventTopic = defaultEventTopic
	}
	if cfg.Sender.SourceBucket == "" {
		cfg.Sender.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Sender.Timeouts.DB == 0 {
		cfg.Sender.Timeouts.DB = 3 * time.Second
	}
	if cfg.Sender.Timeouts.Storage == 0 {
		cfg.Sender.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Sender.Timeouts.MQ == 0 {
		cfg.Sender.Timeouts.MQ = 3 * time.Second
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
