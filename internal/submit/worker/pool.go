package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ejsubmit/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pool runs independent workers against one queue namespace.
type Pool struct {
	workers []*Worker
}

// NewPool creates size workers sharing source, scopes and sender. Each
// worker gets its own id; they share no mutable state.
func NewPool(size int, cfg Config, source Source, scopes Scopes, sender Sender) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	prefix := cfg.ID
	if prefix == "" {
		prefix = uuid.NewString()[:8]
	}
	workers := make([]*Worker, 0, size)
	for i := 0; i < size; i++ {
		wcfg := cfg
		wcfg.ID = fmt.Sprintf("%s-%d", prefix, i)
		w, err := New(wcfg, source, scopes, sender)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return &Pool{workers: workers}, nil
}

// Workers returns the pool members.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Run starts every worker and blocks until all of them have stopped.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "worker exited", zap.String("worker_id", w.ID()), zap.Error(err))
			}
		}(w)
	}
	wg.Wait()
}
