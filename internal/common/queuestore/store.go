// Package queuestore implements a namespaced FIFO on Redis lists with
// optimistic multi-key transactions and blocking pops.
//
// A transaction body that needs the head of an empty queue cannot block while
// keys are WATCHed, so it reports errWouldBlock instead. The store then parks
// on a wake-up list that every Put feeds and re-runs the body once woken.
package queuestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultNotifyCap    = 1024
	defaultParkInterval = 5 * time.Second
	notifyKeySuffix     = ":notify"
)

var (
	// ErrPopTimeout is returned when a configured pop timeout elapses with the queue still empty.
	ErrPopTimeout = errors.New("queuestore: pop timed out")

	// ErrEmpty is returned by PopHead when the queue has no items.
	ErrEmpty = errors.New("queuestore: queue is empty")

	errWouldBlock = errors.New("queuestore: waiting for an item")
)

// Config describes one queue namespace.
type Config struct {
	// Namespace is the Redis key of the list.
	Namespace string `yaml:"namespace"`

	// PopTimeout bounds how long a blocking pop waits. Zero waits forever.
	PopTimeout time.Duration `yaml:"popTimeout"`

	// ParkInterval is how long a parked consumer sleeps inside BLPOP before
	// it re-checks its context. Default: 5s
	ParkInterval time.Duration `yaml:"parkInterval"`

	// NotifyCap bounds the wake-up list. Default: 1024
	NotifyCap int64 `yaml:"notifyCap"`
}

// Store is a persistent FIFO keyed by a namespace.
type Store struct {
	client       *redis.Client
	key          string
	notifyKey    string
	popTimeout   time.Duration
	parkInterval time.Duration
	notifyCap    int64
}

// New creates a store for cfg.Namespace on client.
func New(client *redis.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.ParkInterval <= 0 {
		cfg.ParkInterval = defaultParkInterval
	}
	if cfg.NotifyCap <= 0 {
		cfg.NotifyCap = defaultNotifyCap
	}
	return &Store{
		client:       client,
		key:          cfg.Namespace,
		notifyKey:    cfg.Namespace + notifyKeySuffix,
		popTimeout:   cfg.PopTimeout,
		parkInterval: cfg.ParkInterval,
		notifyCap:    cfg.NotifyCap,
	}, nil
}

// Key returns the list key of the namespace.
func (s *Store) Key() string {
	return s.key
}

// Put appends value to the tail of the queue. With a nil tx the push is
// applied immediately, otherwise it is queued until tx commits.
func (s *Store) Put(ctx context.Context, value string, tx *Tx) error {
	if tx != nil {
		tx.queue(func(pipe redis.Pipeliner) {
			pipe.RPush(tx.ctx, s.key, value)
			s.signal(tx.ctx, pipe)
		})
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.key, value)
		s.signal(ctx, pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push to %s failed: %w", s.key, err)
	}
	return nil
}

// PopHead reads the head inside tx and queues its removal without waiting.
// It returns ErrEmpty when the queue has no items.
func (s *Store) PopHead(tx *Tx) (string, error) {
	head, err := tx.rtx.LIndex(tx.ctx, s.key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("read head of %s failed: %w", s.key, err)
	}
	tx.queue(func(pipe redis.Pipeliner) {
		pipe.LPop(tx.ctx, s.key)
	})
	return head, nil
}

// PopBlocking removes and returns the head of the queue, waiting for one to
// arrive when the queue is empty. Inside a transaction the removal is queued
// and only takes effect when the transaction commits.
func (s *Store) PopBlocking(ctx context.Context, tx *Tx) (string, error) {
	if tx != nil {
		head, err := s.PopHead(tx)
		if errors.Is(err, ErrEmpty) {
			return "", errWouldBlock
		}
		return head, err
	}

	var value string
	err := s.park(ctx, func(wait time.Duration) (bool, error) {
		res, err := s.client.BLPop(ctx, wait, s.key).Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("pop from %s failed: %w", s.key, err)
		}
		value = res[1]
		return true, nil
	})
	return value, err
}

// Len returns the number of queued items.
func (s *Store) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

// GetInt reads an integer key outside any transaction; missing keys read as 0.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// RunTransaction runs body with all-or-nothing visibility over keys. The
// body is re-run when a watched key changes before commit and after every
// wake-up from an empty-queue pop, so it must tolerate repeated execution.
func (s *Store) RunTransaction(ctx context.Context, keys []string, body func(tx *Tx) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &Tx{ctx: ctx, rtx: rtx}
			if err := body(tx); err != nil {
				return err
			}
			if len(tx.ops) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, op := range tx.ops {
					op(pipe)
				}
				return nil
			})
			return err
		}, keys...)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, errWouldBlock):
			if err := s.waitForItem(ctx); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

func (s *Store) waitForItem(ctx context.Context) error {
	return s.park(ctx, func(wait time.Duration) (bool, error) {
		_, err := s.client.BLPop(ctx, wait, s.notifyKey).Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("wait on %s failed: %w", s.notifyKey, err)
		}
		return true, nil
	})
}

// park calls attempt with bounded waits until it reports success, the
// context ends or the pop timeout elapses.
func (s *Store) park(ctx context.Context, attempt func(wait time.Duration) (bool, error)) error {
	var deadline time.Time
	if s.popTimeout > 0 {
		deadline = time.Now().Add(s.popTimeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := s.parkInterval
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return ErrPopTimeout
			}
			if left < wait {
				wait = left
			}
		}
		ok, err := attempt(wait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func (s *Store) signal(ctx context.Context, pipe redis.Pipeliner) {
	pipe.RPush(ctx, s.notifyKey, "1")
	pipe.LTrim(ctx, s.notifyKey, -s.notifyCap, -1)
}

// Tx is the handle passed to a RunTransaction body. Reads go straight to
// Redis under WATCH; writes are buffered and applied by MULTI/EXEC.
type Tx struct {
	ctx context.Context
	rtx *redis.Tx
	ops []func(pipe redis.Pipeliner)
}

// GetInt reads an integer key under WATCH; missing keys read as 0.
func (t *Tx) GetInt(key string) (int64, error) {
	raw, err := t.rtx.Get(t.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("key %s holds non-integer %q: %w", key, raw, err)
	}
	return n, nil
}

// Set queues a SET without expiry.
func (t *Tx) Set(key string, value interface{}) {
	t.queue(func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, key, value, 0)
	})
}

// Push queues an RPUSH onto an arbitrary list key.
func (t *Tx) Push(key string, value string) {
	t.queue(func(pipe redis.Pipeliner) {
		pipe.RPush(t.ctx, key, value)
	})
}

func (t *Tx) queue(op func(pipe redis.Pipeliner)) {
	t.ops = append(t.ops, op)
}
