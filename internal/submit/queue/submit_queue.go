package queue

import (
	"context"
	"errors"
	"fmt"

	"ejsubmit/internal/common/queuestore"
	appErr "ejsubmit/pkg/errors"
	"ejsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultNamespace is the queue key used when none is configured.
const DefaultNamespace = "submit.queue"

// ErrCorruptJob marks a queue head that cannot be decoded. The item is left
// in place and lastGetId is not advanced.
var ErrCorruptJob = errors.New("corrupt submit queue item")

// Stats is a snapshot of the namespace state.
type Stats struct {
	Namespace string `json:"namespace"`
	LastPutID int64  `json:"last_put_id"`
	LastGetID int64  `json:"last_get_id"`
	Length    int64  `json:"length"`
}

// SubmitQueue assigns sequence ids to submissions and hands them out in order.
type SubmitQueue struct {
	store      *queuestore.Store
	lastPutKey string
	lastGetKey string
}

// NewSubmitQueue wraps the store of one namespace.
func NewSubmitQueue(store *queuestore.Store) (*SubmitQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	return &SubmitQueue{
		store:      store,
		lastPutKey: LastPutIDKey(store.Key()),
		lastGetKey: LastGetIDKey(store.Key()),
	}, nil
}

// LastPutIDKey is the counter of the highest assigned id.
func LastPutIDKey(namespace string) string {
	return namespace + ":last.put.id"
}

// LastGetIDKey is the counter of the most recently dequeued id.
func LastGetIDKey(namespace string) string {
	return namespace + ":last.get.id"
}

func (q *SubmitQueue) keys() []string {
	return []string{q.store.Key(), q.lastGetKey, q.lastPutKey}
}

// Enqueue assigns the next sequence id to the run and appends it to the
// queue. Call it only after the run has been committed.
func (q *SubmitQueue) Enqueue(ctx context.Context, runID int64, destination string) (Job, error) {
	var job Job
	err := q.store.RunTransaction(ctx, q.keys(), func(tx *queuestore.Tx) error {
		lastPut, err := tx.GetInt(q.lastPutKey)
		if err != nil {
			return err
		}
		job = Job{SequenceID: lastPut + 1, RecordRef: runID, Destination: destination}
		if err := job.Validate(); err != nil {
			return appErr.Wrapf(err, appErr.InvalidParams, "invalid job")
		}
		tx.Set(q.lastPutKey, job.SequenceID)
		return q.store.Put(ctx, job.Encode(), tx)
	})
	if err != nil {
		if appErr.Is(err, appErr.InvalidParams) {
			return Job{}, err
		}
		return Job{}, appErr.Wrapf(err, appErr.EnqueueFailed, "enqueue run %d failed", runID)
	}
	logger.Info(ctx, "submit enqueued",
		zap.Int64("sequence_id", job.SequenceID),
		zap.Int64("run_id", job.RecordRef),
		zap.String("destination", job.Destination),
	)
	return job, nil
}

// Dequeue blocks until a job is available, removes it and records its id
// as lastGetId in the same transaction.
func (q *SubmitQueue) Dequeue(ctx context.Context) (Job, error) {
	var job Job
	err := q.store.RunTransaction(ctx, q.keys(), func(tx *queuestore.Tx) error {
		raw, err := q.store.PopBlocking(ctx, tx)
		if err != nil {
			return err
		}
		decoded, err := DecodeJob(raw)
		if err != nil {
			return appErr.Wrapf(fmt.Errorf("%w: %v", ErrCorruptJob, err), appErr.CorruptQueueItem, "corrupt submit queue item").
				WithDetail("payload", raw)
		}
		job = decoded
		tx.Set(q.lastGetKey, job.SequenceID)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCorruptJob) || errors.Is(err, context.Canceled) {
			return Job{}, err
		}
		return Job{}, appErr.Wrapf(err, appErr.DequeueFailed, "dequeue failed")
	}
	return job, nil
}

// CorruptKey is the list that QuarantineHead moves undecodable items to.
func CorruptKey(namespace string) string {
	return namespace + ":corrupt"
}

// QuarantineHead moves an undecodable head item to the corrupt list so the
// queue can drain again. It refuses to touch a head that decodes or an empty
// queue, and it never advances lastGetId.
func (q *SubmitQueue) QuarantineHead(ctx context.Context) (string, error) {
	var moved string
	err := q.store.RunTransaction(ctx, q.keys(), func(tx *queuestore.Tx) error {
		raw, err := q.store.PopHead(tx)
		if errors.Is(err, queuestore.ErrEmpty) {
			return appErr.Wrapf(err, appErr.InvalidParams, "nothing to quarantine")
		}
		if err != nil {
			return err
		}
		if _, err := DecodeJob(raw); err == nil {
			return appErr.New(appErr.InvalidParams).WithMessage("queue head is a valid job")
		}
		moved = raw
		tx.Push(CorruptKey(q.store.Key()), raw)
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.Warn(ctx, "corrupt submit queue item quarantined", zap.String("payload", moved))
	return moved, nil
}

// LastPutID returns the highest assigned sequence id.
func (q *SubmitQueue) LastPutID(ctx context.Context) (int64, error) {
	return q.store.GetInt(ctx, q.lastPutKey)
}

// LastGetID returns the sequence id of the most recently dequeued job.
func (q *SubmitQueue) LastGetID(ctx context.Context) (int64, error) {
	return q.store.GetInt(ctx, q.lastGetKey)
}

// Stats reads both counters and the queue length.
func (q *SubmitQueue) Stats(ctx context.Context) (Stats, error) {
	lastPut, err := q.LastPutID(ctx)
	if err != nil {
		return Stats{}, appErr.Wrapf(err, appErr.QueueError, "read last put id failed")
	}
	lastGet, err := q.LastGetID(ctx)
	if err != nil {
		return Stats{}, appErr.Wrapf(err, appErr.QueueError, "read last get id failed")
	}
	length, err := q.store.Len(ctx)
	if err != nil {
		return Stats{}, appErr.Wrapf(err, appErr.QueueError, "read queue length failed")
	}
	return Stats{Namespace: q.store.Key(), LastPutID: lastPut, LastGetID: lastGet, Length: length}, nil
}
