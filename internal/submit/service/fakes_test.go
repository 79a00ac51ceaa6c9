package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/mq"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/judge/ejudge"
	"ejsubmit/internal/submit/model"
	"ejsubmit/internal/submit/queue"
	"ejsubmit/internal/submit/repository"
	"ejsubmit/internal/testutil"
)

type fakeRuns struct {
	mu          sync.Mutex
	runs        map[int64]*model.Run
	nextID      int64
	getErr      error
	updates     []repository.StatusUpdate
	invalidated []int64
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: make(map[int64]*model.Run), nextID: 100}
}

func (f *fakeRuns) Create(_ context.Context, _ db.Transaction, run *model.Run) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	run.ID = f.nextID
	cp := *run
	f.runs[run.ID] = &cp
	return run.ID, nil
}

func (f *fakeRuns) GetByID(_ context.Context, _ db.Transaction, runID int64) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	run, ok := f.runs[runID]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRuns) GetLatestByUserProblem(_ context.Context, _ db.Transaction, userID, problemID int64) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.Run
	for _, run := range f.runs {
		if run.UserID == userID && run.ProblemID == problemID && (latest == nil || run.ID > latest.ID) {
			latest = run
		}
	}
	if latest == nil {
		return nil, repository.ErrRunNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRuns) UpdateStatus(_ context.Context, _ db.Transaction, runID int64, update repository.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return repository.ErrRunNotFound
	}
	run.Status = update.Status
	run.EjudgeRunID = update.EjudgeRunID
	run.Message = update.Message
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeRuns) ListByStatus(_ context.Context, status int, afterID int64, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, run := range f.runs {
		if run.Status == status && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeRuns) Invalidate(_ context.Context, runID int64) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, runID)
	f.mu.Unlock()
}

func (f *fakeRuns) get(runID int64) model.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.runs[runID]
}

type fakeProblems map[int64]*model.Problem

func (f fakeProblems) GetByID(_ context.Context, _ db.Transaction, problemID int64) (*model.Problem, error) {
	p, ok := f[problemID]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	return p, nil
}

type fakeJudge struct {
	mu        sync.Mutex
	result    ejudge.Result
	err       error
	requests  []ejudge.SubmitRequest
	endpoints []string
}

func (f *fakeJudge) Submit(_ context.Context, req ejudge.SubmitRequest, endpoint string) (ejudge.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.endpoints = append(f.endpoints, endpoint)
	return f.result, f.err
}

type fakeProducer struct {
	mu       sync.Mutex
	err      error
	topics   []string
	messages []*mq.Message
}

func (f *fakeProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, message)
	return f.err
}

func (f *fakeProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		if err := f.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func newSubmitQueue(t *testing.T) *queue.SubmitQueue {
	t.Helper()
	_, client := testutil.NewRedis(t)
	store, err := queuestore.New(client, queuestore.Config{Namespace: queue.DefaultNamespace, ParkInterval: time.Second})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	q, err := queue.NewSubmitQueue(store)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	return q
}
