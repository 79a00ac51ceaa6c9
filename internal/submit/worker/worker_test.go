package worker

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ejsubmit/internal/common/db"
	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/judge/ejudge"
	"ejsubmit/internal/submit/queue"
	"ejsubmit/internal/testutil"
	appErr "ejsubmit/pkg/errors"
)

type recordingSender struct {
	mu      sync.Mutex
	seen    []int64
	failOn  map[int64]error
	commits bool
}

func (s *recordingSender) Send(_ context.Context, scope db.Transaction, job queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, job.SequenceID)
	if err, ok := s.failOn[job.SequenceID]; ok {
		delete(s.failOn, job.SequenceID)
		return err
	}
	if s.commits {
		return scope.Commit()
	}
	return nil
}

func (s *recordingSender) handled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.seen...)
}

func newTestQueue(t *testing.T) *queue.SubmitQueue {
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

func enqueue(t *testing.T, q *queue.SubmitQueue, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if _, err := q.Enqueue(context.Background(), int64(100+i), "http://judge"); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
}

func TestHandleApplicationFailureDoesNotAffectNextJob(t *testing.T) {
	ctx := context.Background()
	fake := &testutil.FakeDB{}
	sender := &recordingSender{
		failOn:  map[int64]error{1: appErr.New(appErr.JudgeRequestFailed).WithMessage("judge said no")},
		commits: true,
	}
	w, err := New(Config{ID: "w"}, newTestQueue(t), fake, sender)
	if err != nil {
		t.Fatalf("new worker failed: %v", err)
	}

	if err := w.Handle(ctx, queue.Job{SequenceID: 1, RecordRef: 10, Destination: "http://judge"}); err != nil {
		t.Fatalf("application failure must be swallowed: %v", err)
	}
	if err := w.Handle(ctx, queue.Job{SequenceID: 2, RecordRef: 11, Destination: "http://judge"}); err != nil {
		t.Fatalf("second job failed: %v", err)
	}

	testutil.AssertEqual(t, sender.handled(), []int64{1, 2})
	begins, commits, rollbacks := fake.Counts()
	testutil.AssertEqual(t, begins, 2)
	testutil.AssertEqual(t, commits, 1)
	testutil.AssertEqual(t, rollbacks, 1)
}

func TestHandleReturnsTransientFailure(t *testing.T) {
	fake := &testutil.FakeDB{}
	sender := &recordingSender{failOn: map[int64]error{1: fmt.Errorf("query failed: %w", driver.ErrBadConn)}}
	w, err := New(Config{}, newTestQueue(t), fake, sender)
	if err != nil {
		t.Fatalf("new worker failed: %v", err)
	}
	err = w.Handle(context.Background(), queue.Job{SequenceID: 1, RecordRef: 10, Destination: "http://judge"})
	if !errors.Is(err, driver.ErrBadConn) {
		t.Fatalf("expected transient error, got %v", err)
	}
	_, _, rollbacks := fake.Counts()
	testutil.AssertEqual(t, rollbacks, 1)
}

// judgeSender forwards every job to a real judge client and wraps failures
// the way the run sender does.
type judgeSender struct {
	client *ejudge.Client
}

func (s *judgeSender) Send(ctx context.Context, _ db.Transaction, job queue.Job) error {
	_, err := s.client.Submit(ctx, ejudge.SubmitRequest{
		File:       []byte("int main() {}"),
		Filename:   "main.cpp",
		ContestID:  1,
		ProblemID:  2,
		LanguageID: 3,
	}, job.Destination)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeRequestFailed, "send run %d to judge failed", job.RecordRef)
	}
	return nil
}

func TestHandleSkipsUnreachableJudge(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closed := "http://" + ln.Addr().String() + "/submit"
	ln.Close()

	cases := []struct {
		name        string
		destination string
	}{
		{name: "timeout", destination: slow.URL},
		{name: "connection refused", destination: closed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &testutil.FakeDB{}
			sender := &judgeSender{client: ejudge.NewClient(ejudge.Config{Endpoint: tc.destination, Timeout: 50 * time.Millisecond}, nil)}
			w, err := New(Config{ID: "w"}, newTestQueue(t), fake, sender)
			if err != nil {
				t.Fatalf("new worker failed: %v", err)
			}
			if err := w.Handle(context.Background(), queue.Job{SequenceID: 1, RecordRef: 10, Destination: tc.destination}); err != nil {
				t.Fatalf("judge failure must not stop the worker: %v", err)
			}
			_, commits, rollbacks := fake.Counts()
			testutil.AssertEqual(t, commits, 0)
			testutil.AssertEqual(t, rollbacks, 1)
		})
	}
}

func TestRunResumesInOrderAfterOutage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newTestQueue(t)
	enqueue(t, q, 6)
	sender := &recordingSender{failOn: map[int64]error{3: fmt.Errorf("exec failed: %w", driver.ErrBadConn)}}
	w, err := New(Config{ID: "w-outage"}, q, &testutil.FakeDB{}, sender)
	if err != nil {
		t.Fatalf("new worker failed: %v", err)
	}
	var (
		mu     sync.Mutex
		pauses []time.Duration
		states []State
	)
	w.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		pauses = append(pauses, d)
		states = append(states, w.State())
		mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	testutil.Eventually(t, 5*time.Second, func() bool { return len(sender.handled()) == 6 }, "all jobs handled")
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop")
	}

	testutil.AssertEqual(t, sender.handled(), []int64{1, 2, 3, 4, 5, 6})
	testutil.AssertEqual(t, pauses, []time.Duration{time.Second})
	testutil.AssertEqual(t, states, []State{StateBackoff})
	testutil.AssertEqual(t, w.Restarts(), int64(1))
	testutil.AssertEqual(t, w.State(), StateStopped)

	lastGet, err := q.LastGetID(context.Background())
	if err != nil {
		t.Fatalf("last get id failed: %v", err)
	}
	testutil.AssertEqual(t, lastGet, int64(6))
}

func TestRunBacksOffWhenDatabaseIsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newTestQueue(t)
	enqueue(t, q, 2)
	fake := &testutil.FakeDB{BeginErr: fmt.Errorf("begin transaction failed: %w", driver.ErrBadConn)}
	sender := &recordingSender{}
	w, err := New(Config{}, q, fake, sender)
	if err != nil {
		t.Fatalf("new worker failed: %v", err)
	}
	w.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected run error: %v", err)
	}
	testutil.AssertEqual(t, w.Restarts(), int64(1))
	testutil.AssertEqual(t, len(sender.handled()), 0)
}

type scriptedSource struct {
	mu   sync.Mutex
	errs []error
	jobs []queue.Job
}

func (s *scriptedSource) Dequeue(ctx context.Context) (queue.Job, error) {
	s.mu.Lock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return queue.Job{}, err
	}
	if len(s.jobs) > 0 {
		job := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return queue.Job{}, ctx.Err()
}

func TestRunBacksOffOnCorruptHead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &scriptedSource{
		errs: []error{fmt.Errorf("%w: decode job: unexpected end of JSON input", queue.ErrCorruptJob)},
		jobs: []queue.Job{{SequenceID: 2, RecordRef: 5, Destination: "http://judge"}},
	}
	sender := &recordingSender{}
	w, err := New(Config{}, source, &testutil.FakeDB{}, sender)
	if err != nil {
		t.Fatalf("new worker failed: %v", err)
	}
	w.sleep = func(context.Context, time.Duration) error { return nil }

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	testutil.Eventually(t, 5*time.Second, func() bool { return len(sender.handled()) == 1 }, "job after corrupt head handled")
	cancel()
	<-done
	testutil.AssertEqual(t, w.Restarts(), int64(1))
}

func TestPoolConsumesEveryJobOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newTestQueue(t)
	enqueue(t, q, 20)
	sender := &recordingSender{commits: true}
	pool, err := NewPool(3, Config{ID: "pool"}, q, &testutil.FakeDB{}, sender)
	if err != nil {
		t.Fatalf("new pool failed: %v", err)
	}
	testutil.AssertEqual(t, len(pool.Workers()), 3)
	testutil.AssertEqual(t, pool.Workers()[2].ID(), "pool-2")

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	testutil.Eventually(t, 10*time.Second, func() bool { return len(sender.handled()) == 20 }, "all jobs handled")
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pool did not stop")
	}

	seen := make(map[int64]bool)
	for _, id := range sender.handled() {
		if seen[id] {
			t.Fatalf("sequence id %d handled twice", id)
		}
		seen[id] = true
	}
	for id := int64(1); id <= 20; id++ {
		if !seen[id] {
			t.Fatalf("sequence id %d never handled", id)
		}
	}
}

func TestNewPoolRejectsEmptySize(t *testing.T) {
	if _, err := NewPool(0, Config{}, &scriptedSource{}, &testutil.FakeDB{}, &recordingSender{}); err == nil {
		t.Fatalf("expected error for empty pool")
	}
}

func TestStateString(t *testing.T) {
	testutil.AssertEqual(t, StateBackoff.String(), "backoff")
	testutil.AssertEqual(t, State(9).String(), "state(9)")
}
