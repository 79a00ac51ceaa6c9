package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"ejsubmit/internal/common/queuestore"
	"ejsubmit/internal/submit/queue"
	"ejsubmit/internal/testutil"
)

type fakeRejudger struct {
	afterID int64
	limit   int
	ids     []int64
	err     error
}

func (f *fakeRejudger) RejudgeStuck(_ context.Context, afterID int64, limit int) ([]int64, error) {
	f.afterID = afterID
	f.limit = limit
	return f.ids, f.err
}

type harness struct {
	queue    *queue.SubmitQueue
	rejudger *fakeRejudger
	opened   []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	_, client := testutil.NewRedis(t)
	store, err := queuestore.New(client, queuestore.Config{Namespace: "ctl.queue"})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	q, err := queue.NewSubmitQueue(store)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	return &harness{queue: q, rejudger: &fakeRejudger{}}
}

func (h *harness) open(configPath string) (*backend, error) {
	h.opened = append(h.opened, configPath)
	return &backend{
		queue:    h.queue,
		endpoint: "http://judge.local/submit",
		rejudger: func() (StuckRejudger, error) { return h.rejudger, nil },
	}, nil
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(h.open)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueueUsesDefaultEndpoint(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "enqueue", "42")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	var job queue.Job
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("decode output failed: %v (%s)", err, out)
	}
	testutil.AssertEqual(t, job, queue.Job{SequenceID: 1, RecordRef: 42, Destination: "http://judge.local/submit"})
	testutil.AssertEqual(t, h.opened, []string{defaultConfigPath})
}

func TestEnqueueEndpointFlagAndConfigFlag(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "enqueue", "7"); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	out, err := h.run(t, "--config", "other.yaml", "enqueue", "8", "--endpoint", "http://other/submit")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	var job queue.Job
	_ = json.Unmarshal([]byte(out), &job)
	testutil.AssertEqual(t, job, queue.Job{SequenceID: 2, RecordRef: 8, Destination: "http://other/submit"})
	testutil.AssertEqual(t, h.opened[1], "other.yaml")
}

func TestEnqueueRejectsBadRunID(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "enqueue", "abc"); err == nil || !strings.Contains(err.Error(), "invalid run id") {
		t.Fatalf("expected invalid run id error, got %v", err)
	}
	if _, err := h.run(t, "enqueue"); err == nil {
		t.Fatalf("expected argument count error")
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if _, err := h.queue.Enqueue(ctx, i, "http://judge"); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if _, err := h.queue.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	out, err := h.run(t, "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	var stats queue.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode output failed: %v", err)
	}
	testutil.AssertEqual(t, stats, queue.Stats{Namespace: "ctl.queue", LastPutID: 3, LastGetID: 1, Length: 2})
}

func TestRejudgeStuckPassesFlags(t *testing.T) {
	h := newHarness(t)
	h.rejudger.ids = []int64{9, 8}
	out, err := h.run(t, "rejudge-stuck", "--after", "5", "--limit", "20")
	if err != nil {
		t.Fatalf("rejudge-stuck failed: %v", err)
	}
	testutil.AssertEqual(t, h.rejudger.afterID, int64(5))
	testutil.AssertEqual(t, h.rejudger.limit, 20)
	var got struct {
		Requeued []int64 `json:"requeued"`
	}
	_ = json.Unmarshal([]byte(out), &got)
	testutil.AssertEqual(t, got.Requeued, []int64{9, 8})
}

func TestRejudgeStuckReportsPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.rejudger.ids = []int64{4}
	h.rejudger.err = errors.New("run 3 failed")
	out, err := h.run(t, "rejudge-stuck")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(out, "4") {
		t.Fatalf("expected requeued ids in output, got %q", out)
	}
}

func TestQuarantine(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "quarantine"); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty queue error, got %v", err)
	}

	_, client := testutil.NewRedis(t)
	store, _ := queuestore.New(client, queuestore.Config{Namespace: "ctl.queue"})
	h.queue, _ = queue.NewSubmitQueue(store)
	if err := store.Put(context.Background(), "not-json", nil); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	out, err := h.run(t, "quarantine")
	if err != nil {
		t.Fatalf("quarantine failed: %v", err)
	}
	if !strings.Contains(out, "not-json") {
		t.Fatalf("unexpected output %q", out)
	}
	corrupt, _ := client.LRange(context.Background(), queue.CorruptKey("ctl.queue"), 0, -1).Result()
	testutil.AssertEqual(t, corrupt, []string{"not-json"})
}
