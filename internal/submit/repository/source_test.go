package repository_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"ejsubmit/internal/common/storage"
	"ejsubmit/internal/submit/repository"
	"ejsubmit/internal/testutil"
)

func TestSourceStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStorage()
	store, err := repository.NewSourceStore(objects, "sources", "")
	if err != nil {
		t.Fatalf("new source store failed: %v", err)
	}
	source := bytes.Repeat([]byte("for i in range(10):\n    print(i)\n"), 50)

	if err := store.Save(ctx, 12, source); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	testutil.AssertEqual(t, store.Key(12), "runs/12/source.zst")

	stat, err := objects.StatObject(ctx, "sources", store.Key(12))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if stat.SizeBytes >= int64(len(source)) {
		t.Fatalf("source was not compressed: %d >= %d", stat.SizeBytes, len(source))
	}
	reader, _ := objects.GetObject(ctx, "sources", store.Key(12))
	raw, _ := io.ReadAll(reader)
	if bytes.Equal(raw, source) {
		t.Fatalf("stored object should be compressed")
	}

	loaded, err := store.Load(ctx, 12)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, loaded, source)

	if err := store.Delete(ctx, 12); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Load(ctx, 12); !errors.Is(err, repository.ErrSourceNotFound) {
		t.Fatalf("expected source not found, got %v", err)
	}
}

func TestNewSourceStoreValidates(t *testing.T) {
	if _, err := repository.NewSourceStore(nil, "b", ""); err == nil {
		t.Fatalf("expected error for nil storage")
	}
	if _, err := repository.NewSourceStore(storage.NewMemoryStorage(), "", ""); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}
