package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"ejsubmit/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultSourcePrefix = "runs"
	sourceObjectName    = "source.zst"
	sourceContentType   = "application/zstd"
)

var ErrSourceNotFound = errors.New("source not found")

// SourceStore keeps submitted sources zstd-compressed in object storage.
type SourceStore struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSourceStore creates a source store writing under prefix in bucket.
func NewSourceStore(objectStorage storage.ObjectStorage, bucket, prefix string) (*SourceStore, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if prefix == "" {
		prefix = defaultSourcePrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &SourceStore{
		storage: objectStorage,
		bucket:  bucket,
		prefix:  prefix,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Key returns the object key of a run's source.
func (s *SourceStore) Key(runID int64) string {
	return fmt.Sprintf("%s/%d/%s", s.prefix, runID, sourceObjectName)
}

// Save compresses source and uploads it.
func (s *SourceStore) Save(ctx context.Context, runID int64, source []byte) error {
	compressed := s.encoder.EncodeAll(source, make([]byte, 0, len(source)/2+64))
	return s.storage.PutObject(ctx, s.bucket, s.Key(runID), bytes.NewReader(compressed), int64(len(compressed)), sourceContentType)
}

// Load downloads and decompresses a run's source.
func (s *SourceStore) Load(ctx context.Context, runID int64) ([]byte, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, s.Key(runID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	defer reader.Close()
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source failed: %w", err)
	}
	source, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress source failed: %w", err)
	}
	return source, nil
}

// Delete removes a run's source.
func (s *SourceStore) Delete(ctx context.Context, runID int64) error {
	return s.storage.RemoveObject(ctx, s.bucket, s.Key(runID))
}
