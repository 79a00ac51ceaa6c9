package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject and StatObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the blob surface used for submitted sources.
type ObjectStorage interface {
	// PutObject uploads sizeBytes from reader under objectKey.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// RemoveObject deletes one object; a missing key is not an error.
	RemoveObject(ctx context.Context, bucket, objectKey string) error
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
