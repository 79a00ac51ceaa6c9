package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps objects in process memory. It backs tests and local
// runs without an object store.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (m *MemoryStorage) PutObject(_ context.Context, bucket, objectKey string, reader io.Reader, _ int64, contentType string) error {
	if reader == nil {
		return fmt.Errorf("reader is required")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object body failed: %w", err)
	}
	m.mu.Lock()
	m.objects[bucket+"/"+objectKey] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) GetObject(_ context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectKey)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStorage) StatObject(_ context.Context, bucket, objectKey string) (ObjectStat, error) {
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	m.mu.RUnlock()
	if !ok {
		return ObjectStat{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectKey)
	}
	sum := md5.Sum(obj.data)
	return ObjectStat{SizeBytes: int64(len(obj.data)), ETag: hex.EncodeToString(sum[:]), ContentType: obj.contentType}, nil
}

func (m *MemoryStorage) RemoveObject(_ context.Context, bucket, objectKey string) error {
	m.mu.Lock()
	delete(m.objects, bucket+"/"+objectKey)
	m.mu.Unlock()
	return nil
}
