package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/common"
)

var ErrUploadRejected = errors.New("upload rejected")

type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in a map. FailUploads makes every upload fail.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object

	FailUploads bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (m *MemoryStore) Upload(_ context.Context, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUploads {
		return ErrUploadRejected
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = Object{Data: buf, ContentType: contentType}
	return nil
}

func (m *MemoryStore) PresignGet(_ context.Context, path string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[path]; !ok {
		return "", common.ErrNotFound
	}
	return fmt.Sprintf("memory://%s?expires=%d", path, int64(ttl.Seconds())), nil
}

// Get returns the stored object at path.
func (m *MemoryStore) Get(path string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[path]
	return o, ok
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
