package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sahilchouksey/campus-notes/services/digitalocean"
)

// FileStore persists note attachments. digitalocean.SpacesClient is the production implementation.
type FileStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// URLSigner is implemented by stores that can hand out short-lived download links.
type URLSigner interface {
	PresignedURL(key string, expiration time.Duration) (string, error)
}

var (
	_ FileStore = (*digitalocean.SpacesClient)(nil)
	_ URLSigner = (*digitalocean.SpacesClient)(nil)
)

// MemoryFileStore keeps objects in process memory. Used when Spaces is not configured.
type MemoryFileStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{objects: map[string][]byte{}}
}

func (m *MemoryFileStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (m *MemoryFileStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", digitalocean.ErrObjectNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryFileStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryFileStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
