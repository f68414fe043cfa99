package secrets

import (
	"context"
	"sync"

	"github.com/daybook-io/daybook-auth/pkg/errors"
)

// MemoryBackend is an in-process Backend for tests and local development.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Fetch(_ context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[path]
	if !ok {
		return "", errors.ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Store(_ context.Context, path, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = value
	return nil
}

func (m *MemoryBackend) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[path]
	return ok, nil
}

func (m *MemoryBackend) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[path]; !ok {
		return errors.ErrNotFound
	}
	delete(m.values, path)
	return nil
}
