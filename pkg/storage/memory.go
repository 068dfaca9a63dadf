package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Backend.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{items: map[string]string{}}
}

func (m *Memory) GetItem(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[name]
	return v, ok, nil
}

func (m *Memory) SetItem(_ context.Context, name, value string) error {
	m.mu.Lock()
	m.items[name] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) RemoveItem(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.items, name)
	m.mu.Unlock()
	return nil
}

// Names returns the stored names in sorted order.
func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.items))
	for name := range m.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
