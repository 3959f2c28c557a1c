package driver

import (
	"context"
	"errors"
	"sync"
)

// ErrQuotaExceeded write would push a MemoryKV past its quota
var ErrQuotaExceeded = errors.New("kv quota exceeded")

// MemoryKV in-process KeyValueDB, optionally bounded by a byte quota
// the way browser storage is
type MemoryKV struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
}

var _ KeyValueDB = &MemoryKV{}

// NewMemoryKV create a memory store, quota <= 0 means unbounded
func NewMemoryKV(quota int) *MemoryKV {
	return &MemoryKV{
		data:  make(map[string]string),
		quota: quota,
	}
}

// Get implement KeyValueDB
func (m *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Set implement KeyValueDB
func (m *MemoryKV) Set(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		size := m.sizeLocked() - m.entrySize(key) + len(key) + len(value)
		if size > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = value
	return nil
}

// Remove implement KeyValueDB
func (m *MemoryKV) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Ping implement KeyValueDB
func (m *MemoryKV) Ping(ctx context.Context) error {
	return nil
}

// Size bytes used by keys and values
func (m *MemoryKV) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeLocked()
}

func (m *MemoryKV) sizeLocked() int {
	total := 0
	for k, v := range m.data {
		total += len(k) + len(v)
	}
	return total
}

func (m *MemoryKV) entrySize(key string) int {
	v, ok := m.data[key]
	if !ok {
		return 0
	}
	return len(key) + len(v)
}
