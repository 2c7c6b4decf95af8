package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// MemoryProvider is a process-local stand-in for Valkey. Suppression
// windows and cooldowns hold within a single instance, which is enough
// for development and single-replica deployments.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]memoryItem
}

// NewMemoryProvider returns an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]memoryItem)}
}

// Get returns the value for key or ErrCacheMiss when absent or expired.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.data[key]
	if !ok || it.expired(time.Now()) {
		delete(m.data, key)
		return nil, ErrCacheMiss
	}
	value := make([]byte, len(it.value))
	copy(value, it.value)
	return value, nil
}

// Set stores value under key. A non-positive ttl keeps it until deleted.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return nil
}

// SetNX stores value only when key is absent or expired and reports
// whether this call claimed it.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.data[key]; ok && !it.expired(time.Now()) {
		return false, nil
	}
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return true, nil
}

// Del removes key if present.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Close drops all entries.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]memoryItem)
	return nil
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
