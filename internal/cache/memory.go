package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type MemoryProvider struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
	now   func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
}

const defaultMemoryCacheSize = 10_000

func NewMemoryProvider() (*MemoryProvider, error) {
	return newMemoryProvider(defaultMemoryCacheSize, time.Now)
}

func newMemoryProvider(size int, now func() time.Time) (*MemoryProvider, error) {
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryProvider{cache: c, now: now}, nil
}

func (m *MemoryProvider) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cached, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return cached.value, nil
}

func (m *MemoryProvider) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Add(key, entry{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *MemoryProvider) Claim(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.cache.Add(key, entry{value: value, expiresAt: m.now().Add(ttl)})
	return true, nil
}

func (m *MemoryProvider) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(key)
	return nil
}

func (m *MemoryProvider) Close() error {
	return nil
}

// live must be called with mu held.
func (m *MemoryProvider) live(key string) (entry, bool) {
	cached, ok := m.cache.Get(key)
	if !ok {
		return entry{}, false
	}
	if m.now().After(cached.expiresAt) {
		m.cache.Remove(key)
		return entry{}, false
	}
	return cached, true
}
