package cachestorage

import (
	"context"
	"sort"
	"sync"
)

// memoryProvider 为每个 scope 维护独立的内存 backend，进程退出后数据丢失，适合测试。
type memoryProvider struct {
	mu     sync.Mutex
	scopes map[string]*MemoryBackend
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{scopes: make(map[string]*MemoryBackend)}
}

func (p *memoryProvider) Backend(scope string) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.scopes[scope]
	if !ok {
		b = NewMemoryBackend()
		p.scopes[scope] = b
	}
	return b, nil
}

func (p *memoryProvider) Close() error { return nil }

// MemoryBackend 是线程安全的内存实现。
type MemoryBackend struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]map[string][]byte
	meta   map[string][]byte
}

// NewMemoryBackend 创建空的内存 backend。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		caches: make(map[string]map[string][]byte),
		meta:   make(map[string][]byte),
	}
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) CreateCache(ctx context.Context, name string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; ok {
		return nil
	}
	m.caches[name] = make(map[string][]byte)
	m.order = append(m.order, name)
	return nil
}

func (m *MemoryBackend) HasCache(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.caches[name]
	return ok, nil
}

func (m *MemoryBackend) DeleteCache(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		return false, nil
	}
	delete(m.caches, name)
	for i, existing := range m.order {
		if existing == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryBackend) CacheNames(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemoryBackend) Get(ctx context.Context, cache, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.caches[cache]
	if !ok {
		return nil, ErrCacheMissing
	}
	value, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryBackend) PutBatch(ctx context.Context, cache string, records []Record) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.caches[cache]
	if !ok {
		return ErrCacheMissing
	}
	for _, record := range records {
		entries[record.Key] = append([]byte(nil), record.Value...)
	}
	return nil
}

func (m *MemoryBackend) DeleteEntry(ctx context.Context, cache, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.caches[cache]
	if !ok {
		return false, nil
	}
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)
	return true, nil
}

func (m *MemoryBackend) EntryKeys(ctx context.Context, cache string) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.caches[cache]
	if !ok {
		return nil, ErrCacheMissing
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) GetMeta(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.meta[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryBackend) PutMeta(ctx context.Context, key string, value []byte) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = append([]byte(nil), value...)
	return nil
}
