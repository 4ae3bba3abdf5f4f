package cachestorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Storage 是单个 origin 的命名缓存集合，语义对齐浏览器 CacheStorage：
// Open 按需创建、Keys 按创建顺序列出、Match 依次在所有缓存中查找。
type Storage struct {
	backend Backend
	origin  string
	now     func() time.Time
}

// New 以 backend 为底层构建 Storage，origin 为该 scope 的主机名。
func New(backend Backend, origin string) *Storage {
	return &Storage{
		backend: backend,
		origin:  NormalizeHost(origin),
		now:     time.Now,
	}
}

// Origin 返回该存储绑定的主机名。
func (s *Storage) Origin() string {
	return s.origin
}

// Open 打开命名缓存，不存在时创建。
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if name == "" {
		return nil, errors.New("cache name required")
	}
	if err := s.backend.CreateCache(ctx, name); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &Cache{storage: s, name: name}, nil
}

// Has 判断命名缓存是否存在。
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	return s.backend.HasCache(ctx, name)
}

// Delete 删除整个命名缓存。
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	return s.backend.DeleteCache(ctx, name)
}

// Keys 按创建顺序返回全部缓存名。
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	return s.backend.CacheNames(ctx)
}

// Match 按创建顺序在所有缓存中查找请求，首个命中即返回；全部未命中返回 ErrNotFound。
func (s *Storage) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !s.matchable(req) {
		return nil, ErrNotFound
	}
	names, err := s.backend.CacheNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		resp, err := s.match(ctx, name, req)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrCacheMissing):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// LoadMeta 读取元数据，不存在时返回 ErrNotFound。
func (s *Storage) LoadMeta(ctx context.Context, key string) ([]byte, error) {
	return s.backend.GetMeta(ctx, key)
}

// SaveMeta 覆盖写入元数据。
func (s *Storage) SaveMeta(ctx context.Context, key string, value []byte) error {
	return s.backend.PutMeta(ctx, key, value)
}

func (s *Storage) matchable(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return false
	}
	return s.sameOrigin(req)
}

func (s *Storage) sameOrigin(req *http.Request) bool {
	host := RequestHost(req)
	return host == "" || s.origin == "" || host == s.origin
}

func (s *Storage) match(ctx context.Context, name string, req *http.Request) (*http.Response, error) {
	data, err := s.backend.Get(ctx, name, RequestKey(req.URL))
	if err != nil {
		return nil, err
	}
	resp, _, err := decodeResponse(data, req)
	if err != nil {
		return nil, fmt.Errorf("decode cached response %s: %w", RequestKey(req.URL), err)
	}
	return resp, nil
}

// Cache 是一个命名缓存的句柄，对应 Cache Storage 中的单个 store。
type Cache struct {
	storage *Storage
	name    string
}

// Pair 表示一次批量写入中的请求与响应。
type Pair struct {
	Request  *http.Request
	Response *http.Response
}

// Name 返回缓存名。
func (c *Cache) Name() string {
	return c.name
}

// Match 查找当前缓存中的条目，未命中返回 ErrNotFound。
func (c *Cache) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !c.storage.matchable(req) {
		return nil, ErrNotFound
	}
	return c.storage.match(ctx, c.name, req)
}

// Put 写入单个条目。它会完整读取 resp.Body，并把正文替换为可重复读取的副本，
// 调用方在 Put 之后仍可把原响应返回给客户端。同一键的并发写入以最后一次为准。
func (c *Cache) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	return c.PutAll(ctx, []Pair{{Request: req, Response: resp}})
}

// PutAll 原子写入多个条目：任一请求不可缓存时不会写入任何内容。
func (c *Cache) PutAll(ctx context.Context, pairs []Pair) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	storedAt := c.storage.now()
	records := make([]Record, 0, len(pairs))
	for _, pair := range pairs {
		record, err := c.record(pair, storedAt)
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil
	}
	return c.storage.backend.PutBatch(ctx, c.name, records)
}

// Delete 删除单个条目。
func (c *Cache) Delete(ctx context.Context, req *http.Request) (bool, error) {
	if req == nil || req.URL == nil {
		return false, nil
	}
	return c.storage.backend.DeleteEntry(ctx, c.name, RequestKey(req.URL))
}

// Keys 返回当前缓存中的全部请求键。
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	return c.storage.backend.EntryKeys(ctx, c.name)
}

func (c *Cache) record(pair Pair, storedAt time.Time) (Record, error) {
	req, resp := pair.Request, pair.Response
	if req == nil || req.URL == nil || resp == nil {
		return Record{}, errors.New("request and response required")
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return Record{}, fmt.Errorf("%w: %s", ErrMethodNotCacheable, req.Method)
	}
	if !c.storage.sameOrigin(req) {
		return Record{}, fmt.Errorf("%w: %s", ErrCrossOrigin, RequestHost(req))
	}
	if resp.StatusCode == http.StatusPartialContent {
		return Record{}, ErrPartialResponse
	}
	body, err := BufferResponse(resp)
	if err != nil {
		return Record{}, err
	}
	data, err := encodeResponse(resp, body, storedAt)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: RequestKey(req.URL), Value: data}, nil
}
