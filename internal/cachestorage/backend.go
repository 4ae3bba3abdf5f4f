package cachestorage

import (
	"context"
	"errors"
)

// Backend 是缓存驱动需要实现的最小原语，每个实例只服务一个 scope（origin）。
// 缓存名需要按创建顺序返回，Storage.Match 依赖该顺序逐个查找。
type Backend interface {
	// CreateCache 创建命名缓存，已存在时直接返回 nil。
	CreateCache(ctx context.Context, name string) error
	HasCache(ctx context.Context, name string) (bool, error)
	// DeleteCache 整体删除命名缓存及其全部条目，返回是否真的删除了内容。
	DeleteCache(ctx context.Context, name string) (bool, error)
	CacheNames(ctx context.Context) ([]string, error)

	// Get 在缓存不存在时返回 ErrCacheMissing，条目不存在时返回 ErrNotFound。
	Get(ctx context.Context, cache, key string) ([]byte, error)
	// PutBatch 在单个事务内写入全部记录，任一失败则整体不生效。
	PutBatch(ctx context.Context, cache string, records []Record) error
	DeleteEntry(ctx context.Context, cache, key string) (bool, error)
	EntryKeys(ctx context.Context, cache string) ([]string, error)

	// GetMeta/PutMeta 保存 worker 注册信息等少量元数据，不出现在缓存名列表里。
	GetMeta(ctx context.Context, key string) ([]byte, error)
	PutMeta(ctx context.Context, key string, value []byte) error
}

// Provider 按 scope 名称派生 Backend，并负责底层连接的生命周期。
type Provider interface {
	Backend(scope string) (Backend, error)
	Close() error
}

// Record 是一次批量写入中的单条 key/value。
type Record struct {
	Key   string
	Value []byte
}

var (
	// ErrNotFound 表示缓存条目或元数据不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCacheMissing 表示命名缓存不存在（可能已被代际回收删除）。
	ErrCacheMissing = errors.New("cache store not found")
	// ErrCrossOrigin 表示请求不属于当前 origin，禁止写入缓存。
	ErrCrossOrigin = errors.New("cross-origin request cannot be cached")
	// ErrMethodNotCacheable 表示只有 GET 请求可以写入缓存。
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")
	// ErrPartialResponse 表示 206 响应不允许写入缓存。
	ErrPartialResponse = errors.New("partial response cannot be cached")
	// ErrBodyRead 表示读取响应正文中途失败，此时响应已不可用。
	ErrBodyRead = errors.New("response body read failed")
)

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
