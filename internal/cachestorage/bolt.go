package cachestorage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// 磁盘布局（单个 bbolt 文件，所有 scope 共用）：
//
//	scope/<name>/caches/<cache>/<key>  # 序列化后的响应
//	scope/<name>/order/<cache>         # 创建序号（大端 uint64）
//	scope/<name>/meta/<key>            # worker 注册信息
var (
	bucketCaches = []byte("caches")
	bucketOrder  = []byte("order")
	bucketMeta   = []byte("meta")
)

const boltFileName = "caches.bbolt"

type boltProvider struct {
	db *bolt.DB
}

func openBolt(basePath string) (*boltProvider, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := bolt.Open(filepath.Join(basePath, boltFileName), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &boltProvider{db: db}, nil
}

func (p *boltProvider) Backend(scope string) (Backend, error) {
	if scope == "" {
		return nil, errors.New("scope name required")
	}
	root := []byte("scope/" + scope)
	if err := p.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(root)
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketCaches, bucketOrder, bucketMeta} {
			if _, err := b.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("init scope bucket %s: %w", scope, err)
	}
	return &boltBackend{db: p.db, root: root}, nil
}

func (p *boltProvider) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

type boltBackend struct {
	db   *bolt.DB
	root []byte
}

var _ Backend = (*boltBackend)(nil)

func (b *boltBackend) sub(tx *bolt.Tx, name []byte) *bolt.Bucket {
	root := tx.Bucket(b.root)
	if root == nil {
		return nil
	}
	return root.Bucket(name)
}

func (b *boltBackend) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return b.db.Update(fn)
}

func (b *boltBackend) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return b.db.View(fn)
}

func (b *boltBackend) CreateCache(ctx context.Context, name string) error {
	return b.update(ctx, func(tx *bolt.Tx) error {
		caches := b.sub(tx, bucketCaches)
		if caches.Bucket([]byte(name)) != nil {
			return nil
		}
		if _, err := caches.CreateBucket([]byte(name)); err != nil {
			return err
		}
		order := b.sub(tx, bucketOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		return order.Put([]byte(name), buf)
	})
}

func (b *boltBackend) HasCache(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := b.view(ctx, func(tx *bolt.Tx) error {
		exists = b.sub(tx, bucketCaches).Bucket([]byte(name)) != nil
		return nil
	})
	return exists, err
}

func (b *boltBackend) DeleteCache(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := b.update(ctx, func(tx *bolt.Tx) error {
		caches := b.sub(tx, bucketCaches)
		if caches.Bucket([]byte(name)) == nil {
			return nil
		}
		if err := caches.DeleteBucket([]byte(name)); err != nil {
			return err
		}
		deleted = true
		return b.sub(tx, bucketOrder).Delete([]byte(name))
	})
	return deleted, err
}

func (b *boltBackend) CacheNames(ctx context.Context) ([]string, error) {
	type named struct {
		name string
		seq  uint64
	}
	var items []named
	err := b.view(ctx, func(tx *bolt.Tx) error {
		return b.sub(tx, bucketOrder).ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("corrupt order record for %s", string(k))
			}
			items = append(items, named{name: string(k), seq: binary.BigEndian.Uint64(v)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.name
	}
	return names, nil
}

func (b *boltBackend) Get(ctx context.Context, cache, key string) ([]byte, error) {
	var out []byte
	err := b.view(ctx, func(tx *bolt.Tx) error {
		bucket := b.sub(tx, bucketCaches).Bucket([]byte(cache))
		if bucket == nil {
			return ErrCacheMissing
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *boltBackend) PutBatch(ctx context.Context, cache string, records []Record) error {
	return b.update(ctx, func(tx *bolt.Tx) error {
		bucket := b.sub(tx, bucketCaches).Bucket([]byte(cache))
		if bucket == nil {
			return ErrCacheMissing
		}
		for _, record := range records {
			if err := bucket.Put([]byte(record.Key), record.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBackend) DeleteEntry(ctx context.Context, cache, key string) (bool, error) {
	var deleted bool
	err := b.update(ctx, func(tx *bolt.Tx) error {
		bucket := b.sub(tx, bucketCaches).Bucket([]byte(cache))
		if bucket == nil || bucket.Get([]byte(key)) == nil {
			return nil
		}
		deleted = true
		return bucket.Delete([]byte(key))
	})
	return deleted, err
}

func (b *boltBackend) EntryKeys(ctx context.Context, cache string) ([]string, error) {
	var keys []string
	err := b.view(ctx, func(tx *bolt.Tx) error {
		bucket := b.sub(tx, bucketCaches).Bucket([]byte(cache))
		if bucket == nil {
			return ErrCacheMissing
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (b *boltBackend) GetMeta(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.view(ctx, func(tx *bolt.Tx) error {
		v := b.sub(tx, bucketMeta).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *boltBackend) PutMeta(ctx context.Context, key string, value []byte) error {
	return b.update(ctx, func(tx *bolt.Tx) error {
		return b.sub(tx, bucketMeta).Put([]byte(key), value)
	})
}
