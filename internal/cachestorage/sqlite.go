package cachestorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "caches.sqlite"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cache_stores (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		scope TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE (scope, name)
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		scope TEXT NOT NULL,
		cache TEXT NOT NULL,
		key TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (scope, cache, key)
	)`,
	`CREATE TABLE IF NOT EXISTS worker_meta (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (scope, key)
	)`,
}

type sqliteProvider struct {
	sqlDB *sql.DB
}

func openSQLite(basePath string) (*sqliteProvider, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	cleanPath := filepath.Clean(filepath.Join(basePath, sqliteFileName))
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY。
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := sqlDB.Exec(stmt); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &sqliteProvider{sqlDB: sqlDB}, nil
}

func (p *sqliteProvider) Backend(scope string) (Backend, error) {
	if scope == "" {
		return nil, errors.New("scope name required")
	}
	return &sqliteBackend{sqlDB: p.sqlDB, scope: scope}, nil
}

func (p *sqliteProvider) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

type sqliteBackend struct {
	sqlDB *sql.DB
	scope string
}

var _ Backend = (*sqliteBackend)(nil)

func (s *sqliteBackend) CreateCache(ctx context.Context, name string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_stores (scope, name) VALUES (?, ?) ON CONFLICT (scope, name) DO NOTHING`,
		s.scope, name)
	return err
}

func (s *sqliteBackend) HasCache(ctx context.Context, name string) (bool, error) {
	return s.hasCache(ctx, s.sqlDB, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqliteBackend) hasCache(ctx context.Context, q queryer, name string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM cache_stores WHERE scope = ? AND name = ?`, s.scope, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteBackend) DeleteCache(ctx context.Context, name string) (bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM cache_stores WHERE scope = ? AND name = ?`, s.scope, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE scope = ? AND cache = ?`, s.scope, name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteBackend) CacheNames(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name FROM cache_stores WHERE scope = ? ORDER BY seq`, s.scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteBackend) Get(ctx context.Context, cache, key string) ([]byte, error) {
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT data FROM cache_entries WHERE scope = ? AND cache = ? AND key = ?`,
		s.scope, cache, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		exists, hasErr := s.HasCache(ctx, cache)
		if hasErr != nil {
			return nil, hasErr
		}
		if !exists {
			return nil, ErrCacheMissing
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *sqliteBackend) PutBatch(ctx context.Context, cache string, records []Record) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exists, err := s.hasCache(ctx, tx, cache)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCacheMissing
	}
	for _, record := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (scope, cache, key, data) VALUES (?, ?, ?, ?)
			 ON CONFLICT (scope, cache, key) DO UPDATE SET data = excluded.data`,
			s.scope, cache, record.Key, record.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteBackend) DeleteEntry(ctx context.Context, cache, key string) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE scope = ? AND cache = ? AND key = ?`, s.scope, cache, key)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteBackend) EntryKeys(ctx context.Context, cache string) ([]string, error) {
	exists, err := s.HasCache(ctx, cache)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCacheMissing
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE scope = ? AND cache = ? ORDER BY key`, s.scope, cache)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *sqliteBackend) GetMeta(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM worker_meta WHERE scope = ? AND key = ?`, s.scope, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *sqliteBackend) PutMeta(ctx context.Context, key string, value []byte) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO worker_meta (scope, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (scope, key) DO UPDATE SET value = excluded.value`,
		s.scope, key, value)
	return err
}
