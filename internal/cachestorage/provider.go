package cachestorage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// 支持的存储驱动。
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Drivers 返回全部受支持的驱动名，供配置校验与诊断输出使用。
func Drivers() []string {
	return []string{DriverBolt, DriverSQLite, DriverMemory}
}

// OpenProvider 根据驱动名在 basePath 下打开缓存存储，整个进程复用一份实例。
func OpenProvider(driver, basePath string) (Provider, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == DriverMemory {
		return newMemoryProvider(), nil
	}
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	switch driver {
	case "", DriverBolt:
		return openBolt(abs)
	case DriverSQLite:
		return openSQLite(abs)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
