package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env 汇总可通过环境变量覆盖的启动参数。
type Env struct {
	ConfigPath    string `env:"OFFLINE_PROXY_CONFIG"`
	CacheVersion  string `env:"OFFLINE_PROXY_CACHE_VERSION"`
	StorageDriver string `env:"OFFLINE_PROXY_STORAGE_DRIVER"`
	OTelEndpoint  string `env:"OFFLINE_PROXY_OTEL_ENDPOINT"`
	OTelEnabled   bool   `env:"OFFLINE_PROXY_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv 从环境变量读取 Env。
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
