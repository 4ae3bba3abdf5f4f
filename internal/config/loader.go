package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/mireapp/offline-proxy/internal/version"
)

// Load 读取并解析 TOML 配置文件，叠加环境变量覆盖项，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	overrides, err := ParseEnv()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectScopeLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if driver := strings.TrimSpace(overrides.StorageDriver); driver != "" {
		cfg.Global.StorageDriver = driver
	}
	applyGlobalDefaults(&cfg.Global)
	fallbackVersion := version.CacheGeneration
	if overrides.CacheVersion != "" {
		fallbackVersion = overrides.CacheVersion
	}
	for i := range cfg.Scopes {
		applyScopeDefaults(&cfg.Scopes[i], fallbackVersion)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", "bolt")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", 0)
	v.SetDefault("UpdateInterval", 0)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = "bolt"
	}
}

func applyScopeDefaults(s *ScopeConfig, fallbackVersion string) {
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	if strings.TrimSpace(s.CachePrefix) == "" {
		s.CachePrefix = s.Name
	}
	if strings.TrimSpace(s.CacheVersion) == "" {
		s.CacheVersion = fallbackVersion
	}
	if s.APIPrefix == "" {
		s.APIPrefix = "/api/"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectScopeLevelPorts 拒绝在 Scope 内配置端口：所有 Scope 共享全局 ListenPort，按 Host 区分。
func rejectScopeLevelPorts(v *viper.Viper) error {
	raw := v.Get("Scope")
	scopes, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range scopes {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		// viper 会把嵌套表的键转为小写，这里按大小写不敏感匹配
		if _, exists := lookupFold(m, "Port"); exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupFold(m, "Name"); ok {
				if str, ok := rawName.(string); ok && str != "" {
					name = str
				}
			}
			return newFieldError(scopeField(name, "Port"), "不支持按 Scope 配置端口，请使用全局 ListenPort")
		}
	}

	return nil
}

func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
