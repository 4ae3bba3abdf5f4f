package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Scope 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UpdateInterval  Duration `mapstructure:"UpdateInterval"`
}

// ScopeConfig 描述一个被离线缓存接管的应用 origin。
type ScopeConfig struct {
	Name           string   `mapstructure:"Name"`
	Domain         string   `mapstructure:"Domain"`
	Upstream       string   `mapstructure:"Upstream"`
	Proxy          string   `mapstructure:"Proxy"`
	Username       string   `mapstructure:"Username"`
	Password       string   `mapstructure:"Password"`
	CachePrefix    string   `mapstructure:"CachePrefix"`
	CacheVersion   string   `mapstructure:"CacheVersion"`
	APIPrefix      string   `mapstructure:"APIPrefix"`
	Precache       []string `mapstructure:"Precache"`
	OfflineMessage string   `mapstructure:"OfflineMessage"`
	SkipWaiting    *bool    `mapstructure:"SkipWaiting"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Scopes []ScopeConfig `mapstructure:"Scope"`
}

// HasCredentials 表示当前 Scope 是否配置了完整的上游凭证。
func (s ScopeConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s ScopeConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// SkipWaitingEnabled 未配置时默认为 true。
func (s ScopeConfig) SkipWaitingEnabled() bool {
	return s.SkipWaiting == nil || *s.SkipWaiting
}

// CredentialModes 返回所有 Scope 的鉴权模式摘要，例如 dashboard:credentialed。
func CredentialModes(scopes []ScopeConfig) []string {
	if len(scopes) == 0 {
		return nil
	}
	result := make([]string, len(scopes))
	for i, scope := range scopes {
		result[i] = fmt.Sprintf("%s:%s", scope.Name, scope.AuthMode())
	}
	return result
}
