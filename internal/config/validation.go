package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if !slices.Contains(cachestorage.Drivers(), g.StorageDriver) {
		return newFieldError("Global.StorageDriver", "仅支持 "+strings.Join(cachestorage.Drivers(), "|"))
	}
	if g.StorageDriver != cachestorage.DriverMemory && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.UpdateInterval.DurationValue() < 0 {
		return newFieldError("Global.UpdateInterval", "不能为负数")
	}

	if len(c.Scopes) == 0 {
		return errors.New("至少需要配置一个 Scope")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Scopes {
		scope := &c.Scopes[i]
		if scope.Name == "" {
			return newFieldError("Scope[].Name", "不能为空")
		}
		if _, exists := seenNames[scope.Name]; exists {
			return newFieldError(scopeField(scope.Name, "Name"), "重复")
		}
		seenNames[scope.Name] = struct{}{}

		if err := validateDomain(scope.Domain); err != nil {
			return fmt.Errorf("%s: %w", scopeField(scope.Name, "Domain"), err)
		}
		domain := strings.ToLower(scope.Domain)
		if owner, exists := seenDomains[domain]; exists {
			return newFieldError(scopeField(scope.Name, "Domain"), "与 "+owner+" 重复")
		}
		seenDomains[domain] = scope.Name

		if (scope.Username == "") != (scope.Password == "") {
			return newFieldError(scopeField(scope.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if err := validateUpstream(scope.Upstream); err != nil {
			return fmt.Errorf("%s: %w", scopeField(scope.Name, "Upstream"), err)
		}
		if scope.Proxy != "" {
			if err := validateUpstream(scope.Proxy); err != nil {
				return fmt.Errorf("%s: %w", scopeField(scope.Name, "Proxy"), err)
			}
		}

		if err := validateCacheName(scope.CachePrefix); err != nil {
			return fmt.Errorf("%s: %w", scopeField(scope.Name, "CachePrefix"), err)
		}
		if err := validateCacheName(scope.CacheVersion); err != nil {
			return fmt.Errorf("%s: %w", scopeField(scope.Name, "CacheVersion"), err)
		}
		if !strings.HasPrefix(scope.APIPrefix, "/") {
			return newFieldError(scopeField(scope.Name, "APIPrefix"), "必须以 / 开头")
		}
		for _, path := range scope.Precache {
			if !strings.HasPrefix(path, "/") {
				return newFieldError(scopeField(scope.Name, "Precache"), fmt.Sprintf("仅支持同源路径: %s", path))
			}
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

func validateCacheName(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(value, " /\t") {
		return errors.New("不允许包含空白或 /")
	}
	return nil
}
