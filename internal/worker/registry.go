package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// Registry 是缓存版本注册表，记录当前代际的 precache 与 runtime 缓存名。
// 提升 Version 是唯一的失效手段：新代际激活时不匹配的缓存会被整体删除。
type Registry struct {
	Version  string `json:"version"`
	Precache string `json:"precache"`
	Runtime  string `json:"runtime"`
}

// NewRegistry 按 "<prefix>-<version>" 与 "<prefix>-runtime-<version>" 生成缓存名。
func NewRegistry(prefix, version string) Registry {
	return Registry{
		Version:  version,
		Precache: fmt.Sprintf("%s-%s", prefix, version),
		Runtime:  fmt.Sprintf("%s-runtime-%s", prefix, version),
	}
}

// Names 返回当前代际的两个缓存名。
func (r Registry) Names() []string {
	return []string{r.Precache, r.Runtime}
}

// IsCurrent 判断缓存名是否属于当前代际。
func (r Registry) IsCurrent(name string) bool {
	return name == r.Precache || name == r.Runtime
}

// 默认值与原应用保持一致。
const (
	DefaultAPIPrefix      = "/api/"
	DefaultOfflineMessage = "Offline - API não disponível"
)

// DefaultManifest 返回预缓存清单：文档根、应用 manifest 与两个图标。
func DefaultManifest() []string {
	return []string{
		"/",
		"/manifest.json",
		"/icons/icon-192x192.png",
		"/icons/icon-512x512.png",
	}
}

// Scope 是一个 worker 代际的不可变配置，显式传入 Installer、Collector 与 Dispatcher。
type Scope struct {
	Name           string
	Origin         string
	Registry       Registry
	APIPrefix      string
	Manifest       []string
	OfflineMessage string
	SkipWaiting    bool
}

// Normalize 填充默认值并规范化 origin。
func (s Scope) Normalize() Scope {
	s.Origin = cachestorage.NormalizeHost(s.Origin)
	if s.APIPrefix == "" {
		s.APIPrefix = DefaultAPIPrefix
	}
	if s.Manifest == nil {
		s.Manifest = DefaultManifest()
	} else {
		s.Manifest = append([]string(nil), s.Manifest...)
	}
	if s.OfflineMessage == "" {
		s.OfflineMessage = DefaultOfflineMessage
	}
	return s
}

// ResolveURL 将同源路径解析为 scope origin 下的绝对 URL。
func (s Scope) ResolveURL(path string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	base := &url.URL{Scheme: "http", Host: s.Origin, Path: "/"}
	return base.ResolveReference(ref), nil
}

// NewRequest 构造指向 scope origin 的 GET 请求，用于预缓存与文档根回退。
func (s Scope) NewRequest(ctx context.Context, path string) (*http.Request, error) {
	u, err := s.ResolveURL(path)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}
