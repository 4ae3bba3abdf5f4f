package worker

import (
	"net/http"
	"strings"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// Strategy 是分类结果，与处理策略一一对应。
type Strategy string

const (
	// StrategyPassthrough 跨域请求：不拦截，不读写缓存。
	StrategyPassthrough Strategy = "passthrough"
	// StrategyNetworkOnly API 请求：只走网络，失败时返回 503 JSON。
	StrategyNetworkOnly Strategy = "network-only"
	// StrategyNetworkFirst 导航请求：网络优先，失败时回退缓存。
	StrategyNetworkFirst Strategy = "network-first"
	// StrategyCacheFirst 静态资源：缓存优先，未命中再走网络。
	StrategyCacheFirst Strategy = "cache-first"
)

// Classify 按固定顺序分类请求，首个匹配生效：跨域 → API 前缀 → 导航 → 其它。
func Classify(scope Scope, req *http.Request) Strategy {
	if !SameOrigin(scope, req) {
		return StrategyPassthrough
	}
	if scope.APIPrefix != "" && strings.HasPrefix(requestPath(req), scope.APIPrefix) {
		return StrategyNetworkOnly
	}
	if IsNavigation(req) {
		return StrategyNetworkFirst
	}
	return StrategyCacheFirst
}

// SameOrigin 比较请求主机与 scope origin（忽略端口）。
func SameOrigin(scope Scope, req *http.Request) bool {
	host := cachestorage.RequestHost(req)
	return host == "" || host == scope.Origin
}

// IsNavigation 判断请求是否在加载浏览上下文的文档。优先看 Sec-Fetch-Mode，
// 老浏览器不发送该头时，以 GET + Accept 包含 text/html 近似判断。
func IsNavigation(req *http.Request) bool {
	if req == nil {
		return false
	}
	if mode := strings.TrimSpace(req.Header.Get("Sec-Fetch-Mode")); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if req.Method != http.MethodGet {
		return false
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}

func requestPath(req *http.Request) string {
	if req == nil || req.URL == nil || req.URL.Path == "" {
		return "/"
	}
	return req.URL.Path
}
