package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"

	"github.com/mireapp/offline-proxy/internal/config"
	"github.com/mireapp/offline-proxy/internal/server"
	"github.com/mireapp/offline-proxy/internal/worker"
)

// UpstreamNetwork 把 scope origin 下的请求改写到配置的 Upstream，是 worker 眼中的“网络”。
type UpstreamNetwork struct {
	client *http.Client
	route  *server.ScopeRoute
}

// NewUpstreamNetwork 为单个 Scope 构建 Network。
func NewUpstreamNetwork(client *http.Client, route *server.ScopeRoute) *UpstreamNetwork {
	return &UpstreamNetwork{client: client, route: route}
}

var _ worker.Network = (*UpstreamNetwork)(nil)

// Fetch 实现 worker.Network。任何 HTTP 响应都原样返回；仅连接失败、超时或取消返回错误。
// 响应仍停留在上游主机时，resp.Request 被替换为原始请求，使其被视为同源响应。
func (n *UpstreamNetwork) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if n.route == nil || n.route.UpstreamURL == nil {
		return nil, errors.New("upstream not configured")
	}
	target := resolveUpstreamURL(n.route.UpstreamURL, req.URL)

	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = req.ContentLength
	server.CopyHeaders(out.Header, req.Header)
	// 缓存需要明文正文，交给 Transport 处理压缩
	out.Header.Del("Accept-Encoding")
	out.Host = target.Host
	if authHeader := buildCredentialHeader(n.route.Config.Username, n.route.Config.Password); authHeader != "" {
		out.Header.Set("Authorization", authHeader)
	}

	resp, err := n.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", target.Host, err)
	}
	if resp.Request == nil || resp.Request.URL == nil || resp.Request.URL.Host == target.Host {
		resp.Request = req
	}
	return resp, nil
}

// resolveUpstreamURL 保留请求路径与查询串，替换为上游的 scheme/host，并拼接上游的路径前缀。
func resolveUpstreamURL(base *url.URL, reqURL *url.URL) *url.URL {
	clean := "/"
	rawQuery := ""
	if reqURL != nil {
		if reqURL.Path != "" {
			clean = path.Clean("/" + reqURL.Path)
			if len(reqURL.Path) > 1 && reqURL.Path[len(reqURL.Path)-1] == '/' && clean != "/" {
				clean += "/"
			}
		}
		rawQuery = reqURL.RawQuery
	}
	target := *base
	target.Path = singleJoiningSlash(base.Path, clean)
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

func singleJoiningSlash(a, b string) string {
	switch {
	case a == "" || a == "/":
		return b
	case a[len(a)-1] == '/' && b[0] == '/':
		return a + b[1:]
	case a[len(a)-1] != '/' && b[0] != '/':
		return a + "/" + b
	}
	return a + b
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

// Networks 按 Scope 缓存 UpstreamNetwork，worker 与直接转发共用同一个 http.Client。
type Networks struct {
	cfg     *config.Config
	mu      sync.Mutex
	byScope map[string]*UpstreamNetwork
}

// NewNetworks 创建 Networks。
func NewNetworks(cfg *config.Config) *Networks {
	return &Networks{cfg: cfg, byScope: map[string]*UpstreamNetwork{}}
}

// For 返回 route 对应的 Network，签名与 server.NetworkFactory 一致。
func (n *Networks) For(route *server.ScopeRoute) worker.Network {
	n.mu.Lock()
	defer n.mu.Unlock()
	if network, ok := n.byScope[route.Config.Name]; ok {
		return network
	}
	network := NewUpstreamNetwork(server.NewUpstreamClient(n.cfg, route), route)
	n.byScope[route.Config.Name] = network
	return network
}
