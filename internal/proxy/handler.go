package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/logging"
	"github.com/mireapp/offline-proxy/internal/server"
	"github.com/mireapp/offline-proxy/internal/worker"
)

// 响应头：标记本次请求走的策略与响应来源，便于排查离线行为。
const (
	HeaderStrategy = "X-Offline-Strategy"
	HeaderSource   = "X-Offline-Source"
)

// Handler 负责把 Fiber 请求交给 scope 的 worker Controller，并把结果写回客户端。
// worker 不提供响应时：跨域与无激活代际的请求直接转发上游，其它请求返回 504 离线错误。
type Handler struct {
	logger   *logrus.Logger
	networks server.NetworkFactory
}

// NewHandler constructs a proxy handler. networks 提供直接转发时使用的上游 Network。
func NewHandler(logger *logrus.Logger, networks server.NetworkFactory) *Handler {
	return &Handler{
		logger:   logger,
		networks: networks,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.ScopeRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildRequest(ctx, c, route)
	if err != nil {
		h.logResult(route, requestID, "", "", 0, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "bad_request")
	}

	result := worker.Result{Strategy: worker.StrategyPassthrough, Source: worker.SourceNone}
	if route.Controller != nil {
		result = route.Controller.Serve(ctx, req)
	}

	if result.Handled() {
		return h.writeResponse(c, route, result, requestID, started)
	}

	if result.Strategy == worker.StrategyPassthrough {
		return h.forwardNative(ctx, c, route, req, requestID, started)
	}

	// 导航与静态资源离线且无缓存：相当于浏览器的离线错误页
	h.logResult(route, requestID, string(result.Strategy), string(worker.SourceNone), fiber.StatusGatewayTimeout, started, nil)
	c.Set(HeaderStrategy, string(result.Strategy))
	c.Set(HeaderSource, string(worker.SourceNone))
	return h.writeError(c, fiber.StatusGatewayTimeout, "offline_unavailable")
}

// forwardNative 不经过 worker，直接把请求交给上游，不读写任何缓存。
func (h *Handler) forwardNative(ctx context.Context, c fiber.Ctx, route *server.ScopeRoute, req *http.Request, requestID string, started time.Time) error {
	if h.networks == nil {
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	resp, err := h.networks(route).Fetch(ctx, req)
	if err != nil {
		h.logResult(route, requestID, string(worker.StrategyPassthrough), string(worker.SourceNetwork), 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	return h.writeResponse(c, route, worker.Result{
		Strategy: worker.StrategyPassthrough,
		Response: resp,
		Source:   worker.SourceNetwork,
	}, requestID, started)
}

func (h *Handler) writeResponse(c fiber.Ctx, route *server.ScopeRoute, result worker.Result, requestID string, started time.Time) error {
	resp := result.Response
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderStrategy, string(result.Strategy))
	c.Set(HeaderSource, string(result.Source))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, requestID, string(result.Strategy), string(result.Source), resp.StatusCode, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, requestID, string(result.Strategy), string(result.Source), resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.ScopeRoute,
	requestID string,
	strategy string,
	source string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		route.Config.AuthMode(),
		strategy,
		source,
	)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildRequest 将 Fiber 请求还原为指向 scope origin 的 http.Request。
// 绝对形式的请求目标保留其主机，以便分类器识别跨域请求。
func buildRequest(ctx context.Context, c fiber.Ctx, route *server.ScopeRoute) (*http.Request, error) {
	target, err := url.Parse(string(c.Request().RequestURI()))
	if err != nil {
		return nil, err
	}
	host := getHost(c, route)
	if !target.IsAbs() {
		target.Scheme = "http"
		target.Host = host
	}
	target.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}
	req.Header = fiberHeadersAsHTTP(c)
	req.Host = target.Host
	req.RemoteAddr = c.IP()

	req.Header.Set("X-Forwarded-Host", host)
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func getHost(c fiber.Ctx, route *server.ScopeRoute) string {
	if raw := strings.TrimSpace(string(c.Request().Header.Host())); raw != "" {
		return raw
	}
	if route != nil {
		return route.Scope.Origin
	}
	return c.Hostname()
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	header.Del("Host")
	return header
}

// copyResponseHeaders 透传上游/缓存响应头。Content-Length 由 fasthttp 按实际正文计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Append(key, value)
		}
	}
}

func routePort(route *server.ScopeRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
