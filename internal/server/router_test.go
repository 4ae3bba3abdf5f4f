package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/config"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://dashboard.local/reports", nil)
	req.Host = "dashboard.local"
	req.Header.Set("Host", "dashboard.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s, hostHeader=%s)", resp.StatusCode, string(body), resp.Header.Get("X-Offline-Proxy-Host"))
	}

	if app.recorder.routeName != "mireapp" {
		t.Fatalf("expected mireapp route, got %s", app.recorder.routeName)
	}

	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterIgnoresHostPort(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://dashboard.local:5000/", nil)
	req.Host = "dashboard.local:5000"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
}

func TestRouterReturns404WhenHostUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/reports", nil)
	req.Host = "unknown.local"
	req.Header.Set("Host", "unknown.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) {
		t.Fatalf("expected host_unmapped error, got %s", string(body))
	}
	if resp.Header.Get("X-Offline-Proxy-Host") != "unknown.local" {
		t.Fatalf("expected unmapped host header")
	}
}

func TestRouterDiagnosticsBypassHostMapping(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/-/ping", nil)
	req.Host = "unknown.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("diagnostics route should be reachable from any host, got %d", resp.StatusCode)
	}
	if app.recorder.routeName != "" {
		t.Fatalf("diagnostics must not reach the proxy handler")
	}

	req = httptest.NewRequest("GET", "http://dashboard.local/-/missing", nil)
	req.Host = "dashboard.local"
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound || app.recorder.routeName != "" {
		t.Fatalf("unknown diagnostics path should 404 without proxying, got %d", resp.StatusCode)
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	cfg := testConfig(5000)
	registry, err := NewScopeRegistry(cfg)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := NewApp(AppOptions{
		Logger:   logger,
		Registry: registry,
		Proxy: ProxyHandlerFunc(func(fiber.Ctx, *ScopeRoute) error {
			panic("boom")
		}),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	req := httptest.NewRequest("GET", "http://dashboard.local/", nil)
	req.Host = "dashboard.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("missing logger should fail")
	}
}

type testApp struct {
	*fiber.App
	recorder *proxyRecorder
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort: port,
		},
		Scopes: []config.ScopeConfig{
			{
				Name:         "mireapp",
				Domain:       "dashboard.local",
				Upstream:     "http://127.0.0.1:3000",
				CachePrefix:  "mireapp",
				CacheVersion: "v1",
				APIPrefix:    "/api/",
			},
		},
	}
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	registry, err := NewScopeRegistry(testConfig(port))
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	if _, ok := registry.Lookup("dashboard.local"); !ok {
		t.Fatalf("registry lookup failed for dashboard")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      recorder,
		ListenPort: port,
		Diagnostics: func(app *fiber.App) {
			app.Get("/-/ping", func(c fiber.Ctx) error {
				return c.SendString("pong")
			})
		},
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type proxyRecorder struct {
	lastRoute *ScopeRoute
	routeName string
}

func (p *proxyRecorder) Handle(c fiber.Ctx, route *ScopeRoute) error {
	p.lastRoute = route
	p.routeName = route.Config.Name
	return c.SendStatus(fiber.StatusNoContent)
}
