package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

const testOrigin = "dashboard.local"

var errOffline = errors.New("network unreachable")

type fakeRoute struct {
	status       int
	contentType  string
	body         string
	redirectHost string
}

// fakeNetwork 记录调用次数，可随时切换到离线状态。
type fakeNetwork struct {
	mu      sync.Mutex
	offline bool
	routes  map[string]fakeRoute
	calls   map[string]int
	total   int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		routes: map[string]fakeRoute{
			"/":                       {status: http.StatusOK, contentType: "text/html", body: "<html>root</html>"},
			"/manifest.json":          {status: http.StatusOK, contentType: "application/json", body: `{"name":"Mire"}`},
			"/icons/icon-192x192.png": {status: http.StatusOK, contentType: "image/png", body: "png-192"},
			"/icons/icon-512x512.png": {status: http.StatusOK, contentType: "image/png", body: "png-512"},
			"/api/vendas":             {status: http.StatusOK, contentType: "application/json", body: `{"total":10}`},
			"/reports":                {status: http.StatusOK, contentType: "text/html", body: "<html>reports</html>"},
			"/assets/app.js":          {status: http.StatusOK, contentType: "text/javascript", body: "console.log(1)"},
			"/assets/missing.js":      {status: http.StatusNotFound, contentType: "text/plain", body: "not found"},
			"/assets/redirected.js":   {status: http.StatusOK, contentType: "text/javascript", body: "cdn", redirectHost: "cdn.example.com"},
		},
		calls: map[string]int{},
	}
}

func (n *fakeNetwork) Fetch(_ context.Context, req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := cachestorage.RequestKey(req.URL)
	n.total++
	n.calls[key]++
	if n.offline {
		return nil, errOffline
	}
	route, ok := n.routes[key]
	if !ok {
		route = fakeRoute{status: http.StatusNotFound, contentType: "text/plain", body: "not found"}
	}
	header := http.Header{}
	header.Set("Content-Type", route.contentType)
	resp := &http.Response{
		StatusCode:    route.status,
		Status:        http.StatusText(route.status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(route.body)),
		ContentLength: int64(len(route.body)),
		Request:       req,
	}
	if route.redirectHost != "" {
		final := req.Clone(req.Context())
		final.URL.Host = route.redirectHost
		final.Host = route.redirectHost
		resp.Request = final
	}
	return resp, nil
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *fakeNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.total
}

func (n *fakeNetwork) callsFor(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testScope(version string) Scope {
	return Scope{
		Name:        "dashboard",
		Origin:      testOrigin,
		Registry:    NewRegistry("mireapp", version),
		SkipWaiting: true,
	}.Normalize()
}

func newTestStorage() *cachestorage.Storage {
	return cachestorage.New(cachestorage.NewMemoryBackend(), testOrigin)
}

func newTestController(t *testing.T, storage *cachestorage.Storage, network Network, scope Scope) *Controller {
	t.Helper()
	ctrl, err := NewController(ControllerOptions{
		Scope:   scope,
		Storage: storage,
		Network: network,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("new controller error: %v", err)
	}
	return ctrl
}

func assetRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "http://"+testOrigin+path, nil)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	return req
}

func navigationRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "http://"+testOrigin+path, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error: %v", err)
	}
	resp.Body.Close()
	return string(data)
}

func cacheNames(t *testing.T, storage *cachestorage.Storage) []string {
	t.Helper()
	names, err := storage.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	return names
}
