package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	scope := testScope("v1")
	cases := []struct {
		name   string
		req    func() *http.Request
		expect Strategy
	}{
		{
			name:   "cross origin api",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "https://api.other.com/api/vendas", nil) },
			expect: StrategyPassthrough,
		},
		{
			name: "cross origin navigation",
			req: func() *http.Request {
				r := navigationRequest("/")
				r.URL.Host = "cdn.example.com"
				r.Host = "cdn.example.com"
				return r
			},
			expect: StrategyPassthrough,
		},
		{
			name:   "api",
			req:    func() *http.Request { return assetRequest("/api/vendas?loja=2") },
			expect: StrategyNetworkOnly,
		},
		{
			name: "api navigation still network only",
			req: func() *http.Request {
				return navigationRequest("/api/export")
			},
			expect: StrategyNetworkOnly,
		},
		{
			name:   "api post",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodPost, "http://dashboard.local/api/vendas", nil) },
			expect: StrategyNetworkOnly,
		},
		{
			name:   "prefix without trailing slash is not api",
			req:    func() *http.Request { return assetRequest("/apidocs.js") },
			expect: StrategyCacheFirst,
		},
		{
			name:   "navigation",
			req:    func() *http.Request { return navigationRequest("/reports") },
			expect: StrategyNetworkFirst,
		},
		{
			name: "legacy navigation by accept",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "http://dashboard.local/reports", nil)
				r.Header.Set("Accept", "text/html")
				return r
			},
			expect: StrategyNetworkFirst,
		},
		{
			name: "fetch accepting html is not navigation",
			req: func() *http.Request {
				r := assetRequest("/partials/table.html")
				r.Header.Set("Accept", "text/html")
				return r
			},
			expect: StrategyCacheFirst,
		},
		{
			name:   "asset",
			req:    func() *http.Request { return assetRequest("/assets/app.js") },
			expect: StrategyCacheFirst,
		},
		{
			name:   "origin port ignored",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "http://dashboard.local:8080/assets/app.js", nil) },
			expect: StrategyCacheFirst,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(scope, tc.req()); got != tc.expect {
				t.Fatalf("expected %s, got %s", tc.expect, got)
			}
		})
	}
}

func TestClassifyCustomAPIPrefix(t *testing.T) {
	scope := testScope("v1")
	scope.APIPrefix = "/vendas/"
	if got := Classify(scope, assetRequest("/vendas/hoje")); got != StrategyNetworkOnly {
		t.Fatalf("custom api prefix not honored: %s", got)
	}
	if got := Classify(scope, assetRequest("/api/vendas")); got != StrategyCacheFirst {
		t.Fatalf("default prefix should not apply: %s", got)
	}
}

func TestRegistryNames(t *testing.T) {
	registry := NewRegistry("mireapp", "v1")
	if registry.Precache != "mireapp-v1" || registry.Runtime != "mireapp-runtime-v1" {
		t.Fatalf("unexpected registry: %+v", registry)
	}
	if !registry.IsCurrent("mireapp-v1") || !registry.IsCurrent("mireapp-runtime-v1") {
		t.Fatalf("current names must be recognized")
	}
	if registry.IsCurrent("mireapp-v0") || registry.IsCurrent("mireapp-runtime-v0") {
		t.Fatalf("old names must not be current")
	}
}

func TestScopeNormalizeDefaults(t *testing.T) {
	scope := Scope{Origin: "Dashboard.Local:443"}.Normalize()
	if scope.Origin != testOrigin {
		t.Fatalf("origin not normalized: %s", scope.Origin)
	}
	if scope.APIPrefix != DefaultAPIPrefix || scope.OfflineMessage != DefaultOfflineMessage {
		t.Fatalf("defaults not applied: %+v", scope)
	}
	if len(scope.Manifest) != 4 || scope.Manifest[0] != "/" {
		t.Fatalf("default manifest mismatch: %v", scope.Manifest)
	}
}
