package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newInstalledDispatcher(t *testing.T) (*Dispatcher, *fakeNetwork) {
	t.Helper()
	network := newFakeNetwork()
	storage := newTestStorage()
	scope := testScope("v1")
	if err := NewInstaller(storage, network, testLogger()).Install(context.Background(), scope); err != nil {
		t.Fatalf("install error: %v", err)
	}
	return NewDispatcher(scope, storage, network, testLogger()), network
}

func TestDispatchAPIOfflineReturnsJSON503(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)
	network.setOffline(true)

	result := dispatcher.Dispatch(context.Background(), assetRequest("/api/vendas"))
	if result.Strategy != StrategyNetworkOnly || result.Source != SourceOffline {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Response.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", result.Response.StatusCode)
	}
	if ct := result.Response.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type mismatch: %s", ct)
	}
	if body := readBody(t, result.Response); body != `{"error":"Offline - API não disponível"}` {
		t.Fatalf("offline body mismatch: %s", body)
	}
}

func TestDispatchAPIOnlineIsNeverCached(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)
	before := cacheNames(t, dispatcher.storage)

	for i := 0; i < 2; i++ {
		result := dispatcher.Dispatch(context.Background(), assetRequest("/api/vendas"))
		if result.Source != SourceNetwork || readBody(t, result.Response) != `{"total":10}` {
			t.Fatalf("api response should be returned verbatim: %+v", result)
		}
	}
	if calls := network.callsFor("/api/vendas"); calls != 2 {
		t.Fatalf("every api call must hit the network, got %d", calls)
	}
	if after := cacheNames(t, dispatcher.storage); len(after) != len(before) {
		t.Fatalf("api call created caches: %v", after)
	}
	network.setOffline(true)
	result := dispatcher.Dispatch(context.Background(), assetRequest("/api/vendas"))
	if result.Source != SourceOffline {
		t.Fatalf("api must not be served from cache, got %s", result.Source)
	}
}

func TestDispatchCrossOriginIsUntouched(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)
	calls := network.totalCalls()

	req := httptest.NewRequest(http.MethodGet, "https://fonts.example.com/roboto.woff2", nil)
	result := dispatcher.Dispatch(context.Background(), req)
	if result.Handled() || result.Strategy != StrategyPassthrough {
		t.Fatalf("cross-origin request must not be handled: %+v", result)
	}
	if network.totalCalls() != calls {
		t.Fatalf("passthrough must not fetch through the worker")
	}
	for _, name := range cacheNames(t, dispatcher.storage) {
		cache, _ := dispatcher.storage.Open(context.Background(), name)
		keys, _ := cache.Keys(context.Background())
		for _, key := range keys {
			if key == "/roboto.woff2" {
				t.Fatalf("cross-origin entry stored in %s", name)
			}
		}
	}
}

func TestDispatchCachedAssetSkipsNetwork(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)
	calls := network.totalCalls()

	result := dispatcher.Dispatch(context.Background(), assetRequest("/manifest.json"))
	if result.Source != SourceCache {
		t.Fatalf("expected cache hit, got %+v", result)
	}
	if body := readBody(t, result.Response); body != `{"name":"Mire"}` {
		t.Fatalf("precached body mismatch: %s", body)
	}
	if network.totalCalls() != calls {
		t.Fatalf("cache hit must not touch the network")
	}
}

func TestDispatchCacheFirstStoresBasicOK(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)

	first := dispatcher.Dispatch(context.Background(), assetRequest("/assets/app.js"))
	if first.Source != SourceNetwork || readBody(t, first.Response) != "console.log(1)" {
		t.Fatalf("first request should come from network: %+v", first)
	}
	network.setOffline(true)
	second := dispatcher.Dispatch(context.Background(), assetRequest("/assets/app.js"))
	if second.Source != SourceCache || readBody(t, second.Response) != "console.log(1)" {
		t.Fatalf("second request should come from runtime cache: %+v", second)
	}
	if calls := network.callsFor("/assets/app.js"); calls != 1 {
		t.Fatalf("expected a single network fetch, got %d", calls)
	}
}

func TestDispatchCacheFirstSkipsNonCacheable(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)

	for _, path := range []string{"/assets/missing.js", "/assets/redirected.js"} {
		result := dispatcher.Dispatch(context.Background(), assetRequest(path))
		if result.Source != SourceNetwork {
			t.Fatalf("%s: expected network response, got %+v", path, result)
		}
		readBody(t, result.Response)
	}
	network.setOffline(true)
	for _, path := range []string{"/assets/missing.js", "/assets/redirected.js"} {
		result := dispatcher.Dispatch(context.Background(), assetRequest(path))
		if result.Handled() {
			t.Fatalf("%s must not have been cached", path)
		}
	}
}

func TestDispatchCacheFirstOfflineMiss(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)
	network.setOffline(true)
	result := dispatcher.Dispatch(context.Background(), assetRequest("/assets/never-seen.css"))
	if result.Handled() || result.Source != SourceNone || result.Strategy != StrategyCacheFirst {
		t.Fatalf("offline miss must yield no response: %+v", result)
	}
}

func TestDispatchColdOfflineNavigation(t *testing.T) {
	network := newFakeNetwork()
	network.setOffline(true)
	dispatcher := NewDispatcher(testScope("v1"), newTestStorage(), network, testLogger())

	result := dispatcher.Dispatch(context.Background(), navigationRequest("/reports"))
	if result.Handled() || result.Strategy != StrategyNetworkFirst {
		t.Fatalf("cold offline navigation must yield no response: %+v", result)
	}
}

func TestDispatchWarmOfflineNavigation(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)

	online := dispatcher.Dispatch(context.Background(), navigationRequest("/reports"))
	if online.Source != SourceNetwork {
		t.Fatalf("online navigation should use network: %+v", online)
	}
	onlineBody := readBody(t, online.Response)

	network.setOffline(true)
	offline := dispatcher.Dispatch(context.Background(), navigationRequest("/reports"))
	if offline.Source != SourceCache {
		t.Fatalf("offline navigation should use runtime cache: %+v", offline)
	}
	if offline.Response.StatusCode != http.StatusOK {
		t.Fatalf("status mismatch: %d", offline.Response.StatusCode)
	}
	if body := readBody(t, offline.Response); body != onlineBody {
		t.Fatalf("cached navigation differs: %q vs %q", body, onlineBody)
	}
}

func TestDispatchOfflineNavigationFallsBackToRoot(t *testing.T) {
	dispatcher, network := newInstalledDispatcher(t)
	network.setOffline(true)

	result := dispatcher.Dispatch(context.Background(), navigationRequest("/estoque"))
	if result.Source != SourceCache {
		t.Fatalf("expected root fallback, got %+v", result)
	}
	if body := readBody(t, result.Response); body != "<html>root</html>" {
		t.Fatalf("fallback body mismatch: %s", body)
	}
}

func TestDispatchRetiredDispatcherDoesNotWrite(t *testing.T) {
	dispatcher, _ := newInstalledDispatcher(t)
	dispatcher.retire()

	result := dispatcher.Dispatch(context.Background(), assetRequest("/assets/app.js"))
	if result.Source != SourceNetwork {
		t.Fatalf("retired dispatcher should still serve: %+v", result)
	}
	if has, _ := dispatcher.storage.Has(context.Background(), dispatcher.scope.Registry.Runtime); has {
		t.Fatalf("retired dispatcher must not create runtime cache")
	}
}

var errBodyCut = errors.New("connection reset mid-body")

// truncatedBody 先返回部分正文，随后报错，模拟传输中断。
type truncatedBody struct{ sent bool }

func (b *truncatedBody) Read(p []byte) (int, error) {
	if b.sent {
		return 0, errBodyCut
	}
	b.sent = true
	return copy(p, "partial"), nil
}

func (b *truncatedBody) Close() error { return nil }

func truncatingNetwork(base Network) Network {
	return NetworkFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		resp, err := base.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		resp.Body = &truncatedBody{}
		return resp, nil
	})
}

func TestDispatchBrokenBodyIsTreatedAsNetworkFailure(t *testing.T) {
	installed, network := newInstalledDispatcher(t)
	dispatcher := NewDispatcher(installed.scope, installed.storage, truncatingNetwork(network), testLogger())

	asset := dispatcher.Dispatch(context.Background(), assetRequest("/assets/app.js"))
	if asset.Strategy != StrategyCacheFirst || asset.Handled() {
		t.Fatalf("asset with a broken body must not be served: %+v", asset)
	}

	nav := dispatcher.Dispatch(context.Background(), navigationRequest("/reports"))
	if nav.Source != SourceCache {
		t.Fatalf("navigation should fall back to the cached root: %+v", nav)
	}
	if body := readBody(t, nav.Response); body != "<html>root</html>" {
		t.Fatalf("unexpected fallback body: %s", body)
	}

	has, err := dispatcher.storage.Has(context.Background(), installed.scope.Registry.Runtime)
	if err != nil {
		t.Fatalf("has error: %v", err)
	}
	if has {
		cache, _ := dispatcher.storage.Open(context.Background(), installed.scope.Registry.Runtime)
		if keys, _ := cache.Keys(context.Background()); len(keys) != 0 {
			t.Fatalf("broken responses must not be cached: %v", keys)
		}
	}
}
