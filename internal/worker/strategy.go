package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// passthrough 不提供响应，也不触碰缓存。
func (d *Dispatcher) passthrough(_ context.Context, _ *http.Request) Result {
	return Result{Source: SourceNone}
}

// networkOnly 用于 API：成功时原样返回（从不缓存），失败时合成 503 JSON。
func (d *Dispatcher) networkOnly(ctx context.Context, req *http.Request) Result {
	resp, err := d.network.Fetch(ctx, req)
	if err == nil {
		return Result{Response: resp, Source: SourceNetwork}
	}
	d.logger.WithError(err).WithFields(d.fields(req, StrategyNetworkOnly)).Warn("api_offline")
	return Result{Response: offlineResponse(req, d.scope.OfflineMessage), Source: SourceOffline}
}

// networkFirst 用于导航：网络成功时写入 runtime 缓存；失败时依次回退到
// runtime 中的同一请求、任意缓存中的文档根，都没有时不提供响应。
func (d *Dispatcher) networkFirst(ctx context.Context, req *http.Request) Result {
	resp, err := d.network.Fetch(ctx, req)
	if err == nil {
		err = d.storeRuntime(ctx, req, resp, StrategyNetworkFirst)
		if err == nil {
			return Result{Response: resp, Source: SourceNetwork}
		}
	}
	fields := d.fields(req, StrategyNetworkFirst)
	d.logger.WithError(err).WithFields(fields).Warn("navigation_network_failed")

	if cached := d.matchRuntime(ctx, req); cached != nil {
		return Result{Response: cached, Source: SourceCache}
	}

	root, rootErr := d.scope.NewRequest(ctx, "/")
	if rootErr == nil {
		cached, matchErr := d.storage.Match(ctx, root)
		if matchErr == nil {
			return Result{Response: cached, Source: SourceCache}
		}
		if !errors.Is(matchErr, cachestorage.ErrNotFound) {
			d.logger.WithError(matchErr).WithFields(fields).Warn("cache_match_failed")
		}
	}
	d.logger.WithFields(fields).Info("navigation_unavailable_offline")
	return Result{Source: SourceNone}
}

// cacheFirst 用于静态资源：任意缓存命中直接返回且不再验证；未命中时回源，
// 仅 200 且 basic 的响应写入 runtime 缓存，其它响应原样返回。
func (d *Dispatcher) cacheFirst(ctx context.Context, req *http.Request) Result {
	fields := d.fields(req, StrategyCacheFirst)
	cached, err := d.storage.Match(ctx, req)
	switch {
	case err == nil:
		return Result{Response: cached, Source: SourceCache}
	case errors.Is(err, cachestorage.ErrNotFound):
	default:
		d.logger.WithError(err).WithFields(fields).Warn("cache_match_failed")
	}

	resp, err := d.network.Fetch(ctx, req)
	if err != nil {
		d.logger.WithError(err).WithFields(fields).Warn("asset_network_failed")
		return Result{Source: SourceNone}
	}
	if resp.StatusCode == http.StatusOK && ClassifyResponse(d.scope, resp) == ResponseBasic {
		if err := d.storeRuntime(ctx, req, resp, StrategyCacheFirst); err != nil {
			d.logger.WithError(err).WithFields(fields).Warn("asset_network_failed")
			return Result{Source: SourceNone}
		}
	}
	return Result{Response: resp, Source: SourceNetwork}
}

func (d *Dispatcher) matchRuntime(ctx context.Context, req *http.Request) *http.Response {
	has, err := d.storage.Has(ctx, d.scope.Registry.Runtime)
	if err != nil || !has {
		return nil
	}
	cache, err := d.storage.Open(ctx, d.scope.Registry.Runtime)
	if err != nil {
		return nil
	}
	cached, err := cache.Match(ctx, req)
	if err != nil {
		if !errors.Is(err, cachestorage.ErrNotFound) {
			d.logger.WithError(err).WithFields(d.fields(req, StrategyNetworkFirst)).Warn("cache_match_failed")
		}
		return nil
	}
	return cached
}

// storeRuntime 将响应副本写入 runtime 缓存；写入失败只记录日志。
// 仅当正文读取中途失败（响应已损坏）时返回错误，调用方按网络失败处理。
func (d *Dispatcher) storeRuntime(ctx context.Context, req *http.Request, resp *http.Response, strategy Strategy) error {
	if d.retired.Load() || req.Method != http.MethodGet {
		return nil
	}
	fields := d.fields(req, strategy)
	cache, err := d.storage.Open(ctx, d.scope.Registry.Runtime)
	if err == nil {
		err = cache.Put(ctx, req, resp)
	}
	switch {
	case err == nil:
		d.logger.WithFields(fields).Debug("runtime_cache_stored")
	case errors.Is(err, cachestorage.ErrPartialResponse), errors.Is(err, cachestorage.ErrCrossOrigin):
		d.logger.WithFields(fields).Debug("runtime_cache_skipped")
	case errors.Is(err, cachestorage.ErrBodyRead):
		return err
	default:
		d.logger.WithError(err).WithFields(fields).Warn("runtime_cache_put_failed")
	}
	return nil
}
