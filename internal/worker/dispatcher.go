package worker

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

const tracerName = "github.com/mireapp/offline-proxy/internal/worker"

// Source 标记响应来自哪里。
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
	SourceNone    Source = "none"
)

// Result 是一次分发的结论。Response 为 nil 表示 worker 不提供响应：
// 跨域请求由调用方原样放行，导航/资源请求则交给调用方的离线错误处理。
type Result struct {
	Strategy Strategy
	Response *http.Response
	Source   Source
}

// Handled 表示 worker 是否提供了响应。
func (r Result) Handled() bool {
	return r.Response != nil
}

type strategyFunc func(ctx context.Context, req *http.Request) Result

// Dispatcher 持有分发表（策略 → 处理函数）。除缓存存储外没有跨请求的可变状态。
type Dispatcher struct {
	scope   Scope
	storage *cachestorage.Storage
	network Network
	logger  *logrus.Logger
	tracer  trace.Tracer
	table   map[Strategy]strategyFunc
	retired atomic.Bool
}

// NewDispatcher 构建分发器，scope 应已 Normalize。
func NewDispatcher(scope Scope, storage *cachestorage.Storage, network Network, logger *logrus.Logger) *Dispatcher {
	d := &Dispatcher{
		scope:   scope,
		storage: storage,
		network: network,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
	d.table = map[Strategy]strategyFunc{
		StrategyPassthrough:  d.passthrough,
		StrategyNetworkOnly:  d.networkOnly,
		StrategyNetworkFirst: d.networkFirst,
		StrategyCacheFirst:   d.cacheFirst,
	}
	return d
}

// Dispatch 分类请求并执行对应策略，从不返回错误：所有失败都在策略内部被消化。
func (d *Dispatcher) Dispatch(ctx context.Context, req *http.Request) Result {
	strategy := Classify(d.scope, req)
	ctx, span := d.tracer.Start(ctx, "worker.dispatch", trace.WithAttributes(
		attribute.String("worker.scope", d.scope.Name),
		attribute.String("worker.version", d.scope.Registry.Version),
		attribute.String("worker.strategy", string(strategy)),
		attribute.String("http.request.method", req.Method),
	))
	defer span.End()

	handler, ok := d.table[strategy]
	if !ok {
		span.SetStatus(codes.Error, "strategy not registered")
		return Result{Strategy: strategy, Source: SourceNone}
	}
	result := handler(ctx, req)
	result.Strategy = strategy
	span.SetAttributes(
		attribute.String("worker.source", string(result.Source)),
		attribute.Bool("worker.handled", result.Handled()),
	)
	return result
}

// retire 标记该代际已被替换：仍在处理中的请求不再写缓存，避免复活已回收的缓存。
func (d *Dispatcher) retire() {
	d.retired.Store(true)
}

func (d *Dispatcher) fields(req *http.Request, strategy Strategy) logrus.Fields {
	fields := logrus.Fields{
		"scope":    d.scope.Name,
		"version":  d.scope.Registry.Version,
		"strategy": string(strategy),
	}
	if req != nil && req.URL != nil {
		fields["path"] = cachestorage.RequestKey(req.URL)
		fields["method"] = req.Method
	}
	return fields
}
