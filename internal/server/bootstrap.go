package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
	"github.com/mireapp/offline-proxy/internal/logging"
	"github.com/mireapp/offline-proxy/internal/worker"
)

// NetworkFactory 为每个 Scope 构造访问上游的 Network。
type NetworkFactory func(route *ScopeRoute) worker.Network

// StartScopes 为每个 Scope 打开缓存存储、创建 Controller 并尝试安装当前代际。
// 安装失败只记录日志：已有代际继续服务，没有代际时请求直接转发。
func StartScopes(ctx context.Context, registry *ScopeRegistry, provider cachestorage.Provider, newNetwork NetworkFactory, logger *logrus.Logger) error {
	if registry == nil || provider == nil || newNetwork == nil || logger == nil {
		return errors.New("registry, provider, network factory and logger are required")
	}
	for _, route := range registry.List() {
		backend, err := provider.Backend(route.Config.Name)
		if err != nil {
			return fmt.Errorf("scope %s storage: %w", route.Config.Name, err)
		}
		ctrl, err := worker.NewController(worker.ControllerOptions{
			Scope:   route.Scope,
			Storage: cachestorage.New(backend, route.Scope.Origin),
			Network: newNetwork(route),
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("scope %s controller: %w", route.Config.Name, err)
		}
		if err := registry.Bind(route.Config.Name, ctrl); err != nil {
			return err
		}

		fields := logging.LifecycleFields("scope_start", route.Config.Name, route.Scope.Registry.Version)
		if err := ctrl.Start(ctx); err != nil {
			logger.WithError(err).WithFields(fields).Warn("scope_start_degraded")
			continue
		}
		logger.WithFields(fields).Info("scope_started")
	}
	return nil
}

// RunUpdates 按 interval 周期性检查每个 Scope 的代际更新，阻塞直到 ctx 结束。
func RunUpdates(ctx context.Context, registry *ScopeRegistry, interval time.Duration) {
	if interval <= 0 || registry == nil {
		return
	}
	var wg sync.WaitGroup
	for _, route := range registry.List() {
		if route.Controller == nil {
			continue
		}
		ctrl := route.Controller
		wg.Go(func() { ctrl.Run(ctx, interval) })
	}
	wg.Wait()
}
