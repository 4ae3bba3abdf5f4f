package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// ErrInstallFailed 表示预缓存失败，代际不会进入 installed 状态。
var ErrInstallFailed = errors.New("precache install failed")

// Installer 负责代际安装：全量抓取清单并原子写入 precache 缓存。
type Installer struct {
	storage *cachestorage.Storage
	network Network
	logger  *logrus.Logger
}

// NewInstaller 构建安装器。
func NewInstaller(storage *cachestorage.Storage, network Network, logger *logrus.Logger) *Installer {
	return &Installer{storage: storage, network: network, logger: logger}
}

// Install 并发抓取清单中的每个 URL，要求全部 2xx 后一次性写入。
// 任何一个失败都不会写入条目，返回的错误包装 ErrInstallFailed。
func (i *Installer) Install(ctx context.Context, scope Scope) error {
	fields := logrus.Fields{
		"action":   "install",
		"scope":    scope.Name,
		"version":  scope.Registry.Version,
		"precache": scope.Registry.Precache,
	}
	cache, err := i.storage.Open(ctx, scope.Registry.Precache)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	pairs := make([]cachestorage.Pair, len(scope.Manifest))
	group, groupCtx := errgroup.WithContext(ctx)
	for idx, path := range scope.Manifest {
		group.Go(func() error {
			pair, err := i.fetch(groupCtx, scope, path)
			if err != nil {
				return err
			}
			pairs[idx] = pair
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		i.logger.WithError(err).WithFields(fields).Warn("precache_fetch_failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if err := cache.PutAll(ctx, pairs); err != nil {
		i.logger.WithError(err).WithFields(fields).Warn("precache_store_failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	fields["entries"] = len(pairs)
	i.logger.WithFields(fields).Info("precache_installed")
	return nil
}

func (i *Installer) fetch(ctx context.Context, scope Scope, path string) (cachestorage.Pair, error) {
	req, err := scope.NewRequest(ctx, path)
	if err != nil {
		return cachestorage.Pair{}, err
	}
	resp, err := i.network.Fetch(ctx, req)
	if err != nil {
		return cachestorage.Pair{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return cachestorage.Pair{}, fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	if _, err := cachestorage.BufferResponse(resp); err != nil {
		return cachestorage.Pair{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	return cachestorage.Pair{Request: req, Response: resp}, nil
}
