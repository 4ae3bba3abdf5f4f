package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// CollectReport 记录一次回收的结果。
type CollectReport struct {
	Kept    []string
	Deleted []string
	Failed  []string
}

// Collector 在新代际激活时删除所有非当前代际的缓存。
type Collector struct {
	storage *cachestorage.Storage
	logger  *logrus.Logger
}

// NewCollector 构建回收器。
func NewCollector(storage *cachestorage.Storage, logger *logrus.Logger) *Collector {
	return &Collector{storage: storage, logger: logger}
}

// Collect 逐个删除不属于 registry 的缓存。单个删除失败只记录并继续，
// 返回的错误汇总所有失败项，调用方不应因此中止激活。
func (c *Collector) Collect(ctx context.Context, registry Registry) (CollectReport, error) {
	var report CollectReport
	names, err := c.storage.Keys(ctx)
	if err != nil {
		return report, fmt.Errorf("list caches: %w", err)
	}
	var errs []error
	for _, name := range names {
		if registry.IsCurrent(name) {
			report.Kept = append(report.Kept, name)
			continue
		}
		fields := logrus.Fields{"action": "collect", "cache": name, "version": registry.Version}
		if _, err := c.storage.Delete(ctx, name); err != nil {
			report.Failed = append(report.Failed, name)
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
			c.logger.WithError(err).WithFields(fields).Warn("cache_delete_failed")
			continue
		}
		report.Deleted = append(report.Deleted, name)
		c.logger.WithFields(fields).Info("cache_deleted")
	}
	return report, errors.Join(errs...)
}
