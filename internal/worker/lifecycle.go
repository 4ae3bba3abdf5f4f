package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// State 是代际生命周期状态。
type State string

const (
	StateNone       State = "none"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// registrationKey 是存储元数据中记录激活代际的键。
const registrationKey = "registration"

var (
	// ErrNothingWaiting 表示没有等待中的代际可以跳过等待。
	ErrNothingWaiting = errors.New("no waiting generation")
	// ErrUpdateInProgress 表示另一次安装或激活正在进行。
	ErrUpdateInProgress = errors.New("generation update in progress")
)

type generation struct {
	scope       Scope
	dispatcher  *Dispatcher
	state       State
	installedAt time.Time
	activatedAt time.Time
}

// ControllerOptions 描述 Controller 的依赖。
type ControllerOptions struct {
	Scope   Scope
	Storage *cachestorage.Storage
	Network Network
	Logger  *logrus.Logger
}

// Controller 管理单个 scope 的代际生命周期，并把请求交给激活代际的 Dispatcher。
type Controller struct {
	scope     Scope
	storage   *cachestorage.Storage
	network   Network
	logger    *logrus.Logger
	installer *Installer
	collector *Collector
	now       func() time.Time

	// updateMu 串行化安装与激活。
	updateMu sync.Mutex

	mu          sync.RWMutex
	active      *generation
	waiting     *generation
	installing  *generation
	lastErr     error
	lastCollect CollectReport
}

// NewController 校验依赖并构建 Controller。
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	scope := opts.Scope.Normalize()
	if scope.Registry.Precache == "" || scope.Registry.Runtime == "" {
		return nil, errors.New("scope registry is required")
	}
	return &Controller{
		scope:     scope,
		storage:   opts.Storage,
		network:   opts.Network,
		logger:    logger,
		installer: NewInstaller(opts.Storage, opts.Network, logger),
		collector: NewCollector(opts.Storage, logger),
		now:       time.Now,
	}, nil
}

// Scope 返回配置的 scope（已规范化）。
func (c *Controller) Scope() Scope {
	return c.scope
}

// Storage 返回 scope 的缓存存储，供诊断接口使用。
func (c *Controller) Storage() *cachestorage.Storage {
	return c.storage
}

// Start 恢复上次激活的代际后尝试安装当前配置的代际。
// 版本未变化时直接复用已有缓存；安装失败时返回错误，已恢复的代际继续服务。
func (c *Controller) Start(ctx context.Context) error {
	if err := c.restore(ctx); err != nil {
		c.logger.WithError(err).WithFields(c.fields("restore")).Warn("generation_restore_failed")
	}
	return c.Update(ctx)
}

func (c *Controller) restore(ctx context.Context) error {
	data, err := c.storage.LoadMeta(ctx, registrationKey)
	if errors.Is(err, cachestorage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var registry Registry
	if err := json.Unmarshal(data, &registry); err != nil {
		return fmt.Errorf("decode registration: %w", err)
	}
	ok, err := c.storage.Has(ctx, registry.Precache)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("precache %s missing", registry.Precache)
	}

	scope := c.scope
	scope.Registry = registry
	gen := c.newGeneration(scope)
	gen.state = StateActivated
	gen.activatedAt = c.now()

	c.mu.Lock()
	c.active = gen
	c.mu.Unlock()
	fields := c.fields("restore")
	fields["version"] = registry.Version
	c.logger.WithFields(fields).Info("generation_restored")
	return nil
}

// Update 安装当前配置的代际。该代际已激活或已在等待时不做任何事。
// 安装成功后，SkipWaiting 为真或没有激活代际时立即激活，否则进入等待。
func (c *Controller) Update(ctx context.Context) error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.RLock()
	active, waiting := c.active, c.waiting
	c.mu.RUnlock()
	if active != nil && active.scope.Registry == c.scope.Registry {
		return nil
	}
	if waiting != nil && waiting.scope.Registry == c.scope.Registry {
		return nil
	}

	gen := c.newGeneration(c.scope)
	gen.state = StateInstalling
	c.mu.Lock()
	c.installing = gen
	c.mu.Unlock()

	fields := c.fields("install")
	c.logger.WithFields(fields).Info("generation_installing")
	err := c.installer.Install(ctx, gen.scope)

	c.mu.Lock()
	c.installing = nil
	if err != nil {
		gen.state = StateRedundant
		c.lastErr = err
		c.mu.Unlock()
		c.logger.WithError(err).WithFields(fields).Warn("generation_install_failed")
		return err
	}
	gen.state = StateInstalled
	gen.installedAt = c.now()
	c.waiting = gen
	c.lastErr = nil
	hasActive := c.active != nil
	c.mu.Unlock()
	c.logger.WithFields(fields).Info("generation_installed")

	if gen.scope.SkipWaiting || !hasActive {
		c.activate(ctx)
		return nil
	}
	c.logger.WithFields(c.fields("wait")).Info("generation_waiting")
	return nil
}

// SkipWaiting 立即激活等待中的代际。安装期间不排队等待：UpstreamTimeout 为 0 时
// 安装可能无限期挂起，此时直接返回 ErrUpdateInProgress。
func (c *Controller) SkipWaiting(ctx context.Context) error {
	if !c.updateMu.TryLock() {
		return ErrUpdateInProgress
	}
	defer c.updateMu.Unlock()

	c.mu.RLock()
	waiting := c.waiting
	c.mu.RUnlock()
	if waiting == nil {
		return ErrNothingWaiting
	}
	c.logger.WithFields(c.fields("skip_waiting")).Info("generation_skip_waiting")
	c.activate(ctx)
	return nil
}

// activate 需在持有 updateMu 时调用。旧代际先停止写缓存，再回收旧缓存，
// 最后切换激活代际，后续请求全部由新代际处理。
func (c *Controller) activate(ctx context.Context) {
	c.mu.Lock()
	gen, old := c.waiting, c.active
	gen.state = StateActivating
	c.mu.Unlock()
	if old != nil {
		old.dispatcher.retire()
	}

	fields := c.fields("activate")
	fields["version"] = gen.scope.Registry.Version
	report, err := c.collector.Collect(ctx, gen.scope.Registry)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("generation_collect_incomplete")
	}
	if err := c.persist(ctx, gen.scope.Registry); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("registration_persist_failed")
	}

	c.mu.Lock()
	gen.state = StateActivated
	gen.activatedAt = c.now()
	c.active = gen
	c.waiting = nil
	c.lastCollect = report
	if old != nil {
		old.state = StateRedundant
	}
	c.mu.Unlock()

	c.logger.WithFields(fields).Info("generation_activated")
	claim := c.fields("claim")
	claim["version"] = gen.scope.Registry.Version
	c.logger.WithFields(claim).Info("clients_claimed")
}

func (c *Controller) persist(ctx context.Context, registry Registry) error {
	data, err := json.Marshal(registry)
	if err != nil {
		return err
	}
	return c.storage.SaveMeta(ctx, registrationKey, data)
}

// Serve 由激活代际处理请求；尚无激活代际时不拦截，交由调用方直接转发。
func (c *Controller) Serve(ctx context.Context, req *http.Request) Result {
	c.mu.RLock()
	gen := c.active
	c.mu.RUnlock()
	if gen == nil {
		return Result{Strategy: StrategyPassthrough, Source: SourceNone}
	}
	return gen.dispatcher.Dispatch(ctx, req)
}

// Run 按 interval 周期性调用 Update，直到 ctx 结束。interval 非正时立即返回。
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Update(ctx); err != nil && ctx.Err() == nil {
				c.logger.WithError(err).WithFields(c.fields("update")).Debug("periodic_update_failed")
			}
		}
	}
}

// GenerationStatus 描述单个代际。
type GenerationStatus struct {
	Version     string    `json:"version"`
	Precache    string    `json:"precache"`
	Runtime     string    `json:"runtime"`
	State       State     `json:"state"`
	InstalledAt time.Time `json:"installedAt,omitempty"`
	ActivatedAt time.Time `json:"activatedAt,omitempty"`
}

// Status 是 Controller 的快照。
type Status struct {
	Scope       string            `json:"scope"`
	Origin      string            `json:"origin"`
	State       State             `json:"state"`
	Active      *GenerationStatus `json:"active,omitempty"`
	Waiting     *GenerationStatus `json:"waiting,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	LastCollect CollectReport     `json:"lastCollect"`
}

// Status 返回当前生命周期快照。
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := Status{
		Scope:       c.scope.Name,
		Origin:      c.scope.Origin,
		State:       StateNone,
		Active:      snapshot(c.active),
		Waiting:     snapshot(c.waiting),
		LastCollect: c.lastCollect,
	}
	switch {
	case c.installing != nil:
		status.State = c.installing.state
	case c.waiting != nil:
		status.State = c.waiting.state
	case c.active != nil:
		status.State = c.active.state
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

func snapshot(gen *generation) *GenerationStatus {
	if gen == nil {
		return nil
	}
	return &GenerationStatus{
		Version:     gen.scope.Registry.Version,
		Precache:    gen.scope.Registry.Precache,
		Runtime:     gen.scope.Registry.Runtime,
		State:       gen.state,
		InstalledAt: gen.installedAt,
		ActivatedAt: gen.activatedAt,
	}
}

func (c *Controller) newGeneration(scope Scope) *generation {
	return &generation{
		scope:      scope,
		dispatcher: NewDispatcher(scope, c.storage, c.network, c.logger),
	}
}

func (c *Controller) fields(action string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"scope":   c.scope.Name,
		"version": c.scope.Registry.Version,
	}
}
