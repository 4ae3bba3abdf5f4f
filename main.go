package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
	"github.com/mireapp/offline-proxy/internal/config"
	"github.com/mireapp/offline-proxy/internal/logging"
	"github.com/mireapp/offline-proxy/internal/proxy"
	"github.com/mireapp/offline-proxy/internal/server"
	"github.com/mireapp/offline-proxy/internal/server/routes"
	"github.com/mireapp/offline-proxy/internal/telemetry"
	"github.com/mireapp/offline-proxy/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["scopes"] = len(cfg.Scopes)
		fields["credentials"] = config.CredentialModes(cfg.Scopes)
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	env, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintf(stdErr, "读取环境变量失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Settings{
		Enabled:        env.OTelEnabled,
		Endpoint:       env.OTelEndpoint,
		ServiceName:    "offline-proxy",
		ServiceVersion: version.Version,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 tracing 失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing_shutdown_failed")
		}
	}()

	registry, err := server.NewScopeRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Scope 注册表失败: %v\n", err)
		return 1
	}

	// CLI 启动遵循“配置 → ScopeRegistry → 缓存存储 → worker 代际 → Fiber server”顺序，
	// 首次安装在监听前完成，第一个请求就能命中 precache。
	provider, err := cachestorage.OpenProvider(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer provider.Close()

	networks := proxy.NewNetworks(cfg)
	if err := server.StartScopes(ctx, registry, provider, networks.For, logger); err != nil {
		fmt.Fprintf(stdErr, "启动 Scope 失败: %v\n", err)
		return 1
	}

	forwarder := proxy.NewForwarder(proxy.NewHandler(logger, networks.For), logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["scopes"] = len(cfg.Scopes)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = config.CredentialModes(cfg.Scopes)
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	go server.RunUpdates(ctx, registry, cfg.Global.UpdateInterval.DurationValue())

	if err := startHTTPServer(ctx, cfg, registry, forwarder, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_PROXY_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	env, err := config.ParseEnv()
	if err != nil {
		return cliOptions{}, err
	}
	path := env.ConfigPath
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, registry *server.ScopeRegistry, proxyHandler server.ProxyHandler, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: port,
		Diagnostics: func(app *fiber.App) {
			routes.RegisterScopeRoutes(app, registry, logger)
		},
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("shutdown_failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
