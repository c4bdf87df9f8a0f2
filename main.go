package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/thumb-hub/thumb-hub/internal/cache"
	"github.com/thumb-hub/thumb-hub/internal/config"
	"github.com/thumb-hub/thumb-hub/internal/logging"
	"github.com/thumb-hub/thumb-hub/internal/metrics"
	"github.com/thumb-hub/thumb-hub/internal/server"
	"github.com/thumb-hub/thumb-hub/internal/server/routes"
	"github.com/thumb-hub/thumb-hub/internal/source"
	"github.com/thumb-hub/thumb-hub/internal/thumbnail"
	"github.com/thumb-hub/thumb-hub/internal/transform"
	"github.com/thumb-hub/thumb-hub/internal/version"
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
		fields["source"] = cfg.Global.SourceLocation()
		fields["storage"] = cfg.Global.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := buildService(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["source"] = cfg.Global.SourceLocation()
	fields["storage"] = cfg.Global.StoragePath
	fields["index"] = cfg.Global.IndexPath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, svc.app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("thumb-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 THUMB_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("THUMB_HUB_CONFIG")
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

// service 持有一次启动构建出的 Fiber app 与需要关闭的资源。
type service struct {
	app   *fiber.App
	index *cache.Index
}

func (s *service) Close() {
	if s.index != nil {
		_ = s.index.Close()
	}
}

// buildService 按 “配置 → 原图来源 → 缩放器 → 磁盘缓存与索引 → 指标 → Manager → Fiber” 顺序组装，
// 所有请求共享同一份缓存与 singleflight 实例。
func buildService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	global := cfg.Global

	src, err := openSource(ctx, global)
	if err != nil {
		return nil, fmt.Errorf("原图来源: %w", err)
	}

	transformer := transform.NewLimited(
		transform.NewImaging(global.JPEGQuality),
		global.TransformRate,
		global.TransformBurst,
	)

	store, err := cache.NewStore(global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("缓存目录: %w", err)
	}

	index, err := cache.OpenIndex(ctx, global.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("缓存索引: %w", err)
	}

	tracker := metrics.NewTracker(0.01)
	manager, err := thumbnail.NewManager(thumbnail.Options{
		Source:      src,
		Transformer: transformer,
		Store:       store,
		Index:       index,
		Policy: cache.NewPolicy(
			global.CacheTTL.DurationValue(),
			global.VerifyChecksum,
			global.MaxCacheSize,
		),
		StorageDir: global.StoragePath,
		Logger:     logger,
		Tracker:    tracker,
	})
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Validator:  thumbnail.NewValidator(src, logger, tracker),
		Images:     manager,
		PublicPath: global.PublicPath,
		Mounts:     []server.Mount{routes.Diagnostics(tracker, manager)},
	})
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	return &service{app: app, index: index}, nil
}

func openSource(ctx context.Context, global config.GlobalConfig) (source.Store, error) {
	if global.UsesS3() {
		return source.NewS3Store(ctx, source.S3Options{
			Bucket:   global.S3Bucket,
			Prefix:   global.S3Prefix,
			Region:   global.S3Region,
			Endpoint: global.S3Endpoint,
			Timeout:  global.SourceTimeout.DurationValue(),
		})
	}
	return source.NewFSStore(global.SourcePath)
}

func startHTTPServer(cfg *config.Config, app *fiber.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
