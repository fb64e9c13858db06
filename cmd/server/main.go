package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/api"
	"github.com/ioedream/device-comm-server/internal/api/middleware"
	"github.com/ioedream/device-comm-server/internal/app"
	cfgpkg "github.com/ioedream/device-comm-server/internal/config"
	"github.com/ioedream/device-comm-server/internal/directory"
	"github.com/ioedream/device-comm-server/internal/dispatch"
	"github.com/ioedream/device-comm-server/internal/health"
	"github.com/ioedream/device-comm-server/internal/httpserver"
	"github.com/ioedream/device-comm-server/internal/logging"
	"github.com/ioedream/device-comm-server/internal/metrics"
	"github.com/ioedream/device-comm-server/internal/protocol/access"
	"github.com/ioedream/device-comm-server/internal/protocol/attendance"
	"github.com/ioedream/device-comm-server/internal/protocol/biometric"
	"github.com/ioedream/device-comm-server/internal/protocol/codes"
	"github.com/ioedream/device-comm-server/internal/protocol/consume"
	"github.com/ioedream/device-comm-server/internal/storage"
	"github.com/ioedream/device-comm-server/internal/storage/gormrepo"
	redisstorage "github.com/ioedream/device-comm-server/internal/storage/redis"
)

func main() {
	// 1) 加载配置
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	log.Info("server starting",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env))

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)
	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		metricsHandler = metrics.Handler(reg)
	}

	// 4) Redis：队列投递 + 卡号/设备缓存。不可用时降级为进程内实现
	var rdb *redisstorage.Client
	rdb, err = redisstorage.NewClient(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-memory publisher and local-only caches", zap.Error(err))
		rdb = nil
	}

	var publisher dispatch.Publisher
	if rdb != nil {
		publisher = dispatch.NewRedisPublisher(rdb.Client, log)
	} else {
		publisher = dispatch.NewMemoryPublisher()
	}

	// 5) 死信表（pgx）。数据库不可用时死信记录降级关闭
	var dlq *dispatch.DeadLetterStore
	pool := app.ConnectPgxPool(rootCtx, cfg.Database, log)
	if pool != nil {
		defer pool.Close()
		dlq = dispatch.NewDeadLetterStore(pool, log)
		if err := dlq.EnsureSchema(rootCtx); err != nil {
			log.Warn("dead letter schema ensure failed", zap.Error(err))
			dlq = nil
		} else {
			cleaner := dispatch.NewDeadLetterCleaner(dlq,
				cfg.Dispatch.CleanInterval, cfg.Dispatch.DeadLetterRetention, cfg.Dispatch.CleanBatchLimit, log)
			go cleaner.Start(rootCtx)
		}
	}

	dispatcher := dispatch.NewDispatcher(publisher, dlq, appMetrics, log)

	// 6) 设备目录（GORM）。数据库不可用时 deviceID 恒为 0
	var deviceRepo storage.DeviceRepo
	if gdb := app.ConnectGorm(cfg.Database, log); gdb != nil {
		deviceRepo = gormrepo.New(gdb)
	}
	var registryRedis = redisClientOrNil(rdb)
	deviceRegistry := storage.NewDeviceRegistry(deviceRepo, registryRedis, log)

	// 7) 卡号→用户 两级缓存 + 目录服务兜底
	httpDirectory := directory.NewHTTPUserDirectory(
		&http.Client{Timeout: cfg.Directory.Timeout},
		cfg.Directory.BaseURL, log)
	cardResolver := directory.NewCachedCardResolver(httpDirectory, registryRedis, appMetrics, log)
	cardResolver.SetTTLs(cfg.Directory.LocalTTL, cfg.Directory.RedisTTL)

	// 8) 门禁事件码表（可选 YAML 覆盖）
	eventTable := codes.DefaultEventTable()
	if cfg.Codes.AccessEventTable != "" {
		if t, err := codes.LoadEventTable(cfg.Codes.AccessEventTable); err != nil {
			log.Warn("access event table load failed, using built-in table", zap.Error(err))
		} else {
			eventTable = t
		}
	}

	// 9) 协议处理器。门禁状态消息同步回写设备目录
	accessDecoder := access.New(eventTable, dispatcher, appMetrics, log)
	accessDecoder.SetStatusSink(deviceRegistry)
	decoders := api.PushDecoders{
		Access:     accessDecoder,
		Attendance: attendance.New(dispatcher, appMetrics, log),
		Consume:    consume.New(cardResolver, dispatcher, appMetrics, log),
		Biometric:  biometric.New(dispatcher, appMetrics, log),
	}

	// 10) 健康检查聚合：已接入的外部依赖各挂一个检查器
	healthAgg := health.NewAggregator()
	if pool != nil {
		healthAgg.AddChecker(health.NewDatabaseChecker(pool))
	}
	if rdb != nil {
		healthAgg.AddChecker(health.NewRedisChecker(rdb))
	}
	readyFn := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return healthAgg.Ready(ctx)
	}

	// 11) HTTP 服务与推送路由
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, readyFn)
	health.RegisterHTTPRoutes(httpSrv.Engine(), healthAgg)

	pushHandler := api.NewPushHandler(deviceRegistry, appMetrics, log, cfg.Push.ProcessTimeout, cfg.HTTP.MaxBodyBytes)
	var limiter *middleware.RateLimiter
	if cfg.Push.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Push.RateLimit, cfg.Push.RateBurst, appMetrics)
	}
	api.RegisterPushRoutes(httpSrv.Engine(), pushHandler, decoders, limiter, log)
	api.RegisterProtocolInfoRoutes(httpSrv.Engine(), decoders.Handlers())
	api.RegisterDeviceRoutes(httpSrv.Engine(), deviceRepo, log)

	go func() {
		log.Info("http server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()

	// 信号处理，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	if rdb != nil {
		_ = rdb.Close()
	}
}

func redisClientOrNil(c *redisstorage.Client) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client
}
