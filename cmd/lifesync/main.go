package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LifeSync/internal/dispatch"
	"LifeSync/internal/facility"
	"LifeSync/internal/fanout"
	handlers "LifeSync/internal/handler"
	"LifeSync/internal/listeners"
	"LifeSync/internal/models"
	"LifeSync/internal/session"
	"LifeSync/pkg/cache"
	"LifeSync/pkg/config"
	"LifeSync/pkg/grpcx"
	"LifeSync/pkg/i18n"
	"LifeSync/pkg/logger"
	"LifeSync/pkg/metrics"
	"LifeSync/pkg/middleware"
	"LifeSync/pkg/notification"
	"LifeSync/pkg/retry"
	"LifeSync/pkg/scheduler"
	"LifeSync/pkg/search"
	"LifeSync/pkg/sse"
	stores "LifeSync/pkg/storage"
	"LifeSync/pkg/util"
	"LifeSync/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

func main() {
	// 1. 配置与日志
	if err := config.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GlobalConfig
	if _, err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	// 2. 数据库
	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, &models.Facility{}, &models.SosSession{})
	if err != nil {
		logger.Error("init database failed", zap.Error(err))
		os.Exit(1)
	}

	m := metrics.NewMetrics()
	metrics.SetGlobal(m)

	// 3. 医院注册表
	regOpts := []facility.Option{
		facility.WithStore(models.NewFacilityStore(db)),
		facility.WithMetrics(m),
	}
	if cfg.GeoIndexEnabled {
		idx, err := search.New(search.Config{QueryTimeout: 2 * time.Second}, search.BuildGeoMapping())
		if err != nil {
			logger.Warn("geo index disabled", zap.Error(err))
		} else {
			defer idx.Close()
			regOpts = append(regOpts, facility.WithGeoIndex(idx))
		}
	}
	registry := facility.NewRegistry(regOpts...)
	if err := registry.Load(context.Background()); err != nil {
		logger.Error("load facilities failed", zap.Error(err))
		os.Exit(1)
	}
	if cfg.Engine.FacilitySeed != "" {
		if _, err := registry.Seed(cfg.Engine.FacilitySeed); err != nil {
			logger.Warn("apply facility seed failed", zap.Error(err))
		}
	}
	ranker := facility.NewRanker(registry, cfg.Engine.AvgSpeedKmh, cfg.Engine.MaxRadiusKm)

	// 4. 实时通道
	wsHub := websocket.NewHub(websocket.DefaultConfig())
	defer wsHub.Close()
	events := sse.NewHub(30 * time.Second)
	defer events.Close()

	// 5. 调度
	var (
		reserver dispatch.Reserver
		console  *dispatch.ConsoleReserver
	)
	if cfg.Engine.ReservationMode == "auto" {
		reserver = dispatch.AutoReserver{}
	} else {
		console = dispatch.NewConsoleReserver(listeners.ReservationPublisher(events))
		reserver = console
	}
	coordinator := dispatch.NewCoordinator(registry, reserver, cfg.Engine.ReservationTimeout, m)

	// 6. 会话管理
	sessCfg := session.DefaultConfig()
	sessCfg.MatchTimeout = cfg.Engine.MatchTimeout
	sessCfg.ConfirmTimeout = cfg.Engine.ConfirmTimeout
	sessCfg.FixStaleness = cfg.Engine.FixStaleness
	sessCfg.Retention = cfg.Engine.SessionRetention
	sessCfg.Backoff.InitialDelay = cfg.Engine.MatchBackoffInitial
	sessCfg.Backoff.MaxDelay = cfg.Engine.MatchBackoffMax
	sessOpts := []session.Option{
		session.WithStore(models.NewSessionStore(db)),
		session.WithMetrics(m),
	}
	archiveStore, err := stores.NewStore(stores.Config{
		Backend:   cfg.Archive.Backend,
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Bucket:    cfg.Archive.Bucket,
		UseSSL:    cfg.Archive.UseSSL,
	})
	if err != nil {
		logger.Error("init archive store failed", zap.Error(err))
		os.Exit(1)
	}
	if archiveStore != nil {
		sessOpts = append(sessOpts, session.WithArchiver(stores.NewSessionArchiver(archiveStore, "sessions")))
	}
	manager := session.NewManager(sessCfg, ranker, coordinator, registry, sessOpts...)
	defer manager.Close()

	// 7. 通知扇出
	tr, err := i18n.NewI18nSupport(cfg.Notify.DefaultLocale)
	if err != nil {
		logger.Error("init i18n failed", zap.Error(err))
		os.Exit(1)
	}
	router := buildRouter(cfg, wsHub, events)
	fanCfg := fanout.DefaultConfig()
	fanCfg.Workers = cfg.Engine.NotifyWorkers
	fanCfg.Policy = retry.DeliveryPolicy()
	fanCfg.Policy.MaxAttempts = cfg.Engine.NotifyMaxAttempts
	fan := fanout.New(fanCfg, router, manager,
		fanout.WithRenderer(fanout.NewRenderer(tr, func(id string) string {
			if f, err := registry.Get(id); err == nil {
				return f.Name
			}
			return id
		})),
		fanout.WithMetrics(m),
	)
	fan.Start()

	listener := listeners.NewSessionListener(fan, wsHub, events, 0)
	listeners.InitSessionListeners(manager, listener)
	defer listener.Close()

	if n, err := manager.Restore(context.Background()); err != nil {
		logger.Warn("restore sessions failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("restored sessions", zap.Int("count", n))
	}

	// 8. 周期任务
	sched := scheduler.New()
	defer sched.Stop()
	facility.NewHealthMonitor(registry, grpcx.HealthProber{Timeout: 3 * time.Second}, 3*time.Second, cfg.Engine.HeartbeatMaxAge).
		Start(sched, cfg.Engine.ProbeInterval)
	metrics.NewSystemMonitor(m, 15*time.Second).Start(sched)

	cr := scheduler.NewCron(time.UTC)
	if _, err := cr.Add("archive-expired", cfg.Engine.ArchiveSchedule, scheduler.FuncJob(func(ctx context.Context) {
		if _, err := manager.ArchiveExpired(ctx); err != nil {
			logger.Warn("archive expired sessions failed", zap.Error(err))
		}
	})); err != nil {
		logger.Error("invalid archive schedule", zap.String("expr", cfg.Engine.ArchiveSchedule), zap.Error(err))
		os.Exit(1)
	}
	cr.Start()
	defer cr.Stop()

	// 9. 幂等与限流存储
	idem, limitStore := buildCaches(cfg)
	if idem != nil {
		defer idem.Close()
	}
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       "600-M",
		Identifier: "ip",
		PerRouteRates: map[string]string{
			cfg.APIPrefix + "/sos/activate": cfg.ActivateRate,
		},
		SkipPaths:  []string{"/health", cfg.MonitorPrefix},
		AddHeaders: true,
	}, limitStore).WithObserver(m)

	// 10. gRPC 健康服务
	var gs *grpcx.Server
	if cfg.GRPCAddr != "" {
		gs = grpcx.NewServer(grpcx.ServerConfig{Addr: cfg.GRPCAddr, UnaryTimeout: 5 * time.Second})
		gs.SetServing("", true)
		go func() {
			if err := gs.ListenAndServe(); err != nil {
				logger.Warn("grpc server stopped", zap.Error(err))
			}
		}()
	}

	// 11. HTTP
	gin.SetMode(cfg.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handlers.NewHandlers(handlers.Deps{
		DB:            db,
		Registry:      registry,
		Ranker:        ranker,
		Sessions:      manager,
		Console:       console,
		WS:            wsHub,
		Events:        events,
		Metrics:       m,
		I18n:          tr,
		Limiter:       rl,
		Idem:          idem,
		APIPrefix:     cfg.APIPrefix,
		MonitorPrefix: cfg.MonitorPrefix,
		ConsoleSecret: cfg.ConsoleSecret,
	}).Register(engine)

	srv := &http.Server{Addr: cfg.Addr, Handler: engine}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if gs != nil {
		gs.SetServing("", false)
		gs.GracefulStop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := fan.Close(ctx); err != nil {
		logger.Warn("fanout shutdown", zap.Error(err))
	}
}

// buildRouter 市民走应用内推送，其次手机推送；医院走控制台；紧急联系人走短信
func buildRouter(cfg *config.Config, wsHub *websocket.Hub, events *sse.Hub) *notification.Router {
	router := notification.NewRouter()

	citizen := []notification.Sender{websocket.Notifier(wsHub)}
	if cfg.Notify.PushGateway != "" {
		pc := notification.PushConfig{GatewayURL: cfg.Notify.PushGateway}
		citizen = append(citizen, notification.NewPush(pc, notification.NewHTTPPushClient(pc, 10*time.Second)))
	}
	router.Handle(string(models.RecipientCitizen), citizen...)
	router.Handle(string(models.RecipientFacility), sse.Notifier(events), websocket.PrefixedNotifier(wsHub, websocket.FacilityUserPrefix))

	if cfg.Notify.SMSGatewayURL != "" {
		router.Handle(string(models.RecipientContact), notification.NewSMS(
			notification.SMSConfig{GatewayURL: cfg.Notify.SMSGatewayURL, SignName: cfg.Notify.SMSSignName},
			notification.NewHTTPSMSClient(cfg.Notify.SMSGatewayURL, 10*time.Second),
		))
	} else {
		logger.Warn("SMS gateway not configured, emergency contacts will not be notified")
	}
	return router
}

// buildCaches 幂等缓存与限流存储共用一个 Redis 客户端
func buildCaches(cfg *config.Config) (cache.Cache, limiter.Store) {
	if cfg.CacheBackend != "redis" {
		c, err := cache.NewCache(cache.Config{Type: cfg.CacheBackend})
		if err != nil {
			logger.Warn("cache backend unavailable, using memory", zap.Error(err))
			c, _ = cache.NewCache(cache.Config{})
		}
		return c, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, falling back to memory", zap.Error(err))
		_ = client.Close()
		c, _ := cache.NewCache(cache.Config{})
		return c, nil
	}
	store, err := middleware.NewRedisStore(client, "lifesync:limit")
	if err != nil {
		logger.Warn("redis limiter store failed, using memory", zap.Error(err))
		store = nil
	}
	return cache.NewRedisCacheWithClient(client, cache.RedisConfig{Addr: cfg.RedisAddr, Prefix: "lifesync:"}), store
}
