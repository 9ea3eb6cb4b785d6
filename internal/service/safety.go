package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sitter-safety/internal/cache"
	"sitter-safety/internal/config"
	"sitter-safety/internal/database"
	"sitter-safety/internal/emergency"
	httpapi "sitter-safety/internal/http"
	"sitter-safety/internal/location"
	"sitter-safety/internal/models"
	"sitter-safety/internal/mqtt"
	"sitter-safety/internal/notify"
	rediscommon "sitter-safety/internal/redis"
	"sitter-safety/internal/reporting"
	"sitter-safety/internal/repository"
	"sitter-safety/internal/store"
	"sitter-safety/internal/tracking"
)

// Components 外部依赖，由 NewSafetyService 构建，测试中可直接注入
// Reporter、Haptics、Outbox 可为空
type Components struct {
	Platform location.Platform
	Redis    *redis.Client
	Gateway  notify.Gateway
	Alerts   emergency.AlertRepository
	Sessions tracking.SessionStore
	Reporter *reporting.Reporter
	Haptics  emergency.Haptics
	Outbox   *notify.OutboxWorker
	Clock    clock.Clock
}

// SafetyService 跟踪与紧急报警服务（整合各层）
type SafetyService struct {
	config *config.Config
	logger *zap.Logger

	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqtt.Client
	platform   *location.MQTTPlatform

	contacts  *store.ContactBook
	snapshots *cache.SnapshotCache
	tracking  *tracking.Manager
	emergency *emergency.Coordinator
	hub       *httpapi.Hub
	outbox    *notify.OutboxWorker
	router    *httpapi.Router
}

// NewSafetyService 连接数据库、Redis、MQTT 并创建服务
func NewSafetyService(cfg *config.Config, logger *zap.Logger) (*SafetyService, error) {
	ctx := context.Background()

	// 1. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 2. 审计仓库（未启用数据库时使用内存实现）
	var (
		db       *sql.DB
		alerts   emergency.AlertRepository
		sessions tracking.SessionStore
	)
	if cfg.DBEnabled {
		var err error
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		alerts = repository.NewAlertsRepository(db, logger)
		sessions = repository.NewSessionsRepository(db, logger)
	} else {
		logger.Warn("Database disabled, audit records are kept in memory")
		alerts = repository.NewMemoryAlertsRepository()
		sessions = repository.NewMemorySessionsRepository()
	}

	// 3. MQTT 定位平台
	if !cfg.MQTT.Enabled || cfg.MQTT.DeviceID == "" {
		database.Close(db)
		return nil, errors.New("location platform requires MQTT_ENABLED=true and MQTT_DEVICE_ID")
	}
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		database.Close(db)
		return nil, err
	}
	kv := store.NewRedisKV(redisClient, cfg.Cache.StorePrefix)
	platform := location.NewMQTTPlatform(
		mqttClient,
		store.NewPermissionStore(kv),
		cfg.MQTT.DeviceID,
		cfg.MQTT.QoS,
		cfg.Tracking.LocationFixMaxAge,
		clock.New(),
		logger,
	)

	// 4. 通知网关
	gateway, delivery, err := buildGateways(ctx, cfg, redisClient, logger)
	if err != nil {
		mqttClient.Disconnect()
		database.Close(db)
		return nil, err
	}
	var outbox *notify.OutboxWorker
	if cfg.Notify.OutboxWorker {
		outbox = notify.NewOutboxWorker(redisClient, cfg.Notify.OutboxStream, cfg.Notify.OutboxGroup,
			cfg.MQTT.ClientID, delivery, logger)
	}

	// 5. 后端上报（未配置密钥时不上报）
	var reporter *reporting.Reporter
	if cfg.Backend.EncryptionSecret != "" {
		c, err := reporting.NewCipher(cfg.Backend.EncryptionSecret)
		if err != nil {
			mqttClient.Disconnect()
			database.Close(db)
			return nil, err
		}
		reporter = reporting.NewReporter(reporting.Config{
			BaseURL:      cfg.Backend.BaseURL,
			Timeout:      cfg.Backend.Timeout,
			RetryCount:   cfg.Backend.RetryCount,
			TokenKey:     cfg.Backend.TokenKey,
			LocationRate: cfg.Tracking.LocationReportRate,
		}, store.NewCredentialStore(kv), c, logger)
	} else {
		logger.Warn("BACKEND_ENCRYPTION_SECRET not set, backend reporting disabled")
	}

	s := New(cfg, Components{
		Platform: platform,
		Redis:    redisClient,
		Gateway:  gateway,
		Alerts:   alerts,
		Sessions: sessions,
		Reporter: reporter,
		Haptics:  mqtt.NewDeviceSignaler(mqttClient, cfg.MQTT.DeviceID, cfg.MQTT.QoS),
		Outbox:   outbox,
	}, logger)
	s.db = db
	s.mqttClient = mqttClient
	s.platform = platform
	return s, nil
}

// New 组装核心组件
func New(cfg *config.Config, c Components, logger *zap.Logger) *SafetyService {
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}

	kv := store.NewRedisKV(c.Redis, cfg.Cache.StorePrefix)
	contacts := store.NewContactBook(kv)
	snapshots := cache.NewSnapshotCache(c.Redis, cfg.Cache.KeyPrefix, cfg.Cache.SnapshotTTL, logger)

	// nil 指针不能直接赋给接口
	var (
		trackingReporter tracking.Reporter
		alertReporter    emergency.AlertReporter
	)
	if c.Reporter != nil {
		trackingReporter = c.Reporter
		alertReporter = c.Reporter
	}

	opts := []tracking.Option{
		tracking.WithSnapshotCache(snapshots),
		tracking.WithClock(clk),
	}
	if c.Sessions != nil {
		opts = append(opts, tracking.WithSessionStore(c.Sessions))
	}
	manager := tracking.NewManager(
		location.NewAdapter(c.Platform, logger),
		trackingReporter,
		tracking.Config{
			Watch: location.WatchOptions{
				Accuracy:         location.AccuracyHigh,
				TimeInterval:     cfg.Tracking.TimeInterval,
				DistanceInterval: cfg.Tracking.DistanceInterval,
			},
			QueueSize: cfg.Tracking.ReportQueueSize,
		},
		logger,
		opts...,
	)

	coordinator := emergency.NewCoordinator(emergency.Config{
		PartyID:           cfg.Emergency.PartyID,
		PartyRole:         cfg.Emergency.PartyRole,
		EscalationTimeout: cfg.Emergency.EscalationTimeout,
		AuthorityPhones:   cfg.Emergency.AuthorityPhones,
	}, emergency.Dependencies{
		Location:   manager,
		Sessions:   manager,
		Contacts:   contacts,
		Notifier:   notify.NewFanout(c.Gateway, cfg.Emergency.FanoutLimit, logger),
		Reporter:   alertReporter,
		Repository: c.Alerts,
		Haptics:    c.Haptics,
		Cache:      snapshots,
		Clock:      clk,
	}, logger)

	hub := httpapi.NewHub(c.Redis, cfg.Cache.KeyPrefix+"events", logger)

	s := &SafetyService{
		config:    cfg,
		logger:    logger,
		redis:     c.Redis,
		contacts:  contacts,
		snapshots: snapshots,
		tracking:  manager,
		emergency: coordinator,
		hub:       hub,
		outbox:    c.Outbox,
	}
	s.registerObservers()

	router := httpapi.NewRouter(logger)
	router.RegisterHealthRoutes()
	router.RegisterTrackingRoutes(httpapi.NewTrackingHandler(manager, contacts, logger))
	router.RegisterEmergencyRoutes(httpapi.NewEmergencyHandler(coordinator, logger))
	router.RegisterStreamRoutes(hub)
	s.router = router
	return s
}

// registerObservers 会话与报警事件推送到观察端；越界时按配置自动触发 SOS
func (s *SafetyService) registerObservers() {
	s.tracking.OnLocationUpdate(func(loc models.GPSLocation) {
		s.hub.Broadcast(httpapi.EventLocation, loc)
	})
	s.tracking.OnGeofenceViolation(func(v models.GeofenceViolation) {
		s.hub.Broadcast(httpapi.EventGeofenceViolation, v)
		if s.config.Emergency.AutoSOSOnGeofence {
			// 回调在定位线程上，不能阻塞
			go s.autoSOS(v)
		}
	})
	s.emergency.OnEmergencyTriggered(func(a *models.EmergencyAlert) {
		s.hub.Broadcast(httpapi.EventEmergencyTriggered, a)
	})
	s.emergency.OnEmergencyResolved(func(a *models.EmergencyAlert) {
		s.hub.Broadcast(httpapi.EventEmergencyResolved, a)
	})
	s.emergency.OnEmergencyEscalated(func(a *models.EmergencyAlert) {
		s.hub.Broadcast(httpapi.EventEmergencyEscalated, a)
	})
}

func (s *SafetyService) autoSOS(v models.GeofenceViolation) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	alert, err := s.emergency.TriggerSOS(ctx, models.ReasonGeofenceViolation)
	if err != nil {
		s.logger.Info("Auto SOS not triggered",
			zap.String("zone_id", v.Zone.ID),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("Auto SOS triggered by geofence violation",
		zap.String("alert_id", alert.ID),
		zap.String("zone_id", v.Zone.ID),
		zap.Float64("distance_m", v.Distance),
	)
}

// Handler HTTP 入口
func (s *SafetyService) Handler() http.Handler { return s.router }

func (s *SafetyService) Tracking() *tracking.Manager       { return s.tracking }
func (s *SafetyService) Emergency() *emergency.Coordinator { return s.emergency }
func (s *SafetyService) Contacts() *store.ContactBook      { return s.contacts }
func (s *SafetyService) Snapshots() *cache.SnapshotCache   { return s.snapshots }

// Start 启动服务，阻塞直到 ctx 结束或 HTTP 服务出错
func (s *SafetyService) Start(ctx context.Context) error {
	s.logger.Info("Starting sitter safety service",
		zap.String("addr", s.config.HTTP.Addr),
		zap.String("party_role", s.config.Emergency.PartyRole),
	)

	if s.platform != nil {
		if err := s.platform.Start(); err != nil {
			return fmt.Errorf("failed to start location platform: %w", err)
		}
	}

	server := &http.Server{
		Addr:              s.config.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	if s.outbox != nil {
		g.Go(func() error {
			return s.outbox.Run(ctx)
		})
	}
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Stop 停止服务：结束会话，等待后台上报完成，关闭连接
func (s *SafetyService) Stop() error {
	s.logger.Info("Stopping sitter safety service")

	s.emergency.Close()
	s.tracking.Close()

	var err error
	if s.platform != nil {
		err = multierr.Append(err, s.platform.Stop())
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	err = multierr.Append(err, database.Close(s.db))
	if s.redis != nil {
		err = multierr.Append(err, s.redis.Close())
	}
	if err != nil {
		s.logger.Error("Errors while stopping service", zap.Error(err))
	}
	return err
}

// buildGateways 返回实时通知使用的网关，以及发件箱消费者实际投递使用的网关
func buildGateways(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (notify.Gateway, notify.Gateway, error) {
	httpGateway := notify.NewHTTPGateway(cfg.Notify.GatewayURL, cfg.Notify.GatewayAPIKey,
		cfg.Backend.Timeout, cfg.Backend.RetryCount, logger)
	streamGateway := notify.NewStreamGateway(redisClient, cfg.Notify.OutboxStream)

	var fcm notify.Gateway
	if cfg.Notify.FirebaseProjectID != "" {
		g, err := notify.NewFCMGateway(ctx, cfg.Notify.FirebaseProjectID, cfg.Notify.FirebaseCredentialsPath, logger)
		if err != nil {
			return nil, nil, err
		}
		fcm = g
	}

	var push notify.Gateway
	switch cfg.Notify.PushProvider {
	case "fcm":
		if fcm == nil {
			return nil, nil, errors.New("NOTIFY_PUSH_PROVIDER=fcm requires FIREBASE_PROJECT_ID")
		}
		push = fcm
	case "stream":
		push = streamGateway
	case "http", "":
		push = httpGateway
	default:
		return nil, nil, fmt.Errorf("invalid NOTIFY_PUSH_PROVIDER: %s", cfg.Notify.PushProvider)
	}

	var sms notify.Gateway
	switch cfg.Notify.SMSProvider {
	case "stream":
		sms = streamGateway
	case "http", "":
		sms = httpGateway
	default:
		return nil, nil, fmt.Errorf("invalid NOTIFY_SMS_PROVIDER: %s", cfg.Notify.SMSProvider)
	}

	deliveryPush := notify.Gateway(httpGateway)
	if fcm != nil {
		deliveryPush = fcm
	}
	return &notify.Router{Push: push, SMS: sms}, &notify.Router{Push: deliveryPush, SMS: httpGateway}, nil
}
