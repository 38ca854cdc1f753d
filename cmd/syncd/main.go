package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sudooom.im.sync/internal/config"
	"sudooom.im.sync/internal/connection"
	"sudooom.im.sync/internal/dispatch"
	"sudooom.im.sync/internal/handler"
	"sudooom.im.sync/internal/health"
	"sudooom.im.sync/internal/history"
	"sudooom.im.sync/internal/jwt"
	"sudooom.im.sync/internal/natsbus"
	"sudooom.im.sync/internal/notify"
	"sudooom.im.sync/internal/pipeline"
	"sudooom.im.sync/internal/presence"
	"sudooom.im.sync/internal/repository"
	"sudooom.im.sync/internal/server"
	"sudooom.im.sync/internal/snowflake"
	"sudooom.im.sync/internal/telemetry"
	"sudooom.im.sync/internal/typing"
	"sudooom.im.sync/internal/unread"
	"sudooom.im.sync/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 初始化日志
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接 NATS
	natsClient, err := natsbus.NewClient(cfg.NATS)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	metrics := telemetry.Default()
	pool := workerpool.New(cfg.Server.WorkerCount, cfg.Server.WorkerQueueSize, logger)
	defer pool.Shutdown()

	// 装配：注册表 -> 分发器 -> 状态跟踪器，最后回绑
	registry := connection.NewRegistry(nil)
	publisher := natsbus.NewEventPublisher(natsClient.Conn())
	dispatcher := dispatch.NewDispatcher(registry, publisher, cfg.Server.NodeID, metrics)

	msgRepo := repository.NewMessageRepository(db)
	convRepo := repository.NewConversationRepository(db)

	tracker := presence.NewTracker(convRepo, dispatcher, pool)
	registry.BindPresence(tracker)
	location := presence.NewLocationStore(redisClient, cfg.Server.NodeID)

	counter := unread.NewCounter(redisClient)

	var notifier pipeline.Notifier = notify.NopNotifier{}
	if cfg.Notify.Endpoint != "" {
		notifier = notify.NewHTTPNotifier(cfg.Notify)
	}

	ids := snowflake.NewNode(cfg.Server.SnowflakeNodeID)
	// 离线通知的在线判定走 Redis 位置租约：成员可能在其他节点持有通道
	pl := pipeline.New(msgRepo, convRepo, dispatcher, counter, location, notifier, ids, pool)
	hist := history.NewService(msgRepo, convRepo, counter)
	typingCoord := typing.NewCoordinator(convRepo, dispatcher, pool)
	jwtSvc := jwt.NewService(cfg.Auth.TokenSecret, 24*time.Hour)

	channelHandler := handler.NewChannelHandler(pl, hist, typingCoord, location, jwtSvc, metrics)

	// 订阅其他节点的事件广播
	subscriber := natsbus.NewEventSubscriber(natsClient.Conn(), dispatcher, natsbus.SubscriberConfig{
		WorkerCount: cfg.Server.WorkerCount,
	})
	if err := subscriber.Start(ctx); err != nil {
		logger.Error("Failed to start subscriber", "error", err)
		os.Exit(1)
	}

	// 健康检查与指标
	healthChecker := health.NewChecker(natsClient.Conn(), redisClient, db)
	go startHealthServer(cfg.Server.HealthAddr, healthChecker, logger)

	srv := server.New(cfg, registry, channelHandler, location, metrics, logger)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Server stopped", "error", err)
			cancel()
		}
	}()

	logger.Info("Sync service started", "name", cfg.App.Name, "node_id", cfg.Server.NodeID)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	cancel()
	srv.Shutdown()
	subscriber.Stop()
	logger.Info("Sync service stopped")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startHealthServer 启动健康检查与指标 HTTP 服务
func startHealthServer(addr string, healthChecker *health.Checker, logger *slog.Logger) {
	if addr == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.Handle("/health", healthChecker)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if healthChecker.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
		}
	})
	mux.Handle("/metrics", telemetry.Handler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Info("Health check server started", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Health check server failed", "error", err)
	}
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
