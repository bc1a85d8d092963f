package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"infantguard/internal/alert"
	"infantguard/internal/bus"
	"infantguard/internal/cache"
	"infantguard/internal/config"
	"infantguard/internal/geofence"
	"infantguard/internal/httpapi"
	"infantguard/internal/ingest"
	"infantguard/internal/logger"
	"infantguard/internal/models"
	"infantguard/internal/repository"
	"infantguard/internal/service"
	"infantguard/internal/store"
	"infantguard/internal/transport"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "infantguard")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(log)

	// 3. Postgres（历史与参考数据；DB_ENABLED=false 时纯内存运行）
	var db *sql.DB
	var positionsRepo *repository.PositionsRepository
	var gateEventsRepo *repository.GateEventsRepository
	var alertsRepo *repository.AlertsRepository

	var zones []models.Zone
	var gates []models.Gate
	var pairings map[string]string

	if cfg.DBEnabled {
		db, err = sql.Open("postgres", cfg.Database.GetDSN())
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.Database.MaxConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdle)
		if err := db.PingContext(ctx); err != nil {
			log.Fatal("Failed to ping database", zap.Error(err))
		}
		defer db.Close()

		positionsRepo = repository.NewPositionsRepository(db, log)
		gateEventsRepo = repository.NewGateEventsRepository(db, log)
		alertsRepo = repository.NewAlertsRepository(db, log)

		refRepo := repository.NewReferenceRepository(db, log)
		zones, err = refRepo.ListZones(ctx)
		if err != nil {
			log.Fatal("Failed to load zones", zap.Error(err))
		}
		gates, err = refRepo.ListGates(ctx)
		if err != nil {
			log.Fatal("Failed to load gates", zap.Error(err))
		}
		pairings, err = refRepo.ListPairings(ctx)
		if err != nil {
			log.Fatal("Failed to load tag pairings", zap.Error(err))
		}
		log.Info("reference data loaded",
			zap.Int("zones", len(zones)),
			zap.Int("gates", len(gates)),
			zap.Int("pairings", len(pairings)),
		)
	} else {
		log.Warn("database disabled, running in-memory only")
	}

	// 4. Redis 镜像（连不上降级为无缓存运行）
	var snapshotCache *cache.SnapshotCache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, cache mirror disabled", zap.Error(err))
	} else {
		snapshotCache = cache.NewSnapshotCache(
			cache.NewRedisKVStore(redisClient),
			cfg.Cache.TagKeyPrefix,
			cfg.Cache.TagTTL,
			cfg.Cache.ActiveAlertKey,
			cfg.Cache.StreamPrefix,
			log,
		)
	}

	// 5. 核心组件
	tagStore := store.New(cfg.Tags.StalenessWindow, cfg.Tags.LowBatteryPct, b, log)
	geo, err := geofence.NewEvaluator(zones, log)
	if err != nil {
		log.Fatal("Invalid zone configuration", zap.Error(err))
	}
	alerts := alert.NewManager(b, log)

	pipeline := service.NewPipeline(cfg, tagStore, geo, alerts, b, pairings, log)
	pipeline.Gates().LoadGates(gates)
	pipeline.Start(ctx)

	// 6. 写穿 worker（历史 + 镜像）
	writer := service.NewWriter(
		writerOrNil(positionsRepo),
		gateWriterOrNil(gateEventsRepo),
		alertWriterOrNil(alertsRepo),
		alerts, snapshotCache, b, log,
	)
	go writer.Run(ctx)

	// 7. 镜像周期对账
	var poller *transport.Poller
	if snapshotCache != nil {
		poller = transport.NewPoller(cfg.Cache.RefreshInterval, func(ctx context.Context) error {
			return snapshotCache.RefreshActiveAlerts(ctx, alerts.Active("", nil))
		}, log)
		poller.Start(ctx)
	}

	// 8. MQTT 入站
	consumer := ingest.NewConsumer(pipeline, log)
	mqttClient, err := ingest.NewClient(&cfg.MQTT, log)
	if err != nil {
		log.Fatal("Failed to connect MQTT", zap.Error(err))
	}
	defer mqttClient.Disconnect()
	if err := consumer.Start(mqttClient, cfg.MQTT.QoS); err != nil {
		log.Fatal("Failed to subscribe MQTT topics", zap.Error(err))
	}

	// 9. 推送与查询接口
	hub := transport.NewHub(b, service.NewSnapshots(pipeline),
		cfg.Transport.PingInterval, cfg.Transport.PongTimeout, cfg.Transport.SessionBufferSize, log)
	go hub.Run(ctx)

	health := &service.Health{
		DBEnabled:     cfg.DBEnabled,
		Consumer:      consumer,
		MQTTConnected: mqttClient.IsConnected,
	}

	api := httpapi.NewAPI(
		tagStore, pipeline.Gates(), alerts,
		historyOrNil(positionsRepo),
		gateHistoryOrNil(gateEventsRepo),
		alertHistoryOrNil(alertsRepo),
		health, log,
	)

	router := httpapi.NewRouter(log)
	router.RegisterRTLSRoutes(api)
	router.RegisterGateRoutes(api)
	router.RegisterAlertRoutes(api)
	router.RegisterHealthRoute(api)
	router.Handle("/ws/positions", hub.ServeWS(transport.ChannelPositions))
	router.Handle("/ws/gates", hub.ServeWS(transport.ChannelGates))
	router.Handle("/ws/alerts", hub.ServeWS(transport.ChannelAlerts))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	// 10. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Error("HTTP server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown failed", zap.Error(err))
	}

	cancel()
	if poller != nil {
		poller.Stop()
	}
	pipeline.Wait()

	log.Info("infantguard stopped")
}

// *repository.X 为 nil 时必须传接口 nil，避免非空接口包着空指针

func writerOrNil(r *repository.PositionsRepository) service.PositionWriter {
	if r == nil {
		return nil
	}
	return r
}

func gateWriterOrNil(r *repository.GateEventsRepository) service.GateEventWriter {
	if r == nil {
		return nil
	}
	return r
}

func alertWriterOrNil(r *repository.AlertsRepository) service.AlertWriter {
	if r == nil {
		return nil
	}
	return r
}

func historyOrNil(r *repository.PositionsRepository) httpapi.PositionHistory {
	if r == nil {
		return nil
	}
	return r
}

func gateHistoryOrNil(r *repository.GateEventsRepository) httpapi.GateEventHistory {
	if r == nil {
		return nil
	}
	return r
}

func alertHistoryOrNil(r *repository.AlertsRepository) httpapi.AlertHistory {
	if r == nil {
		return nil
	}
	return r
}
