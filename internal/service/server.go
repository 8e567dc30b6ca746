package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"tamacloud/internal/broadcast"
	"tamacloud/internal/caption"
	"tamacloud/internal/config"
	"tamacloud/internal/consumer"
	"tamacloud/internal/display"
	"tamacloud/internal/domain"
	"tamacloud/internal/engine"
	httpapi "tamacloud/internal/http"
	"tamacloud/internal/ingest"
	"tamacloud/internal/repository"
	"tamacloud/pkg/database"
	"tamacloud/pkg/mqttx"
	"tamacloud/pkg/redisx"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server 组装全部组件并管理生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttx.Client

	hub        *broadcast.Hub
	engine     *engine.Engine
	scheduler  *engine.Scheduler
	aggregator *ingest.StatsAggregator
	captioner  *caption.Worker
	consumer   *consumer.MQTTConsumer

	httpServer *http.Server
	cancel     context.CancelFunc
}

// NewServer 连接外部依赖并装配服务；数据库不可用时回落到内存仓储
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	var (
		readings  repository.ReadingRepo
		events    repository.EventRepo
		stats     repository.StepStatRepo
		states    repository.PetStateRepo
		overrides repository.DisplayRepo
	)

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		logger.Warn("Database unavailable, using in-memory repositories", zap.Error(err))
		readings = repository.NewMemoryReadingRepo()
		events = repository.NewMemoryEventRepo()
		stats = repository.NewMemoryStepStatRepo()
		states = repository.NewMemoryPetStateRepo()
		overrides = repository.NewMemoryDisplayRepo()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := repository.EnsureSchema(ctx, db)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		s.db = db
		readings = repository.NewPostgresReadingRepo(db, logger)
		events = repository.NewPostgresEventRepo(db, logger)
		stats = repository.NewPostgresStepStatRepo(db, logger)
		states = repository.NewPostgresPetStateRepo(db, logger)
		overrides = repository.NewPostgresDisplayRepo(db, logger)
		logger.Info("Connected to PostgreSQL",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
	}

	if cfg.RedisEnabled {
		client := redisx.NewRedisClient(&cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisx.Ping(ctx, client)
		cancel()
		if err != nil {
			logger.Warn("Redis unavailable, stream mirror disabled", zap.Error(err))
			_ = redisx.Close(client)
		} else {
			s.redisClient = client
			logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	s.hub = broadcast.NewHub(s.redisClient, logger)

	s.engine = engine.New(states, logger)
	s.engine.SetOnChange(func(st *domain.PetState) {
		s.hub.Publish(broadcast.TopicPetStateUpdate, st.DeviceID, st.ToJSON())
	})

	svc := ingest.NewService(readings, events, stats, s.hub, logger)
	projector := display.NewProjector(overrides, s.engine, logger)

	s.scheduler = engine.NewScheduler(s.engine, states, cfg.PetTickInterval, logger)
	s.aggregator = ingest.NewStatsAggregator(readings, stats, cfg.StatsInterval, logger)

	if cfg.CaptionEnabled {
		client := caption.NewClient(cfg.CaptionBaseURL, cfg.CaptionModel, logger)
		s.captioner = caption.NewWorker(client, readings, cfg.CaptionInterval, logger)
	}

	if cfg.MQTTEnabled {
		// broker 要求 client ID 唯一，避免重启后顶掉残留会话
		mqttCfg := cfg.MQTT
		mqttCfg.ClientID = fmt.Sprintf("%s-%s", mqttCfg.ClientID, uuid.NewString()[:8])
		mqttClient, err := mqttx.NewClient(&mqttCfg)
		if err != nil {
			logger.Warn("MQTT broker unavailable, consumer disabled", zap.Error(err))
		} else {
			s.mqttClient = mqttClient
			s.consumer = consumer.NewMQTTConsumer(mqttClient, svc, cfg.MQTT.QoS, logger)
		}
	}

	router := httpapi.NewRouter(logger)
	router.RegisterSensorRoutes(httpapi.NewSensorHandler(svc, readings, stats, s.engine, s.hub, logger))
	router.RegisterEventRoutes(httpapi.NewEventHandler(events, logger))
	router.RegisterPetRoutes(httpapi.NewPetHandler(s.engine, s.hub, logger))
	router.RegisterDisplayRoutes(httpapi.NewDisplayHandler(projector, s.engine, s.hub, logger))
	router.RegisterHealthRoute(httpapi.HealthHandler(s.databaseAvailable))
	router.RegisterWSRoute(s.hub.HandleWS)

	s.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	return s, nil
}

// Start 启动后台循环与 HTTP 服务；阻塞直到服务退出
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.scheduler.Start(runCtx)
	s.aggregator.Start(runCtx)
	if s.captioner != nil {
		s.captioner.Start(runCtx)
	}
	if s.consumer != nil {
		go func() {
			if err := s.consumer.Start(runCtx); err != nil {
				s.logger.Error("MQTT consumer stopped", zap.Error(err))
			}
		}()
	}

	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop() {
	s.logger.Info("Stopping server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown failed", zap.Error(err))
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
	s.aggregator.Stop()
	if s.captioner != nil {
		s.captioner.Stop()
	}
	if s.consumer != nil {
		_ = s.consumer.Stop(ctx)
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	s.hub.Close()
	if s.redisClient != nil {
		_ = redisx.Close(s.redisClient)
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	s.logger.Info("Server stopped")
}

func (s *Server) databaseAvailable() bool {
	if s.db == nil {
		return false
	}
	return s.db.Ping() == nil
}
