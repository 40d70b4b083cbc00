package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kostbook/internal/api"
	"kostbook/internal/config"
	"kostbook/internal/database"
	"kostbook/internal/domain"
	"kostbook/internal/events"
	"kostbook/internal/export"
	"kostbook/internal/google"
	"kostbook/internal/logging"
	"kostbook/internal/metrics"
	"kostbook/internal/models"
	"kostbook/internal/repository"
	"kostbook/internal/service"
	"kostbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	kosts, err := loadKosts(&logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, kosts, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus, amqpPublisher := initEvents(cfg, &logger)
	if amqpPublisher != nil {
		defer func() { _ = amqpPublisher.Close() }()
	}

	deps := service.Deps{
		Repo:   db,
		Locker: initLocker(cfg, redisClient, &logger),
		Events: eventBus,
		Logger: &logger,
	}
	if syncWorker := initSheetsSync(ctx, cfg, db, redisClient, &logger); syncWorker != nil {
		deps.Sync = syncWorker
		go syncWorker.Start(ctx)
	}

	engine := service.NewEngine(cfg.Booking, deps)
	if _, err := engine.RebuildIndex(ctx); err != nil {
		logger.Error().Err(err).Msg("rebuild interval index")
		return err
	}

	if cfg.Sweep.Enabled {
		go worker.NewExpirySweeper(engine, cfg.Sweep.Interval, &logger).Start(ctx)
	}
	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, engine, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	exports := export.NewOwnerBookings(cfg.Exports.Path, time.UTC)
	httpServer := api.NewHTTPServer(&cfg.API, engine, exports, readiness(db, redisClient), &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadKosts(logger *zerolog.Logger) ([]models.Kost, error) {
	kostsPath := os.Getenv("KOSTS_PATH")
	if kostsPath == "" {
		kostsPath = "configs/kosts.yaml"
	}
	data, err := os.ReadFile(kostsPath)
	if err != nil {
		logger.Error().Err(err).Str("kosts_path", kostsPath).Msg("read kosts")
		return nil, err
	}

	var catalogue struct {
		Kosts []models.Kost `yaml:"kosts"`
	}
	if err := yaml.Unmarshal(data, &catalogue); err != nil {
		logger.Error().Err(err).Str("kosts_path", kostsPath).Msg("parse kosts")
		return nil, err
	}
	if err := config.ValidateKosts(catalogue.Kosts); err != nil {
		logger.Error().Err(err).Msg("kosts validation failed")
		return nil, err
	}

	return catalogue.Kosts, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, kosts []models.Kost, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncKosts(ctx, kosts); err != nil {
		_ = db.Close()
		logger.Error().Err(err).Msg("sync kost catalogue")
		return nil, err
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initLocker prefers the Redis lease so several API replicas serialize on the
// same room, and falls back to in-process locks when Redis misbehaves.
func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.RoomLocker {
	memory := repository.NewMemoryRoomLocker()
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisRoomLocker(redisClient, cfg.Booking.LockTTL)
	return repository.NewFailoverRoomLocker(primary, memory, logger)
}

func initEvents(cfg *config.Config, logger *zerolog.Logger) (*events.EventBus, *events.AMQPPublisher) {
	bus := events.NewEventBus()
	if cfg.AMQP.URL == "" {
		return bus, nil
	}

	publisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		logger.Warn().Err(err).Msg("amqp connection failed, booking events stay in-process")
		return bus, nil
	}
	publisher.Attach(bus)
	logger.Info().Str("exchange", cfg.AMQP.Exchange).Msg("booking events forwarded to amqp")
	return bus, publisher
}

func initSheetsSync(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) *worker.SyncWorker {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheet, err := google.NewBookingsSheet(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheet.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets connection test failed, continuing without sheets")
		return nil
	}
	go sheet.StartCacheRefresh(ctx, 10*time.Minute)

	retryPolicy := worker.RetryPolicy{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	logger.Info().Msg("google sheets connected")
	return worker.NewSyncWorker(db, sheet, redisClient, retryPolicy, logger)
}

func readiness(db *database.DB, redisClient *redis.Client) api.ReadinessCheck {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if redisClient != nil {
			if err := repository.Ping(ctx, redisClient); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	grpcAddr := ""
	if grpcServer != nil {
		grpcAddr = grpcServer.Addr()
	}
	logger.Info().Str("grpc_addr", grpcAddr).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
