// Command sweep closes expired bookings once and exits. It is meant for cron
// deployments where the API runs with sweep.enabled=false.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kostbook/internal/config"
	"kostbook/internal/database"
	"kostbook/internal/logging"
	"kostbook/internal/repository"
	"kostbook/internal/service"
	"kostbook/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	logger := baseLogger.With().Str("component", "sweep-main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	deps := service.Deps{Repo: db, Logger: &logger}
	if cfg.Redis.Address != "" {
		// closing a booking takes the same room lease the API replicas admit under
		redisClient := repository.NewRedisClient(cfg.Redis)
		defer func() { _ = repository.Close(redisClient) }()
		if err := repository.Ping(ctx, redisClient); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		deps.Locker = repository.NewRedisRoomLocker(redisClient, cfg.Booking.LockTTL)
	}
	if cfg.Google.BookingSpreadSheetID != "" {
		// rows land in the outbox; the API process pushes them to Sheets
		deps.Sync = worker.NewSyncWorker(db, nil, nil, worker.RetryPolicy{}, &logger)
	}
	engine := service.NewEngine(cfg.Booking, deps)
	sweeper := worker.NewExpirySweeper(engine, cfg.Sweep.Interval, &logger)

	started := time.Now()
	n := sweeper.RunOnce(ctx)
	logger.Info().Int("closed", n).Dur("took", time.Since(started)).Msg("sweep finished")
	return ctx.Err()
}
