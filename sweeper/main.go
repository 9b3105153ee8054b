package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/legal-radar/backend/internal/alerts"
	"github.com/DeafMist/legal-radar/backend/internal/app"
	"github.com/DeafMist/legal-radar/backend/internal/config"
	"github.com/DeafMist/legal-radar/backend/internal/logger"
	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/notify"
)

const (
	maxStartupRetries = 10
	maxRetryDelay     = 30 * time.Second
)

type sweeper interface {
	Sweep(ctx context.Context) (*alerts.Batch, error)
	Commit(ctx context.Context, batch *alerts.Batch) error
}

type publisher interface {
	Publish(ctx context.Context, results []models.AlertResult) (int, error)
}

func main() {
	log := logger.New("sweeper")
	cfg, err := config.LoadSweeper()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	svc, err := app.Build(&cfg.Common, log, app.AlertOptions{
		Timeout:     cfg.AlertTimeout,
		SeenLimit:   cfg.SeenLimit,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		log.Error("init services", slog.Any("err", err))
		os.Exit(1)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := waitForStore(ctx, log, svc.Health, 2*time.Second); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to reach record store after retries", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to record store", slog.String("backend", cfg.Backend))

	pub := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AlertsTopic)
	defer pub.Close()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("alert sweeper running",
		slog.Duration("interval", cfg.Interval),
		slog.String("topic", cfg.AlertsTopic),
	)

	runOnce(ctx, log, svc.Matcher, pub)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, svc.Matcher, pub)
		}
	}
}

// waitForStore pings until the store answers, doubling the delay between
// attempts up to maxRetryDelay.
func waitForStore(ctx context.Context, log *slog.Logger, ping func(context.Context) error, retryDelay time.Duration) error {
	var err error
	for i := 0; i < maxStartupRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		log.Warn("record store ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxStartupRetries),
			slog.Duration("retry_in", retryDelay),
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
	return err
}

// runOnce verifies every active alert and publishes the hits. Seen ids are
// committed only after publishing succeeds, so undelivered hits are reported
// again on the next interval.
func runOnce(ctx context.Context, log *slog.Logger, m sweeper, pub publisher) {
	subCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	batch, err := m.Sweep(subCtx)
	if err != nil {
		log.Warn("alert sweep failed (will retry on next interval)", slog.Any("err", err))
		return
	}

	failed, hits := 0, 0
	for _, r := range batch.Results {
		switch {
		case r.Err != nil:
			failed++
		case len(r.NewRecordIDs) > 0:
			hits++
		}
	}

	sent, err := pub.Publish(subCtx, batch.Results)
	if err != nil {
		log.Warn("publish alert hits failed, keeping them unseen", slog.Any("err", err), slog.Int("hits", hits))
		return
	}
	if err := m.Commit(subCtx, batch); err != nil {
		log.Warn("commit seen ids failed", slog.Any("err", err))
	}

	log.Info("alert sweep completed",
		slog.Int("alerts", len(batch.Results)),
		slog.Int("with_new_records", hits),
		slog.Int("failed", failed),
		slog.Int("published", sent),
	)
}
