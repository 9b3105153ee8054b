package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/legal-radar/backend/internal/aggregator"
	"github.com/DeafMist/legal-radar/backend/internal/app"
	"github.com/DeafMist/legal-radar/backend/internal/config"
	"github.com/DeafMist/legal-radar/backend/internal/logger"
	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// syncRequest asks the worker to search the sources and persist what it finds.
type syncRequest struct {
	Query  string `json:"query"`
	Source string `json:"source"`
	From   string `json:"from"`
	To     string `json:"to"`
	Kind   string `json:"kind"`
	Limit  int    `json:"limit"`
	Page   int    `json:"page"`
}

type syncSearcher interface {
	Search(ctx context.Context, spec models.QuerySpec, selector []models.Source, opts aggregator.Options) (*aggregator.Result, error)
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	svc, err := app.Build(&cfg.Common, log, app.AlertOptions{})
	if err != nil {
		log.Error("init services", slog.Any("err", err))
		os.Exit(1)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // Disable auto-commit; manual commit only
	})
	defer reader.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.KafkaTopic+"_dlq"),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		msgCtx, cancel := context.WithTimeout(ctx, cfg.MessageTimeout)
		err = processMessage(msgCtx, log, svc.Aggregator, msg)
		cancel()
		if err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			switch dlqErr := deadLetter(ctx, log, dlqWriter, msg, err, time.Second); {
			case ctx.Err() != nil:
				return
			case dlqErr != nil:
				// Skip the commit so the message is reprocessed on restart.
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
			default:
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error("commit failed message to dlq", slog.Any("err", err))
				}
			}
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

const dlqAttempts = 5

var errDLQExhausted = errors.New("dlq write retries exhausted")

// deadLetter writes msg with error context to the DLQ, retrying with
// exponential backoff from backoff. It returns ctx.Err() when ctx ends first
// and errDLQExhausted when every attempt failed.
func deadLetter(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, cause error, backoff time.Duration) error {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range dlqAttempts {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}
		if attempt == dlqAttempts-1 {
			log.Warn("DLQ write failed", slog.Any("err", dlqErr), slog.Int("attempt", attempt+1))
			break
		}
		wait := backoff << uint(attempt)
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return ctx.Err()
		}
	}
	return errDLQExhausted
}

func processMessage(ctx context.Context, log *slog.Logger, search syncSearcher, msg kafka.Message) error {
	var req syncRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("decode sync request: %w", err)
	}

	spec, selector, err := req.toSpec()
	if err != nil {
		return err
	}

	res, err := search.Search(ctx, spec, selector, aggregator.Options{Sync: true})
	if err != nil {
		return fmt.Errorf("search %q: %w", spec.Query, err)
	}
	for _, f := range res.PartialFailures {
		log.Warn("source skipped during sync",
			slog.String("source", string(f.Source)), slog.String("kind", string(f.Kind)), slog.String("reason", f.Reason))
	}
	if res.SyncErr != nil {
		return fmt.Errorf("sync %q: %w", spec.Query, res.SyncErr)
	}

	log.Info("synced query",
		slog.String("query", spec.Query),
		slog.Int("records", len(res.Records)),
		slog.Int("written", res.Synced),
	)
	return nil
}

func (r syncRequest) toSpec() (models.QuerySpec, []models.Source, error) {
	query := strings.TrimSpace(r.Query)
	if query == "" {
		return models.QuerySpec{}, nil, errors.New("empty query")
	}
	selector, err := models.ParseSelector(r.Source)
	if err != nil {
		return models.QuerySpec{}, nil, err
	}
	from, err := models.ParseDay(r.From)
	if err != nil {
		return models.QuerySpec{}, nil, fmt.Errorf("parse from: %w", err)
	}
	to, err := models.ParseDay(r.To)
	if err != nil {
		return models.QuerySpec{}, nil, fmt.Errorf("parse to: %w", err)
	}
	spec := models.QuerySpec{
		Query: query,
		From:  from,
		To:    to,
		Kind:  models.Kind(strings.ToUpper(strings.TrimSpace(r.Kind))),
		Limit: r.Limit,
		Page:  r.Page,
	}
	return spec, selector, spec.Validate()
}
