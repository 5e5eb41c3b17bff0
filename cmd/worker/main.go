package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/kioskpos/internal/bootstrap"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	infraRedis "github.com/cassiomorais/kioskpos/internal/infrastructure/redis"
	"github.com/cassiomorais/kioskpos/internal/repository/postgres"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// The journal worker copies finished attempts from the state stream of every
// kiosk into Postgres.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "kiosk-journal-worker", "kiosk_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Pool == nil || app.Redis == nil {
		app.Logger.Fatal().Msg("Worker needs journal.enabled and redis.stream_enabled")
	}

	repo := postgres.NewAttemptRepository(app.Pool)
	redisCfg := app.Config.Redis
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		redisCfg.StateStream,
		redisCfg.ConsumerGroup,
		app.Config.InstanceID,
		redisCfg.BatchSize,
		redisCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group (may already exist)")
	}

	app.Logger.Info().
		Str("stream", consumer.Stream()).
		Str("group", redisCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for state changes...")

	w := &journalWorker{
		consumer: consumer,
		repo:     repo,
		timeout:  app.Config.Journal.WriteTimeout,
		logger:   app.Logger,
		observe: func(result string) {
			app.Metrics.StreamConsumed.WithLabelValues(result).Inc()
		},
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.run(gCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

type streamReader interface {
	Read(ctx context.Context) ([]redis.XStream, error)
	Ack(ctx context.Context, messageID string) error
}

type journalWorker struct {
	consumer streamReader
	repo     payment.Repository
	timeout  time.Duration
	logger   zerolog.Logger
	observe  func(result string)
}

func (w *journalWorker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("Failed to read from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.handle(ctx, msg)
			}
		}
	}
}

// handle journals one message. Messages that fail to save stay pending for
// redelivery; everything else is acknowledged.
func (w *journalWorker) handle(ctx context.Context, msg redis.XMessage) {
	change, err := infraRedis.DecodeStateChange(msg)
	if err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping undecodable state change")
		w.observe("invalid")
		w.ack(ctx, msg.ID)
		return
	}

	attempt, ok := service.AttemptFromChange(change)
	if !ok {
		w.observe("skipped")
		w.ack(ctx, msg.ID)
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.repo.Save(saveCtx, attempt); err != nil {
		w.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("Failed to journal attempt")
		w.observe("error")
		return
	}

	w.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("state", string(attempt.FinalState)).
		Msg("Attempt journaled")
	w.observe("saved")
	w.ack(ctx, msg.ID)
}

func (w *journalWorker) ack(ctx context.Context, id string) {
	if err := w.consumer.Ack(ctx, id); err != nil {
		w.logger.Error().Err(err).Str("message_id", id).Msg("Failed to ack message")
	}
}
