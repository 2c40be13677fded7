// Package bot runs the bot components until shutdown: the Telegram update
// listener, the scheduler and the health listeners.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/joingate/internal/logger"
)

// Listener receives Telegram updates until ctx is done.
type Listener interface {
	Start(ctx context.Context)
}

// Service is a component that runs until ctx is done.
type Service interface {
	Run(ctx context.Context) error
}

// Bot owns the lifecycle of the long-running components.
type Bot struct {
	logger    *slog.Logger
	listener  Listener
	scheduler *Scheduler
	services  []Service
}

// NewBot wires the orchestrator. services run alongside the listener and
// the scheduler.
func NewBot(log *slog.Logger, listener Listener, scheduler *Scheduler, services ...Service) *Bot {
	if log == nil {
		log = logger.Discard()
	}
	return &Bot{
		logger:    log.With("component", "bot_orchestrator"),
		listener:  listener,
		scheduler: scheduler,
		services:  services,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, in which case the others are stopped too.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram bot listener...")
		b.listener.Start(gCtx)
		b.logger.Info("Telegram bot listener stopped.")

		if gCtx.Err() == nil {
			b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	for _, svc := range b.services {
		g.Go(func() error { return svc.Run(gCtx) })
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}
