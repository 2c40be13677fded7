// Package broadcast delivers one stored message to every approved user in
// throttled batches, and guards it behind a stage and confirm step.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/joingate/internal/config"
	"github.com/edgard/joingate/internal/logger"
	"github.com/edgard/joingate/internal/payload"
	"github.com/edgard/joingate/internal/telegram"
)

// ErrSendTimeout is returned when a send does not settle within the send timeout.
var ErrSendTimeout = errors.New("send timed out")

// Sender is the slice of the transport the engine needs.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error)
	SendPhoto(ctx context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error)
	SendVideo(ctx context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error)
	SendDocument(ctx context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error)
}

// EngineConfig tunes batching and timing.
type EngineConfig struct {
	BatchSize        int
	BatchPause       time.Duration
	SendTimeout      time.Duration
	ProgressInterval time.Duration
}

// NewEngineConfig reads the broadcast section of cfg.
func NewEngineConfig(cfg config.BroadcastConfig) EngineConfig {
	return EngineConfig{
		BatchSize:        cfg.BatchSize,
		BatchPause:       cfg.BatchPause,
		SendTimeout:      cfg.SendTimeout,
		ProgressInterval: cfg.ProgressInterval,
	}
}

// Engine fans a payload out to recipients batch by batch.
type Engine struct {
	sender Sender
	clock  clockwork.Clock
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine creates an engine. A nil clock uses the real clock; zero config
// values fall back to the defaults.
func NewEngine(sender Sender, clock clockwork.Clock, cfg EngineConfig, log *slog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = config.DefaultSendTimeout
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = config.DefaultProgressInterval
	}
	return &Engine{sender: sender, clock: clock, cfg: cfg, logger: log.With("component", "broadcast_engine")}
}

// Run delivers p to every recipient and returns the final counters.
// Batches run strictly in order; sends within a batch run concurrently and
// all settle before the pause that precedes the next batch. A progress
// ticker reports while batches run; it is stopped before the final report.
// Send failures never abort the run.
func (e *Engine) Run(ctx context.Context, p payload.Payload, recipients []int64, reporter Reporter) Progress {
	total := len(recipients)
	var succeeded, failed atomic.Int64

	snapshot := func(done bool) Progress {
		return Progress{
			Total:     total,
			Succeeded: int(succeeded.Load()),
			Failed:    int(failed.Load()),
			Done:      done,
		}
	}

	log := e.logger.With("total", total, "kind", p.Kind)
	log.InfoContext(ctx, "Broadcast started", "batch_size", e.cfg.BatchSize)
	start := e.clock.Now()

	tickCtx, stopTicker := context.WithCancel(ctx)
	var ticker sync.WaitGroup
	ticker.Add(1)
	go func() {
		defer ticker.Done()
		e.reportLoop(tickCtx, snapshot, reporter)
	}()

	for from := 0; from < total; from += e.cfg.BatchSize {
		batch := recipients[from:min(from+e.cfg.BatchSize, total)]

		var g errgroup.Group
		for _, chatID := range batch {
			g.Go(func() error {
				err := e.deliver(ctx, p, chatID)
				switch {
				case err == nil:
					succeeded.Add(1)
				case telegram.IsUnreachable(err):
					failed.Add(1)
				default:
					failed.Add(1)
					log.WarnContext(ctx, "Broadcast send failed", "chat_id", chatID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		log.DebugContext(ctx, "Batch settled", "from", from, "size", len(batch))
		e.pause(ctx)
	}

	stopTicker()
	ticker.Wait()

	final := snapshot(true)
	if reporter != nil {
		reporter.Report(ctx, final)
	}

	log.InfoContext(ctx, "Broadcast finished",
		"succeeded", final.Succeeded, "failed", final.Failed, "duration", e.clock.Since(start))
	return final
}

// reportLoop publishes a snapshot on every tick until ctx is done, skipping
// snapshots identical to the last one published.
func (e *Engine) reportLoop(ctx context.Context, snapshot func(bool) Progress, reporter Reporter) {
	if reporter == nil {
		return
	}

	reporter.Report(ctx, snapshot(false))
	last := snapshot(false)

	t := e.clock.NewTicker(e.cfg.ProgressInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			current := snapshot(false)
			if current == last {
				continue
			}
			reporter.Report(ctx, current)
			last = current
		}
	}
}

func (e *Engine) pause(ctx context.Context) {
	if e.cfg.BatchPause <= 0 {
		return
	}
	select {
	case <-e.clock.After(e.cfg.BatchPause):
	case <-ctx.Done():
	}
}

// deliver sends p to one recipient. Text payloads get a second attempt with
// the raw text and no formatting when the first fails for a reason other
// than the recipient being unreachable.
func (e *Engine) deliver(ctx context.Context, p payload.Payload, chatID int64) error {
	opts := telegram.SendOptions{ParseMode: p.ParseMode(), Entities: p.SendEntities()}
	text := p.RenderText()

	switch p.Kind {
	case payload.KindText:
		err := e.race(ctx, func(ctx context.Context) error {
			_, err := e.sender.SendText(ctx, chatID, text, opts)
			return err
		})
		if err == nil || telegram.IsUnreachable(err) {
			return err
		}
		e.logger.DebugContext(ctx, "Formatted text send failed, retrying as raw text", "chat_id", chatID, "error", err)
		return e.race(ctx, func(ctx context.Context) error {
			_, err := e.sender.SendText(ctx, chatID, p.Text, telegram.SendOptions{})
			return err
		})
	case payload.KindPhoto:
		return e.race(ctx, func(ctx context.Context) error {
			_, err := e.sender.SendPhoto(ctx, chatID, p.FileID, text, opts)
			return err
		})
	case payload.KindVideo:
		return e.race(ctx, func(ctx context.Context) error {
			_, err := e.sender.SendVideo(ctx, chatID, p.FileID, text, opts)
			return err
		})
	case payload.KindDocument:
		return e.race(ctx, func(ctx context.Context) error {
			_, err := e.sender.SendDocument(ctx, chatID, p.FileID, text, opts)
			return err
		})
	default:
		return payload.ErrUnsupported
	}
}

// race runs call against the send timeout. Whichever settles first wins; the
// call's context is cancelled either way so the request is abandoned.
func (e *Engine) race(ctx context.Context, call func(ctx context.Context) error) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- call(callCtx) }()

	timer := e.clock.NewTimer(e.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.Chan():
		return ErrSendTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
