package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/logger"
	"github.com/edgard/joingate/internal/payload"
)

var (
	// ErrNotOperator is returned when a non-operator tries to stage a broadcast.
	ErrNotOperator = errors.New("not an operator")
	// ErrEmptyPayload is returned when the staged message has nothing to send.
	ErrEmptyPayload = errors.New("nothing to broadcast")
	// ErrJobNotFound is returned for an unknown broadcast id.
	ErrJobNotFound = errors.New("broadcast not found")
	// ErrJobNotStaged is returned when the broadcast was already confirmed or cancelled.
	ErrJobNotStaged = errors.New("broadcast already handled")
	// ErrRecipientsUnavailable is returned when the recipient list cannot be read.
	ErrRecipientsUnavailable = errors.New("recipient list unavailable")
)

// Store is the slice of the database the gate needs.
type Store interface {
	CreateBroadcast(ctx context.Context, b *database.Broadcast) error
	GetBroadcast(ctx context.Context, id string) (*database.Broadcast, error)
	StartBroadcast(ctx context.Context, id string) (bool, error)
	CancelBroadcast(ctx context.Context, id string, at time.Time) (bool, error)
	FinishBroadcast(ctx context.Context, id string, result database.BroadcastResult) error
	ListUserIDsByStatus(ctx context.Context, status database.UserStatus) ([]int64, error)
}

// Operators decides who may stage a broadcast.
type Operators interface {
	IsAdmin(userID int64) bool
}

// Gate stages broadcasts and only runs them after an explicit confirmation
// that names the staged job by id.
type Gate struct {
	store     Store
	engine    *Engine
	operators Operators
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewGate wires the gate. A nil clock uses the real clock.
func NewGate(store Store, engine *Engine, operators Operators, clock clockwork.Clock, log *slog.Logger) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Gate{
		store:     store,
		engine:    engine,
		operators: operators,
		clock:     clock,
		logger:    log.With("component", "broadcast_gate"),
	}
}

// Stage persists p as a staged broadcast and sends nothing.
func (g *Gate) Stage(ctx context.Context, p payload.Payload, initiatorID int64) (*database.Broadcast, error) {
	if !g.operators.IsAdmin(initiatorID) {
		g.logger.WarnContext(ctx, "Non-operator tried to stage a broadcast", "user_id", initiatorID)
		return nil, ErrNotOperator
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmptyPayload, err)
	}

	job := &database.Broadcast{
		ID:          uuid.NewString(),
		Content:     p,
		InitiatorID: initiatorID,
		Status:      database.BroadcastStaged,
		CreatedAt:   g.clock.Now(),
	}
	if err := g.store.CreateBroadcast(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to stage broadcast: %w", err)
	}

	g.logger.InfoContext(ctx, "Broadcast staged", "broadcast_id", job.ID, "initiator_id", initiatorID, "kind", p.Kind)
	return job, nil
}

// Confirm moves the staged job id to running and returns it. Only one
// confirmation of a job can succeed.
func (g *Gate) Confirm(ctx context.Context, id string) (*database.Broadcast, error) {
	job, err := g.store.GetBroadcast(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load broadcast: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	started, err := g.store.StartBroadcast(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to start broadcast: %w", err)
	}
	if !started {
		return nil, ErrJobNotStaged
	}

	job.Status = database.BroadcastRunning
	g.logger.InfoContext(ctx, "Broadcast confirmed", "broadcast_id", id)
	return job, nil
}

// Cancel marks the staged job id cancelled. The row is kept.
func (g *Gate) Cancel(ctx context.Context, id string) error {
	job, err := g.store.GetBroadcast(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load broadcast: %w", err)
	}
	if job == nil {
		return ErrJobNotFound
	}

	cancelled, err := g.store.CancelBroadcast(ctx, id, g.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel broadcast: %w", err)
	}
	if !cancelled {
		return ErrJobNotStaged
	}

	g.logger.InfoContext(ctx, "Broadcast cancelled", "broadcast_id", id)
	return nil
}

// Run delivers a confirmed job to the current approved users and records
// the outcome. A failure to read the recipients fails the job.
func (g *Gate) Run(ctx context.Context, job *database.Broadcast, reporter Reporter) (Progress, error) {
	log := g.logger.With("broadcast_id", job.ID)

	recipients, err := g.store.ListUserIDsByStatus(ctx, database.StatusApproved)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read recipients, broadcast aborted", "error", err)
		_ = g.finish(ctx, job.ID, database.BroadcastResult{Status: database.BroadcastFailed, FinishedAt: g.clock.Now()})
		return Progress{}, fmt.Errorf("%w: %w", ErrRecipientsUnavailable, err)
	}

	final := g.engine.Run(ctx, job.Content, recipients, reporter)

	return final, g.finish(ctx, job.ID, database.BroadcastResult{
		Status:     database.BroadcastDone,
		Total:      final.Total,
		Succeeded:  final.Succeeded,
		Failed:     final.Failed,
		FinishedAt: g.clock.Now(),
	})
}

func (g *Gate) finish(ctx context.Context, id string, result database.BroadcastResult) error {
	if err := g.store.FinishBroadcast(ctx, id, result); err != nil {
		g.logger.ErrorContext(ctx, "Failed to record broadcast outcome", "broadcast_id", id, "status", result.Status, "error", err)
		return fmt.Errorf("failed to record broadcast outcome: %w", err)
	}
	return nil
}
