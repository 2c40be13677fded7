package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/joingate/internal/bot/tasks"
	"github.com/edgard/joingate/internal/config"
	"github.com/edgard/joingate/internal/logger"
)

// Scheduler runs periodic maintenance tasks and the one-shot timers of the
// onboarding timeline on a single gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	clock     clockwork.Clock
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a stopped scheduler. A nil clock uses the real clock.
func NewScheduler(log *slog.Logger, clock clockwork.Clock) (*Scheduler, error) {
	if log == nil {
		log = logger.Discard()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log = log.With("component", "scheduler")

	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{scheduler: s, clock: clock, logger: log}, nil
}

// RegisterTasks schedules every enabled task of cfg found in taskMap and
// returns how many were scheduled. Misconfigured tasks are logged and skipped.
func (s *Scheduler) RegisterTasks(cfg config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) int {
	if len(cfg.Tasks) == 0 {
		s.logger.Warn("No scheduler tasks configured.")
		return 0
	}

	scheduled := 0
	for name, taskCfg := range cfg.Tasks {
		if !taskCfg.Enabled {
			s.logger.Info("Skipping disabled task", "task_name", name)
			continue
		}
		task, ok := taskMap[name]
		if !ok {
			s.logger.Warn("Scheduled task configured but not found in registry, skipping", "task_name", name)
			continue
		}
		if err := s.AddPeriodicTask(name, taskCfg.Schedule, task); err != nil {
			s.logger.Error("Failed to schedule task", "task_name", name, "schedule", taskCfg.Schedule, "error", err)
			continue
		}
		scheduled++
	}
	return scheduled
}

// AddPeriodicTask runs task on a cron schedule with an optional seconds field.
func (s *Scheduler) AddPeriodicTask(name, schedule string, task tasks.ScheduledTaskFunc) error {
	if schedule == "" {
		return fmt.Errorf("task %q has an empty schedule", name)
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(schedule, true),
		gocron.NewTask(func() {
			ctx := context.Background()
			s.logger.InfoContext(ctx, "Running scheduled task", "task_name", name)
			start := s.clock.Now()
			if err := task(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Scheduled task failed", "task_name", name, "error", err)
			}
			s.logger.InfoContext(ctx, "Finished scheduled task", "task_name", name, "duration", s.clock.Since(start))
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule task %q: %w", name, err)
	}

	s.logger.Info("Scheduled task", "task_name", name, "schedule", schedule)
	return nil
}

// ScheduleAfter runs task once after delay and returns the job id. A delay
// of zero or less runs it as soon as the scheduler is running. The job is
// removed from the scheduler after it runs.
func (s *Scheduler) ScheduleAfter(name string, delay time.Duration, task func(ctx context.Context)) (uuid.UUID, error) {
	start := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		start = gocron.OneTimeJobStartDateTime(s.clock.Now().Add(delay))
	}

	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			ctx := context.Background()
			s.logger.DebugContext(ctx, "Running timer", "timer", name)
			task(ctx)
		}),
		gocron.WithName(name),
		gocron.WithLimitedRuns(1),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to schedule %q: %w", name, err)
	}

	s.logger.Debug("Timer scheduled", "timer", name, "delay", delay, "job_id", job.ID())
	return job.ID(), nil
}

// Cancel removes a pending job. Cancelling a one-shot job that already ran
// is an error.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	if err := s.scheduler.RemoveJob(id); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	return nil
}

// JobCount returns how many jobs are registered, periodic tasks included.
func (s *Scheduler) JobCount() int {
	return len(s.scheduler.Jobs())
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "jobs", s.JobCount())
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to complete.
// Pending one-shot timers are dropped.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}

	s.logger.Debug("Stopping scheduler gracefully (waiting for jobs)...")
	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}
