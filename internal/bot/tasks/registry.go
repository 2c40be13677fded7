package tasks

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/joingate/internal/logger"
)

// ScheduledTaskFunc is the signature of every scheduled task.
type ScheduledTaskFunc func(ctx context.Context) error

// SQLMaintenance is the registry name of the database housekeeping task.
const SQLMaintenance = "sql_maintenance"

// RegisterAllTasks returns every task keyed by the name used in the
// scheduler section of the configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	tasks := map[string]ScheduledTaskFunc{
		SQLMaintenance: newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
