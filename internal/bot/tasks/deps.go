// Package tasks implements the periodic jobs run by the bot scheduler.
package tasks

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Maintainer runs storage housekeeping.
type Maintainer interface {
	RunSQLMaintenance(ctx context.Context) error
}

// TaskDeps contains the dependencies of scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  Maintainer
	Clock  clockwork.Clock
}
