// Package database provides database setup, models, and data access layer (Store).
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/joingate/migrations"

	_ "github.com/jackc/pgx/v5/stdlib" //revive:disable:blank-imports
	_ "modernc.org/sqlite"             //revive:disable:blank-imports
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// ResolveDSN picks the driver for dsn. postgres:// and postgresql:// URLs use
// pgx; any other non-empty value is a sqlite path; an empty dsn becomes the
// sqlite file <name>.db.
func ResolveDSN(dsn, name string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn
	case dsn != "":
		return DriverSQLite, dsn
	default:
		return DriverSQLite, name + ".db"
	}
}

// Connection attempts made by NewDB before giving up.
const (
	connectAttempts = 5
	connectDelay    = 500 * time.Millisecond
)

// NewDB connects, applies migrations, and returns a new database connection pool.
func NewDB(ctx context.Context, dsn, name string) (*sqlx.DB, error) {
	driver, source := ResolveDSN(dsn, name)

	db, err := Connect(ctx, driver, source, connectAttempts, connectDelay)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// SQLite doesn't support concurrent writes, so max open conns = 1
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := ApplyMigrations(db.DB, driver); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database connected and migrations applied successfully", "driver", driver)
	return db, nil
}

// Connect opens and pings the database, retrying with exponential backoff
// so that a server still starting up is waited for.
func Connect(ctx context.Context, driver, source string, attempts uint, delay time.Duration) (*sqlx.DB, error) {
	var db *sqlx.DB
	err := retry.Do(
		func() error {
			var err error
			db, err = sqlx.ConnectContext(ctx, driver, source)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Database not reachable, retrying", "driver", driver, "attempt", n+1, "max_attempts", attempts, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	} else {
		slog.Info("Database connection closed successfully.")
	}
}

// ApplyMigrations runs the embedded migrations for the given driver.
func ApplyMigrations(db *sql.DB, driver string) error {
	if db == nil {
		return errors.New("database connection is nil, cannot apply migrations")
	}

	slog.Info("Applying database migrations...", "driver", driver)

	sourceDir, dbDriver, err := migrationDriver(db, driver)
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(migrations.FS, sourceDir)
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	migrateErr := migrator.Up()
	if migrateErr != nil {
		if errors.Is(migrateErr, migrate.ErrNoChange) {
			slog.Info("No database migrations to apply.")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", migrateErr)
	}

	slog.Info("Database migrations applied successfully.")
	return nil
}

// migrationDriver returns the migrations directory and the golang-migrate
// driver for a database/sql driver name.
func migrationDriver(db *sql.DB, driver string) (string, migratedb.Driver, error) {
	switch driver {
	case DriverSQLite:
		d, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		return "sqlite", d, nil
	case DriverPostgres:
		d, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to create pgx migration driver: %w", err)
		}
		return "postgres", d, nil
	default:
		return "", nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
