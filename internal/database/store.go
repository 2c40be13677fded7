package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/joingate/internal/logger"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertJoinRequest creates the user or resets an existing one to pending
	// with a fresh joined_at. Rejoining never creates a second record.
	UpsertJoinRequest(ctx context.Context, user *User) error

	// GetUser retrieves a user by Telegram id. Returns nil, nil if not found.
	GetUser(ctx context.Context, telegramID int64) (*User, error)

	// SetWelcomeMessageID stores the id of the welcome message sent to the user.
	SetWelcomeMessageID(ctx context.Context, telegramID int64, messageID int) error

	// ClearWelcomeMessageID drops the welcome message reference.
	ClearWelcomeMessageID(ctx context.Context, telegramID int64) error

	// MarkApproved sets status=approved and approved_at only while the user is
	// still pending. Reports whether the row changed.
	MarkApproved(ctx context.Context, telegramID int64, at time.Time) (bool, error)

	// CountUsers returns total, approved, and pending counts.
	CountUsers(ctx context.Context) (UserCounts, error)

	// ListUserIDsByStatus returns the ids of users in status, oldest join first.
	ListUserIDsByStatus(ctx context.Context, status UserStatus) ([]int64, error)

	// CreateBroadcast persists a staged broadcast.
	CreateBroadcast(ctx context.Context, b *Broadcast) error

	// GetBroadcast retrieves a broadcast by id. Returns nil, nil if not found.
	GetBroadcast(ctx context.Context, id string) (*Broadcast, error)

	// StartBroadcast moves a staged broadcast to running. Reports false when
	// the broadcast is missing or no longer staged.
	StartBroadcast(ctx context.Context, id string) (bool, error)

	// CancelBroadcast moves a staged broadcast to cancelled, keeping the row.
	CancelBroadcast(ctx context.Context, id string, at time.Time) (bool, error)

	// FinishBroadcast records the final counters and terminal status.
	FinishBroadcast(ctx context.Context, id string, result BroadcastResult) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// BroadcastResult is the terminal outcome of a broadcast run.
type BroadcastResult struct {
	Status     BroadcastStatus
	Total      int
	Succeeded  int
	Failed     int
	FinishedAt time.Time
}

// sqlxStore provides an implementation of the Store interface using sqlx.
// Queries are written with ? placeholders and rebound for the driver.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, log *slog.Logger) Store {
	if log == nil {
		log = logger.Discard()
	}
	return &sqlxStore{
		db:     db,
		logger: log.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) UpsertJoinRequest(ctx context.Context, user *User) error {
	if user == nil {
		return errors.New("cannot upsert nil user")
	}
	if user.TelegramID == 0 {
		return errors.New("user must have a non-zero telegram_id")
	}
	if user.JoinedAt.IsZero() {
		return errors.New("user must have a non-zero joined_at")
	}

	user.Status = StatusPending
	user.ApprovedAt = sql.NullTime{}
	user.JoinedAt = user.JoinedAt.UTC()
	user.CreatedAt = user.JoinedAt
	user.UpdatedAt = user.JoinedAt

	query := `
        INSERT INTO users (telegram_id, first_name, username, chat_id, status, joined_at, created_at, updated_at)
        VALUES (:telegram_id, :first_name, :username, :chat_id, :status, :joined_at, :created_at, :updated_at)
        ON CONFLICT (telegram_id) DO UPDATE SET
            first_name  = excluded.first_name,
            username    = excluded.username,
            chat_id     = excluded.chat_id,
            status      = excluded.status,
            joined_at   = excluded.joined_at,
            approved_at = NULL,
            updated_at  = excluded.updated_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, user); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting join request", "user_id", user.TelegramID, "error", err)
		return fmt.Errorf("failed to upsert user %d: %w", user.TelegramID, err)
	}

	s.logger.DebugContext(ctx, "Join request persisted", "user_id", user.TelegramID, "chat_id", user.ChatID)
	return nil
}

func (s *sqlxStore) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	if telegramID == 0 {
		return nil, errors.New("telegram_id cannot be zero")
	}

	var user User
	query := s.db.Rebind(`
        SELECT telegram_id, first_name, username, chat_id, status, joined_at, approved_at,
               welcome_message_id, created_at, updated_at
        FROM users WHERE telegram_id = ?;
    `)

	err := s.db.GetContext(ctx, &user, query, telegramID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user found", "user_id", telegramID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user",
			"user_id", telegramID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user by ID", "user_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}

	return &user, nil
}

func (s *sqlxStore) SetWelcomeMessageID(ctx context.Context, telegramID int64, messageID int) error {
	query := s.db.Rebind(`UPDATE users SET welcome_message_id = ?, updated_at = ? WHERE telegram_id = ?;`)
	if _, err := s.db.ExecContext(ctx, query, messageID, time.Now().UTC(), telegramID); err != nil {
		s.logger.ErrorContext(ctx, "Error saving welcome message id",
			"user_id", telegramID, "message_id", messageID, "error", err)
		return fmt.Errorf("failed to set welcome message for user %d: %w", telegramID, err)
	}
	return nil
}

func (s *sqlxStore) ClearWelcomeMessageID(ctx context.Context, telegramID int64) error {
	query := s.db.Rebind(`UPDATE users SET welcome_message_id = NULL, updated_at = ? WHERE telegram_id = ?;`)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), telegramID); err != nil {
		s.logger.ErrorContext(ctx, "Error clearing welcome message id", "user_id", telegramID, "error", err)
		return fmt.Errorf("failed to clear welcome message for user %d: %w", telegramID, err)
	}
	return nil
}

func (s *sqlxStore) MarkApproved(ctx context.Context, telegramID int64, at time.Time) (bool, error) {
	at = at.UTC()
	query := s.db.Rebind(`
        UPDATE users SET status = ?, approved_at = ?, updated_at = ?
        WHERE telegram_id = ? AND status = ?;
    `)

	result, err := s.db.ExecContext(ctx, query, StatusApproved, at, at, telegramID, StatusPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error approving user", "user_id", telegramID, "error", err)
		return false, fmt.Errorf("failed to approve user %d: %w", telegramID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for user %d: %w", telegramID, err)
	}
	return affected == 1, nil
}

func (s *sqlxStore) CountUsers(ctx context.Context) (UserCounts, error) {
	var counts UserCounts
	query := s.db.Rebind(`
        SELECT COUNT(*) AS total,
               COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS approved,
               COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending
        FROM users;
    `)

	if err := s.db.GetContext(ctx, &counts, query, StatusApproved, StatusPending); err != nil {
		s.logger.ErrorContext(ctx, "Error counting users", "error", err)
		return UserCounts{}, fmt.Errorf("failed to count users: %w", err)
	}
	return counts, nil
}

func (s *sqlxStore) ListUserIDsByStatus(ctx context.Context, status UserStatus) ([]int64, error) {
	var ids []int64
	query := s.db.Rebind(`SELECT telegram_id FROM users WHERE status = ? ORDER BY joined_at, telegram_id;`)

	if err := s.db.SelectContext(ctx, &ids, query, status); err != nil {
		s.logger.ErrorContext(ctx, "Error listing users by status", "status", status, "error", err)
		return nil, fmt.Errorf("failed to list %s users: %w", status, err)
	}

	s.logger.DebugContext(ctx, "Listed users by status", "status", status, "count", len(ids))
	return ids, nil
}

func (s *sqlxStore) CreateBroadcast(ctx context.Context, b *Broadcast) error {
	if b == nil || b.ID == "" {
		return errors.New("broadcast must have an id")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CreatedAt = b.CreatedAt.UTC()
	if b.Status == "" {
		b.Status = BroadcastStaged
	}

	query := `
        INSERT INTO broadcasts (id, content, initiator_id, status, total, succeeded, failed, created_at)
        VALUES (:id, :content, :initiator_id, :status, :total, :succeeded, :failed, :created_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, b); err != nil {
		s.logger.ErrorContext(ctx, "Error creating broadcast", "broadcast_id", b.ID, "error", err)
		return fmt.Errorf("failed to create broadcast %s: %w", b.ID, err)
	}

	s.logger.DebugContext(ctx, "Broadcast staged", "broadcast_id", b.ID, "initiator_id", b.InitiatorID)
	return nil
}

func (s *sqlxStore) GetBroadcast(ctx context.Context, id string) (*Broadcast, error) {
	var b Broadcast
	query := s.db.Rebind(`
        SELECT id, content, initiator_id, status, total, succeeded, failed, created_at, finished_at
        FROM broadcasts WHERE id = ?;
    `)

	err := s.db.GetContext(ctx, &b, query, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting broadcast", "broadcast_id", id, "error", err)
		return nil, fmt.Errorf("failed to get broadcast %s: %w", id, err)
	}
	return &b, nil
}

func (s *sqlxStore) StartBroadcast(ctx context.Context, id string) (bool, error) {
	return s.transitionBroadcast(ctx, id, BroadcastRunning, sql.NullTime{})
}

func (s *sqlxStore) CancelBroadcast(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.transitionBroadcast(ctx, id, BroadcastCancelled, sql.NullTime{Time: at.UTC(), Valid: true})
}

// transitionBroadcast moves a staged broadcast to status. The WHERE clause on
// the current status makes concurrent transitions mutually exclusive.
func (s *sqlxStore) transitionBroadcast(ctx context.Context, id string, status BroadcastStatus, finishedAt sql.NullTime) (bool, error) {
	query := s.db.Rebind(`UPDATE broadcasts SET status = ?, finished_at = ? WHERE id = ? AND status = ?;`)

	result, err := s.db.ExecContext(ctx, query, status, finishedAt, id, BroadcastStaged)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating broadcast status",
			"broadcast_id", id, "status", status, "error", err)
		return false, fmt.Errorf("failed to mark broadcast %s %s: %w", id, status, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for broadcast %s: %w", id, err)
	}
	return affected == 1, nil
}

func (s *sqlxStore) FinishBroadcast(ctx context.Context, id string, result BroadcastResult) error {
	query := s.db.Rebind(`
        UPDATE broadcasts SET status = ?, total = ?, succeeded = ?, failed = ?, finished_at = ?
        WHERE id = ?;
    `)

	_, err := s.db.ExecContext(ctx, query,
		result.Status, result.Total, result.Succeeded, result.Failed, result.FinishedAt.UTC(), id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error finishing broadcast", "broadcast_id", id, "error", err)
		return fmt.Errorf("failed to finish broadcast %s: %w", id, err)
	}
	return nil
}

// RunSQLMaintenance runs VACUUM on sqlite and ANALYZE on postgres.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting maintenance", "error", ctx.Err())
		return ctx.Err()
	}

	statement := "VACUUM;"
	if s.db.DriverName() == DriverPostgres {
		statement = "ANALYZE;"
	}

	s.logger.InfoContext(ctx, "Starting database maintenance...", "statement", statement)

	// Must run outside a transaction on both dialects.
	_, err := s.db.ExecContext(ctx, statement)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Database maintenance timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance failed", "error", err)
		return fmt.Errorf("failed to execute %s: %w", statement, err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	}

	return nil
}
