package database

import (
	"database/sql"
	"time"

	"github.com/edgard/joingate/internal/payload"
)

// UserStatus is the workflow status of a join request. Expiry is implicit:
// a record that was never approved simply stays pending.
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusApproved UserStatus = "approved"
)

// User is one member candidate, keyed by Telegram user id.
type User struct {
	TelegramID       int64          `db:"telegram_id"`
	FirstName        string         `db:"first_name"`
	Username         sql.NullString `db:"username"`
	ChatID           int64          `db:"chat_id"` // chat the join request targets
	Status           UserStatus     `db:"status"`
	JoinedAt         time.Time      `db:"joined_at"`
	ApprovedAt       sql.NullTime   `db:"approved_at"`
	WelcomeMessageID sql.NullInt64  `db:"welcome_message_id"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// BroadcastStatus is the lifecycle of a staged broadcast.
type BroadcastStatus string

const (
	BroadcastStaged    BroadcastStatus = "staged"
	BroadcastRunning   BroadcastStatus = "running"
	BroadcastDone      BroadcastStatus = "done"
	BroadcastCancelled BroadcastStatus = "cancelled"
	BroadcastFailed    BroadcastStatus = "failed"
)

// Broadcast is a staged message and, once run, its aggregate outcome.
type Broadcast struct {
	ID          string          `db:"id"`
	Content     payload.Payload `db:"content"`
	InitiatorID int64           `db:"initiator_id"`
	Status      BroadcastStatus `db:"status"`
	Total       int             `db:"total"`
	Succeeded   int             `db:"succeeded"`
	Failed      int             `db:"failed"`
	CreatedAt   time.Time       `db:"created_at"`
	FinishedAt  sql.NullTime    `db:"finished_at"`
}

// UserCounts groups the numbers shown to operators.
type UserCounts struct {
	Total    int `db:"total"`
	Approved int `db:"approved"`
	Pending  int `db:"pending"`
}
