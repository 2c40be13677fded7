package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/joingate/internal/broadcast"
	"github.com/edgard/joingate/internal/config"
	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/onboarding"
	"github.com/edgard/joingate/internal/payload"
	"github.com/edgard/joingate/internal/telegram"
)

// Messenger sends and edits the bot's own messages.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, opts telegram.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Onboarding drives the join-request timeline.
type Onboarding interface {
	HandleJoinRequest(ctx context.Context, req onboarding.JoinRequest) (onboarding.Timeline, error)
	Unlock(ctx context.Context, userID int64, firstName string, chatID int64) (int, error)
	SendOnboarding(ctx context.Context, firstName string, chatID int64) (int, error)
}

// Broadcasts stages, confirms and runs broadcast jobs.
type Broadcasts interface {
	Stage(ctx context.Context, p payload.Payload, initiatorID int64) (*database.Broadcast, error)
	Confirm(ctx context.Context, id string) (*database.Broadcast, error)
	Cancel(ctx context.Context, id string) error
	Run(ctx context.Context, job *database.Broadcast, reporter broadcast.Reporter) (broadcast.Progress, error)
}

// UserCounter reports user totals.
type UserCounter interface {
	CountUsers(ctx context.Context) (database.UserCounts, error)
}

// HandlerDeps provides dependencies for Telegram update handlers.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      UserCounter
	Onboarding Onboarding
	Broadcasts Broadcasts
	Messenger  Messenger
}

// reply sends a plain text message and logs a failure.
func reply(ctx context.Context, deps HandlerDeps, log *slog.Logger, chatID int64, text string) {
	if _, err := deps.Messenger.SendText(ctx, chatID, text, telegram.SendOptions{}); err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
	}
}
