// Package telegram creates the go-telegram/bot instance and wraps it as the
// messaging transport used by the onboarding and broadcast packages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewTelegramBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	log.Info("Telegram bot instance created successfully", "token_prefix", prefix+"...")
	return b, nil
}

// BotCommands is the command list published with SetMyCommands.
var BotCommands = []models.BotCommand{
	{Command: "start", Description: "Show the onboarding message"},
	{Command: "unlock", Description: "Unlock your access"},
	{Command: "count", Description: "Number of users"},
	{Command: "admin", Description: "Statistics (operators)"},
	{Command: "send", Description: "Broadcast the replied message (operators)"},
	{Command: "help", Description: "Show available commands"},
}

// RegisterAllCommands publishes BotCommands to Telegram.
func RegisterAllCommands(ctx context.Context, b *bot.Bot, logger *slog.Logger) error {
	if _, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: BotCommands}); err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	logger.InfoContext(ctx, "Bot commands registered", "count", len(BotCommands))
	return nil
}
