package handlers

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) bot.HandlerFunc {
	return helpHandler{deps}.Handle
}

type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "help")

	if update.Message == nil {
		log.WarnContext(ctx, "Help handler received update with nil message", "update_id", update.ID)
		return
	}

	reply(ctx, h.deps, log, update.Message.Chat.ID, h.deps.Config.Messages.Help)
}

// NewDefaultHandler returns the handler for updates no other handler matched.
func NewDefaultHandler(logger *slog.Logger) bot.HandlerFunc {
	log := logger.With("handler", "default")
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		log.DebugContext(ctx, "Unhandled update ignored", "update_id", update.ID)
	}
}
