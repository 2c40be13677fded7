package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatsHandler returns a handler for /admin.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "admin")

	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	counts, err := h.deps.Store.CountUsers(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to count users", "error", err)
		reply(ctx, h.deps, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	reply(ctx, h.deps, log, chatID, fmt.Sprintf(h.deps.Config.Messages.Stats, counts.Total, counts.Approved, counts.Pending))
}

// NewCountHandler returns a handler for /count.
func NewCountHandler(deps HandlerDeps) bot.HandlerFunc {
	return countHandler{deps}.Handle
}

type countHandler struct {
	deps HandlerDeps
}

func (h countHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "count")

	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	counts, err := h.deps.Store.CountUsers(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to count users", "error", err)
		reply(ctx, h.deps, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	reply(ctx, h.deps, log, chatID, fmt.Sprintf(h.deps.Config.Messages.Count, counts.Total))
}
