package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/joingate/internal/onboarding"
)

// NewJoinRequestHandler returns a handler for chat join requests.
func NewJoinRequestHandler(deps HandlerDeps) bot.HandlerFunc {
	return joinRequestHandler{deps}.Handle
}

type joinRequestHandler struct {
	deps HandlerDeps
}

func (h joinRequestHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "join_request")

	jr := update.ChatJoinRequest
	if jr == nil {
		log.WarnContext(ctx, "Join request handler received update without a join request", "update_id", update.ID)
		return
	}

	req := onboarding.JoinRequest{
		UserID:    jr.From.ID,
		FirstName: jr.From.FirstName,
		Username:  jr.From.Username,
		ChatID:    jr.Chat.ID,
	}
	if _, err := h.deps.Onboarding.HandleJoinRequest(ctx, req); err != nil {
		log.ErrorContext(ctx, "Failed to handle join request", "error", err, "user_id", req.UserID, "chat_id", req.ChatID)
	}
}

// NewStartHandler returns a handler for /start. "/start <unlock param>",
// the deep link behind the welcome button, unlocks onboarding.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	param := commandArgument(msg.Text)
	log.InfoContext(ctx, "Handling /start command", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "param", param)

	var err error
	if param != "" && param == h.deps.Config.Onboarding.UnlockParam {
		_, err = h.deps.Onboarding.Unlock(ctx, msg.From.ID, msg.From.FirstName, msg.Chat.ID)
	} else {
		_, err = h.deps.Onboarding.SendOnboarding(ctx, msg.From.FirstName, msg.Chat.ID)
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to render onboarding", "error", err, "chat_id", msg.Chat.ID)
		reply(ctx, h.deps, log, msg.Chat.ID, h.deps.Config.Messages.GeneralError)
	}
}

// NewUnlockHandler returns a handler for /unlock.
func NewUnlockHandler(deps HandlerDeps) bot.HandlerFunc {
	return unlockHandler{deps}.Handle
}

type unlockHandler struct {
	deps HandlerDeps
}

func (h unlockHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "unlock")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Unlock handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	if _, err := h.deps.Onboarding.Unlock(ctx, msg.From.ID, msg.From.FirstName, msg.Chat.ID); err != nil {
		log.ErrorContext(ctx, "Failed to unlock onboarding", "error", err, "chat_id", msg.Chat.ID)
		reply(ctx, h.deps, log, msg.Chat.ID, h.deps.Config.Messages.GeneralError)
	}
}

// commandArgument returns the first word after the command, if any.
func commandArgument(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
