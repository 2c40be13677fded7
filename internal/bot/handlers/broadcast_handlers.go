package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/joingate/internal/broadcast"
	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/payload"
	"github.com/edgard/joingate/internal/telegram"
)

const (
	callbackPrefix  = "broadcast:"
	actionConfirm   = "confirm"
	actionCancel    = "cancel"
	promptPreviewAt = 100
)

// ConfirmData is the callback data of the confirm button for job id.
func ConfirmData(id string) string { return callbackPrefix + actionConfirm + ":" + id }

// CancelData is the callback data of the cancel button for job id.
func CancelData(id string) string { return callbackPrefix + actionCancel + ":" + id }

// parseCallbackData splits "broadcast:<action>:<id>".
func parseCallbackData(data string) (action, id string, ok bool) {
	rest, found := strings.CutPrefix(data, callbackPrefix)
	if !found {
		return "", "", false
	}
	action, id, found = strings.Cut(rest, ":")
	if !found || id == "" || (action != actionConfirm && action != actionCancel) {
		return "", "", false
	}
	return action, id, true
}

// NewSendHandler returns a handler for /send. The operator replies to the
// message to broadcast; the bot stages it and asks for confirmation.
func NewSendHandler(deps HandlerDeps) bot.HandlerFunc {
	return sendHandler{deps}.Handle
}

type sendHandler struct {
	deps HandlerDeps
}

func (h sendHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "send")
	msgs := h.deps.Config.Messages

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Send handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := msg.Chat.ID

	if msg.ReplyToMessage == nil {
		reply(ctx, h.deps, log, chatID, msgs.SendNeedsReply)
		return
	}

	p, err := payload.FromMessage(msg.ReplyToMessage)
	if err != nil {
		log.InfoContext(ctx, "Message cannot be broadcast", "error", err, "message_id", msg.ReplyToMessage.ID)
		reply(ctx, h.deps, log, chatID, msgs.SendUnsupported)
		return
	}

	job, err := h.deps.Broadcasts.Stage(ctx, p, msg.From.ID)
	switch {
	case errors.Is(err, broadcast.ErrNotOperator):
		reply(ctx, h.deps, log, chatID, msgs.NotAuthorized)
		return
	case errors.Is(err, broadcast.ErrEmptyPayload):
		reply(ctx, h.deps, log, chatID, msgs.SendUnsupported)
		return
	case err != nil:
		log.ErrorContext(ctx, "Failed to stage broadcast", "error", err)
		reply(ctx, h.deps, log, chatID, msgs.GeneralError)
		return
	}

	preview := p.Preview(promptPreviewAt)
	if preview == "" {
		preview = "-"
	}
	prompt := fmt.Sprintf(msgs.ConfirmPrompt, p.Kind, preview)
	keyboard := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{{
		{Text: msgs.ConfirmButton, CallbackData: ConfirmData(job.ID)},
		{Text: msgs.CancelButton, CallbackData: CancelData(job.ID)},
	}}}

	if _, err := h.deps.Messenger.SendText(ctx, chatID, prompt, telegram.SendOptions{Keyboard: keyboard}); err != nil {
		log.ErrorContext(ctx, "Failed to send confirmation prompt", "error", err, "broadcast_id", job.ID)
	}
}

// NewBroadcastCallbackHandler returns a handler for the confirm and cancel
// buttons of a staged broadcast.
func NewBroadcastCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return broadcastCallbackHandler{deps}.Handle
}

type broadcastCallbackHandler struct {
	deps HandlerDeps
}

func (h broadcastCallbackHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "broadcast_callback")

	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	if err := h.deps.Messenger.AnswerCallback(ctx, cq.ID, ""); err != nil {
		log.WarnContext(ctx, "Failed to answer callback query", "error", err)
	}

	action, id, ok := parseCallbackData(cq.Data)
	if !ok {
		log.WarnContext(ctx, "Malformed broadcast callback data", "data", cq.Data)
		return
	}
	if cq.Message.Message == nil {
		log.WarnContext(ctx, "Callback without an accessible prompt message", "broadcast_id", id)
		return
	}
	chatID := cq.Message.Message.Chat.ID
	messageID := cq.Message.Message.ID
	log = log.With("broadcast_id", id, "action", action, "user_id", cq.From.ID)

	switch action {
	case actionCancel:
		h.edit(ctx, log, chatID, messageID, h.outcomeText(h.deps.Broadcasts.Cancel(ctx, id), h.deps.Config.Messages.Cancelled))

	case actionConfirm:
		job, err := h.deps.Broadcasts.Confirm(ctx, id)
		if err != nil {
			log.InfoContext(ctx, "Broadcast not confirmed", "error", err)
			h.edit(ctx, log, chatID, messageID, h.outcomeText(err, ""))
			return
		}

		reporter := broadcast.NewMessageReporter(h.deps.Messenger, chatID, messageID, h.deps.Config.Broadcast.SendTimeout, h.deps.Logger)
		go h.run(context.WithoutCancel(ctx), log, job, reporter, chatID, messageID)
	}
}

// run delivers the job in the background; the prompt message shows progress.
func (h broadcastCallbackHandler) run(ctx context.Context, log *slog.Logger, job *database.Broadcast, reporter broadcast.Reporter, chatID int64, messageID int) {
	_, err := h.deps.Broadcasts.Run(ctx, job, reporter)
	if errors.Is(err, broadcast.ErrRecipientsUnavailable) {
		h.edit(ctx, log, chatID, messageID, h.deps.Config.Messages.BroadcastFailed)
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "Broadcast finished with an error", "error", err)
	}
}

// outcomeText maps a gate result to the text that replaces the prompt.
func (h broadcastCallbackHandler) outcomeText(err error, success string) string {
	msgs := h.deps.Config.Messages
	switch {
	case err == nil:
		return success
	case errors.Is(err, broadcast.ErrJobNotStaged), errors.Is(err, broadcast.ErrJobNotFound):
		return msgs.AlreadyHandled
	default:
		return msgs.GeneralError
	}
}

func (h broadcastCallbackHandler) edit(ctx context.Context, log *slog.Logger, chatID int64, messageID int, text string) {
	if err := h.deps.Messenger.EditText(ctx, chatID, messageID, text, telegram.SendOptions{}); err != nil {
		log.ErrorContext(ctx, "Failed to update broadcast prompt", "error", err, "chat_id", chatID)
	}
}
