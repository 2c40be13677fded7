// Package handlers contains the Telegram update handlers, their
// registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly lets only configured operators through. Messages from anyone
// else get the not-authorized reply; callback queries get it as a toast.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			log := deps.Logger.With("middleware", "AdminOnly")

			switch {
			case update.Message != nil && update.Message.From != nil:
				userID := update.Message.From.ID
				if deps.Config.IsAdmin(userID) {
					next(ctx, b, update)
					return
				}
				chatID := update.Message.Chat.ID
				log.WarnContext(ctx, "Unauthorized access attempt", "user_id", userID, "chat_id", chatID)
				reply(ctx, deps, log, chatID, deps.Config.Messages.NotAuthorized)

			case update.CallbackQuery != nil:
				userID := update.CallbackQuery.From.ID
				if deps.Config.IsAdmin(userID) {
					next(ctx, b, update)
					return
				}
				log.WarnContext(ctx, "Unauthorized callback query", "user_id", userID)
				if err := deps.Messenger.AnswerCallback(ctx, update.CallbackQuery.ID, deps.Config.Messages.NotAuthorized); err != nil {
					log.ErrorContext(ctx, "Failed to answer callback query", "error", err)
				}

			default:
				log.DebugContext(ctx, "Update without sender, ignored", "update_id", update.ID)
			}
		}
	}
}
