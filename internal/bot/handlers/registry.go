package handlers

import (
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/joingate/internal/logger"
)

// RegisteredHandler describes one handler and how updates reach it. When
// Match is set it takes precedence over HandlerType, Pattern and MatchType.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
	Match       tgbot.MatchFunc
}

// RegisterAllCommands returns every handler keyed by a descriptive name.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	handlers["join_request"] = RegisteredHandler{
		Handler: NewJoinRequestHandler(deps),
		Match:   isJoinRequest,
	}
	handlers["/start"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     NewStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/unlock"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "unlock",
		Handler:     NewUnlockHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/count"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "count",
		Handler:     NewCountHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/help"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "help",
		Handler:     NewHelpHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}

	handlers["/admin"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "admin",
		Handler:     NewStatsHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  adminMiddleware,
	}
	handlers["/send"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "send",
		Handler:     NewSendHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  adminMiddleware,
	}
	handlers["broadcast_callback"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeCallbackQueryData,
		Pattern:     callbackPrefix,
		Handler:     NewBroadcastCallbackHandler(deps),
		MatchType:   tgbot.MatchTypePrefix,
		Middleware:  adminMiddleware,
	}

	return handlers
}

// RegisterHandlers attaches every handler, with its middleware, to b.
func RegisterHandlers(b *tgbot.Bot, log *slog.Logger, registered map[string]RegisteredHandler) error {
	if b == nil {
		return fmt.Errorf("bot instance cannot be nil")
	}
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("component", "handler_registry")

	if len(registered) == 0 {
		log.Warn("No handlers provided for registration.")
		return nil
	}

	log.Info("Registering Telegram handlers...", "count", len(registered))
	for name, h := range registered {
		if h.Handler == nil {
			log.Warn("Skipping registration for nil handler", "name", name)
			continue
		}

		final := applyMiddleware(h.Handler, h.Middleware)
		if h.Match != nil {
			b.RegisterHandlerMatchFunc(h.Match, final)
		} else {
			b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, final)
		}
		log.Debug("Registered handler", "name", name, "pattern", h.Pattern, "middleware_count", len(h.Middleware))
	}

	log.Info("Registered Telegram handlers successfully", "count", len(registered))
	return nil
}

// applyMiddleware wraps handler so that the first middleware runs first.
func applyMiddleware(handler tgbot.HandlerFunc, middleware []tgbot.Middleware) tgbot.HandlerFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

func isJoinRequest(update *models.Update) bool {
	return update.ChatJoinRequest != nil
}
