// Package main contains the entrypoint for the join-request gating bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/joingate/internal/bot"
	"github.com/edgard/joingate/internal/bot/handlers"
	"github.com/edgard/joingate/internal/bot/tasks"
	"github.com/edgard/joingate/internal/broadcast"
	"github.com/edgard/joingate/internal/config"
	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/health"
	"github.com/edgard/joingate/internal/logger"
	"github.com/edgard/joingate/internal/onboarding"
	"github.com/edgard/joingate/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires every component, blocks until shutdown and returns the exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(ctx, cfg.Database.DSN, cfg.Database.Name)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Telegram.RequestTimeout)
	err = store.Ping(pingCtx)
	cancelPing()
	if err != nil {
		log.Error("Database is not reachable", "error", err)
		return 1
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewDefaultHandler(log)),
		tgbot.WithAllowedUpdates(tgbot.AllowedUpdates{"message", "callback_query", "chat_join_request"}),
		tgbot.WithCheckInitTimeout(cfg.Telegram.RequestTimeout),
		tgbot.WithErrorsHandler(func(err error) {
			log.Error("Telegram update polling error", "error", err)
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	setupCtx, cancelSetup := context.WithTimeout(ctx, cfg.Telegram.RequestTimeout)
	me, err := tg.GetMe(setupCtx)
	if err != nil {
		cancelSetup()
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	cfg.Telegram.BotUsername = me.Username
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	if err := telegram.RegisterAllCommands(setupCtx, tg, log); err != nil {
		log.Warn("Failed to publish bot commands", "error", err)
	}
	cancelSetup()

	clock := clockwork.NewRealClock()
	client := telegram.NewClient(tg, log)

	sched, err := bot.NewScheduler(log, clock)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	sched.RegisterTasks(cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{Logger: log, Store: store, Clock: clock}))

	unlockURL := onboarding.UnlockURL(cfg.Telegram.BotUsername, cfg.Onboarding.UnlockParam)
	machine := onboarding.NewMachine(store, client, sched, clock, onboarding.NewConfig(cfg, unlockURL), log)

	engine := broadcast.NewEngine(client, clock, broadcast.NewEngineConfig(cfg.Broadcast), log)
	gate := broadcast.NewGate(store, engine, cfg, clock, log)

	hDeps := handlers.HandlerDeps{
		Logger:     log,
		Config:     cfg,
		Store:      store,
		Onboarding: machine,
		Broadcasts: gate,
		Messenger:  client,
	}
	if err := handlers.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	app := bot.NewBot(log, tg, sched, health.New(cfg.HTTP, log))

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	return 0
}
