// Package config loads the bot configuration from defaults, an optional
// YAML file, a .env file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// envBindings maps config keys to the environment names used by existing
// deployments. Keys not listed here are still reachable as BOT_<KEY>.
var envBindings = map[string][]string{
	"telegram.token":              {"TELEGRAM_BOT_TOKEN", "BOT_TELEGRAM_TOKEN"},
	"telegram.admin_ids":          {"ADMINS", "BOT_TELEGRAM_ADMIN_IDS"},
	"database.dsn":                {"DATABASE_URL", "BOT_DATABASE_DSN"},
	"database.name":               {"DB_NAME", "BOT_DATABASE_NAME"},
	"onboarding.video_url":        {"VIDEO_URL", "BOT_ONBOARDING_VIDEO_URL"},
	"onboarding.links.channel1":   {"CHANNEL1_URL"},
	"onboarding.links.channel2":   {"CHANNEL2_URL"},
	"onboarding.links.channel3":   {"CHANNEL3_URL"},
	"onboarding.links.channel4":   {"CHANNEL4_URL"},
	"onboarding.links.channel5":   {"CHANNEL5_URL"},
	"onboarding.links.bot":        {"BOT_URL"},
	"http.port":                   {"PORT", "BOT_HTTP_PORT"},
	"http.health_port":            {"HEALTH_PORT", "BOT_HTTP_HEALTH_PORT"},
	"log.level":                   {"LOG_LEVEL", "BOT_LOG_LEVEL"},
	"log.json":                    {"LOG_JSON", "BOT_LOG_JSON"},
	"onboarding.welcome_delay":    {"BOT_ONBOARDING_WELCOME_DELAY"},
	"onboarding.approval_delay":   {"BOT_ONBOARDING_APPROVAL_DELAY"},
	"broadcast.batch_size":        {"BOT_BROADCAST_BATCH_SIZE"},
	"broadcast.batch_pause":       {"BOT_BROADCAST_BATCH_PAUSE"},
	"broadcast.send_timeout":      {"BOT_BROADCAST_SEND_TIMEOUT"},
	"broadcast.progress_interval": {"BOT_BROADCAST_PROGRESS_INTERVAL"},
}

// Load reads configuration in this order of precedence (lowest first):
// defaults, the YAML file at path (optional), .env, environment variables.
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load .env: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("%w: failed to bind %s: %v", ErrConfiguration, key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
			}
			slog.Debug("Config file not found, using defaults and environment", "path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_ids", []int64{})
	v.SetDefault("telegram.request_timeout", DefaultRequestTimeout)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.name", DefaultDBName)

	v.SetDefault("onboarding.video_url", "")
	v.SetDefault("onboarding.unlock_param", DefaultUnlockParam)
	v.SetDefault("onboarding.welcome_delay", DefaultWelcomeDelay)
	v.SetDefault("onboarding.approval_delay", DefaultApprovalDelay)
	v.SetDefault("onboarding.task_timeout", DefaultTaskTimeout)
	for _, link := range []string{"channel1", "channel2", "channel3", "channel4", "bot", "channel5"} {
		v.SetDefault("onboarding.links."+link, "")
	}

	v.SetDefault("broadcast.batch_size", DefaultBatchSize)
	v.SetDefault("broadcast.batch_pause", DefaultBatchPause)
	v.SetDefault("broadcast.send_timeout", DefaultSendTimeout)
	v.SetDefault("broadcast.progress_interval", DefaultProgressInterval)

	v.SetDefault("http.port", DefaultHTTPPort)
	v.SetDefault("http.health_port", DefaultHealthPort)

	v.SetDefault("scheduler.tasks", map[string]any{
		"sql_maintenance": map[string]any{"enabled": true, "schedule": DefaultMaintenanceSchedule},
	})

	m := DefaultMessages
	v.SetDefault("messages.welcome_caption", m.WelcomeCaption)
	v.SetDefault("messages.onboarding_caption", m.OnboardingCaption)
	v.SetDefault("messages.unlock_button", m.UnlockButton)
	v.SetDefault("messages.link_channel1", m.LinkChannel1)
	v.SetDefault("messages.link_channel2", m.LinkChannel2)
	v.SetDefault("messages.link_channel3", m.LinkChannel3)
	v.SetDefault("messages.link_channel4", m.LinkChannel4)
	v.SetDefault("messages.link_bot", m.LinkBot)
	v.SetDefault("messages.link_channel5", m.LinkChannel5)
	v.SetDefault("messages.help", m.Help)
	v.SetDefault("messages.not_authorized", m.NotAuthorized)
	v.SetDefault("messages.general_error", m.GeneralError)
	v.SetDefault("messages.stats", m.Stats)
	v.SetDefault("messages.count", m.Count)
	v.SetDefault("messages.send_needs_reply", m.SendNeedsReply)
	v.SetDefault("messages.send_unsupported", m.SendUnsupported)
	v.SetDefault("messages.confirm_prompt", m.ConfirmPrompt)
	v.SetDefault("messages.confirm_button", m.ConfirmButton)
	v.SetDefault("messages.cancel_button", m.CancelButton)
	v.SetDefault("messages.cancelled", m.Cancelled)
	v.SetDefault("messages.already_handled", m.AlreadyHandled)
	v.SetDefault("messages.broadcast_failed", m.BroadcastFailed)
}
