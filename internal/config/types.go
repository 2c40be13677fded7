package config

import "time"

// Config is the root configuration for the bot.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Onboarding OnboardingConfig `mapstructure:"onboarding"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Messages   MessagesConfig   `mapstructure:"messages"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds bot credentials and the operator allow-list.
type TelegramConfig struct {
	Token          string        `mapstructure:"token"           validate:"required"`
	AdminIDs       []int64       `mapstructure:"admin_ids"       validate:"dive,gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1s,max=5m"`

	// BotUsername is filled at startup from getMe and used for deep links.
	BotUsername string `mapstructure:"-"`
}

// DatabaseConfig selects the storage backend. A DSN starting with
// postgres:// or postgresql:// uses pgx; anything else is a sqlite file path.
// When DSN is empty the sqlite file is named after Name.
type DatabaseConfig struct {
	DSN  string `mapstructure:"dsn"`
	Name string `mapstructure:"name" validate:"required_without=DSN"`
}

// OnboardingConfig drives the join-request timeline.
type OnboardingConfig struct {
	VideoURL      string        `mapstructure:"video_url"      validate:"required"`
	UnlockParam   string        `mapstructure:"unlock_param"   validate:"required,alphanum,max=64"`
	WelcomeDelay  time.Duration `mapstructure:"welcome_delay"  validate:"min=0"`
	ApprovalDelay time.Duration `mapstructure:"approval_delay" validate:"gtfield=WelcomeDelay"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"   validate:"min=1s"`
	Links         LinksConfig   `mapstructure:"links"`
}

// LinksConfig lists the external links rendered under the onboarding message.
type LinksConfig struct {
	Channel1 string `mapstructure:"channel1" validate:"omitempty,url"`
	Channel2 string `mapstructure:"channel2" validate:"omitempty,url"`
	Channel3 string `mapstructure:"channel3" validate:"omitempty,url"`
	Channel4 string `mapstructure:"channel4" validate:"omitempty,url"`
	Bot      string `mapstructure:"bot"      validate:"omitempty,url"`
	Channel5 string `mapstructure:"channel5" validate:"omitempty,url"`
}

// BroadcastConfig tunes the delivery engine.
type BroadcastConfig struct {
	BatchSize        int           `mapstructure:"batch_size"        validate:"min=1,max=1000"`
	BatchPause       time.Duration `mapstructure:"batch_pause"       validate:"min=0"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"      validate:"min=1s"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" validate:"min=100ms"`
}

// HTTPConfig holds the two health listener ports.
type HTTPConfig struct {
	Port       int `mapstructure:"port"        validate:"min=1,max=65535"`
	HealthPort int `mapstructure:"health_port" validate:"min=1,max=65535,nefield=Port"`
}

// SchedulerConfig lists periodic tasks by registry name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a periodic task on a cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds user-facing texts. Captions marked MarkdownV2 must be
// pre-escaped; %s receives the escaped first name.
type MessagesConfig struct {
	WelcomeCaption    string `mapstructure:"welcome_caption"    validate:"required"` // MarkdownV2
	OnboardingCaption string `mapstructure:"onboarding_caption" validate:"required"` // MarkdownV2
	UnlockButton      string `mapstructure:"unlock_button"      validate:"required"`

	LinkChannel1 string `mapstructure:"link_channel1"`
	LinkChannel2 string `mapstructure:"link_channel2"`
	LinkChannel3 string `mapstructure:"link_channel3"`
	LinkChannel4 string `mapstructure:"link_channel4"`
	LinkBot      string `mapstructure:"link_bot"`
	LinkChannel5 string `mapstructure:"link_channel5"`

	Help            string `mapstructure:"help"             validate:"required"`
	NotAuthorized   string `mapstructure:"not_authorized"   validate:"required"`
	GeneralError    string `mapstructure:"general_error"    validate:"required"`
	Stats           string `mapstructure:"stats"            validate:"required"`
	Count           string `mapstructure:"count"            validate:"required"`
	SendNeedsReply  string `mapstructure:"send_needs_reply" validate:"required"`
	SendUnsupported string `mapstructure:"send_unsupported" validate:"required"`
	ConfirmPrompt   string `mapstructure:"confirm_prompt"   validate:"required"`
	ConfirmButton   string `mapstructure:"confirm_button"   validate:"required"`
	CancelButton    string `mapstructure:"cancel_button"    validate:"required"`
	Cancelled       string `mapstructure:"cancelled"        validate:"required"`
	AlreadyHandled  string `mapstructure:"already_handled"  validate:"required"`
	BroadcastFailed string `mapstructure:"broadcast_failed" validate:"required"`
}
