package config

import "time"

// Default values for configuration
const (
	DefaultLogLevel = "info"

	DefaultRequestTimeout = 30 * time.Second
	DefaultDBName         = "joingate"

	DefaultUnlockParam   = "unlock"
	DefaultWelcomeDelay  = 4 * time.Second
	DefaultApprovalDelay = 10 * time.Minute
	DefaultTaskTimeout   = time.Minute

	DefaultBatchSize        = 30
	DefaultBatchPause       = time.Second
	DefaultSendTimeout      = 30 * time.Second
	DefaultProgressInterval = time.Second

	DefaultHTTPPort   = 3000
	DefaultHealthPort = 8080

	DefaultMaintenanceSchedule = "0 0 4 * * *" // daily at 04:00, seconds field enabled
)

// DefaultMessages are English texts; MarkdownV2 captions are pre-escaped.
var DefaultMessages = MessagesConfig{
	WelcomeCaption: "Hi %s\\! 🚀 Your VIP access is waiting, but opportunities only come to the bold\\. 💪\n" +
		"Tap the button below to unlock your access 👇",
	OnboardingCaption: "*%s*, congratulations\\! You are about to join a private group for ambitious people 💎\n\n" +
		"⚠️ *Action required*\\: confirm your presence by joining our channels to complete your membership\\.\n" +
		"⏳ You have 10 minutes to secure your place\\.\n" +
		"🚫 After that, your request is cancelled and your place goes to someone else\\.",
	UnlockButton: "Unlock my access 💎",

	LinkChannel1: "Official channel 🌟",
	LinkChannel2: "VIP group 💎",
	LinkChannel3: "Channel 3 ✅",
	LinkChannel4: "Channel 4 📚",
	LinkBot:      "Our bot 🤖",
	LinkChannel5: "Crash channel 💎",

	Help: "Commands:\n/start - show the onboarding message\n/unlock - unlock your access\n/count - number of users\n" +
		"/admin - statistics (operators)\n/send - reply to a message to broadcast it (operators)",
	NotAuthorized:   "🚫 You are not authorized to use this command.",
	GeneralError:    "❌ An error occurred. Please try again later.",
	Stats:           "📊 Bot statistics:\n👥 Total users: %d\n✅ Approved: %d\n⏳ Pending: %d",
	Count:           "👥 Total users: %d",
	SendNeedsReply:  "⚠️ Reply to a message with /send",
	SendUnsupported: "⚠️ Only text, photo, video and document messages can be broadcast.",
	ConfirmPrompt:   "⚠️ Broadcast this message to all approved users?\n\n📝 Type: %s\n📏 Caption: %s",
	ConfirmButton:   "✅ Confirm",
	CancelButton:    "❌ Cancel",
	Cancelled:       "❌ Broadcast cancelled.",
	AlreadyHandled:  "This broadcast was already handled.",
	BroadcastFailed: "❌ Broadcast failed: could not load the recipient list.",
}
