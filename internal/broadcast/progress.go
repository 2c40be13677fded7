package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgard/joingate/internal/logger"
	"github.com/edgard/joingate/internal/telegram"
)

// Progress is a snapshot of the broadcast counters.
// Succeeded+Failed never exceeds Total; it reaches Total once every batch has settled.
type Progress struct {
	Total     int
	Succeeded int
	Failed    int
	Done      bool
}

// Settled is the number of recipients with a final outcome.
func (p Progress) Settled() int {
	return p.Succeeded + p.Failed
}

// Percent is Settled/Total in percent. An empty broadcast is complete.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Settled()) / float64(p.Total) * 100
}

// Text renders the snapshot for the status message.
func (p Progress) Text() string {
	if p.Done {
		return fmt.Sprintf("✅ Broadcast finished!\n\n📢 Total: %d\n✅ Sent: %d\n❌ Failed: %d\n📡 Progress: 100%%",
			p.Total, p.Succeeded, p.Failed)
	}
	return fmt.Sprintf("🚀 Broadcast in progress...\n\n📢 Total to send: %d\n✅ Sent: %d\n❌ Failed: %d\n📡 Progress: %.2f%%",
		p.Total, p.Succeeded, p.Failed, p.Percent())
}

// Reporter publishes progress snapshots. Report must not block for long;
// the engine calls it from the ticker goroutine and once at the end.
type Reporter interface {
	Report(ctx context.Context, p Progress)
}

// Editor is the slice of the transport the message reporter needs.
type Editor interface {
	EditText(ctx context.Context, chatID int64, messageID int, text string, opts telegram.SendOptions) error
}

// MessageReporter edits one Telegram message in place with the progress text.
type MessageReporter struct {
	editor    Editor
	chatID    int64
	messageID int
	timeout   time.Duration
	logger    *slog.Logger
	errLog    *rate.Sometimes
}

// NewMessageReporter reports into message messageID of chatID. Each edit is
// bounded by timeout.
func NewMessageReporter(editor Editor, chatID int64, messageID int, timeout time.Duration, log *slog.Logger) *MessageReporter {
	if log == nil {
		log = logger.Discard()
	}
	return &MessageReporter{
		editor:    editor,
		chatID:    chatID,
		messageID: messageID,
		timeout:   timeout,
		logger:    log.With("component", "broadcast_reporter", "chat_id", chatID, "message_id", messageID),
		errLog:    &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Report edits the status message. Failures are logged at most once per 10s.
func (r *MessageReporter) Report(ctx context.Context, p Progress) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := r.editor.EditText(ctx, r.chatID, r.messageID, p.Text(), telegram.SendOptions{})
	if err == nil {
		return
	}
	if p.Done {
		r.logger.ErrorContext(ctx, "Failed to publish final broadcast report", "error", err)
		return
	}
	r.errLog.Do(func() {
		r.logger.WarnContext(ctx, "Failed to update broadcast progress", "error", err)
	})
}
