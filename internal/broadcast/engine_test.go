package broadcast_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/joingate/internal/broadcast"
	"github.com/edgard/joingate/internal/payload"
	"github.com/edgard/joingate/internal/telegram"
)

var textPayload = payload.Payload{Kind: payload.KindText, Text: "Hello.", Format: payload.FormatMarkdown}

func newEngine(sender *fakeSender, clock *pauseClock, cfg broadcast.EngineConfig) *broadcast.Engine {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 30
	}
	if cfg.BatchPause == 0 {
		cfg.BatchPause = time.Second
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 5 * time.Millisecond
	}
	return broadcast.NewEngine(sender, clock, cfg, nil)
}

func TestEngine_65RecipientsInBatchesOf30(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{delay: 20 * time.Millisecond}
	clock := newPauseClock(sender)
	reporter := &recordingReporter{}
	engine := newEngine(sender, clock, broadcast.EngineConfig{BatchSize: 30})

	final := engine.Run(context.Background(), textPayload, recipients(65), reporter)

	want := broadcast.Progress{Total: 65, Succeeded: 65, Failed: 0, Done: true}
	if final != want {
		t.Errorf("Run() = %+v, want %+v", final, want)
	}

	pauses, sendsAt := clock.observed()
	if len(pauses) != 3 {
		t.Errorf("pauses = %d, want 3", len(pauses))
	}
	// Sends issued when each pause began: batches of 30, 30, 5.
	if !slices.Equal(sendsAt, []int{30, 60, 65}) {
		t.Errorf("sends at each pause = %v, want [30 60 65]", sendsAt)
	}
	if sender.maxIn > 30 {
		t.Errorf("max concurrent sends = %d, exceeds batch size", sender.maxIn)
	}
	if sender.maxIn < 2 {
		t.Errorf("max concurrent sends = %d, sends within a batch did not overlap", sender.maxIn)
	}

	reports := reporter.all()
	if len(reports) == 0 {
		t.Fatal("no progress reports")
	}
	if last := reports[len(reports)-1]; last != want {
		t.Errorf("last report = %+v, want %+v", last, want)
	}
	for _, r := range reports[:len(reports)-1] {
		if r.Done {
			t.Errorf("intermediate report marked done: %+v", r)
		}
		if r.Settled() > r.Total {
			t.Errorf("report exceeds total: %+v", r)
		}
	}
}

func TestEngine_BatchCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total, batch, wantPauses int
	}{
		{total: 1, batch: 30, wantPauses: 1},
		{total: 30, batch: 30, wantPauses: 1},
		{total: 31, batch: 30, wantPauses: 2},
		{total: 10, batch: 3, wantPauses: 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_by_%d", tt.total, tt.batch), func(t *testing.T) {
			t.Parallel()

			sender := &fakeSender{}
			clock := newPauseClock(sender)
			final := newEngine(sender, clock, broadcast.EngineConfig{BatchSize: tt.batch}).
				Run(context.Background(), textPayload, recipients(tt.total), nil)

			if final.Settled() != tt.total {
				t.Errorf("settled = %d, want %d", final.Settled(), tt.total)
			}
			if pauses, _ := clock.observed(); len(pauses) != tt.wantPauses {
				t.Errorf("pauses = %d, want %d", len(pauses), tt.wantPauses)
			}
		})
	}
}

func TestEngine_SendTimeout(t *testing.T) {
	t.Parallel()

	const timeout = 50 * time.Millisecond
	stuck := int64(1003)

	blocking := &blockingSender{fakeSender: &fakeSender{}, stuck: stuck}

	clock := newPauseClock(nil)
	engine := broadcast.NewEngine(blocking, clock, broadcast.EngineConfig{
		BatchSize: 30, BatchPause: time.Second, SendTimeout: timeout, ProgressInterval: time.Second,
	}, nil)

	start := time.Now()
	final := engine.Run(context.Background(), textPayload, recipients(5), nil)
	elapsed := time.Since(start)

	if final.Succeeded != 4 || final.Failed != 1 {
		t.Errorf("Run() = %+v, want 4 succeeded 1 failed", final)
	}
	// Text payloads get a fallback attempt with its own timeout.
	if limit := 2*timeout + 500*time.Millisecond; elapsed > limit {
		t.Errorf("batch took %v, want under %v", elapsed, limit)
	}
}

// blockingSender blocks sends to one chat until the call context ends.
type blockingSender struct {
	*fakeSender
	stuck int64
}

func (s *blockingSender) SendText(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error) {
	if chatID == s.stuck {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.fakeSender.SendText(ctx, chatID, text, opts)
}

func TestEngine_TimeoutIsError(t *testing.T) {
	t.Parallel()

	sender := &blockingSender{fakeSender: &fakeSender{}, stuck: 1000}
	reporter := &recordingReporter{}
	engine := broadcast.NewEngine(sender, newPauseClock(nil), broadcast.EngineConfig{
		BatchSize: 1, SendTimeout: 20 * time.Millisecond, ProgressInterval: time.Second,
	}, nil)

	final := engine.Run(context.Background(),
		payload.Payload{Kind: payload.KindText, Text: "x", Format: payload.FormatPlain}, recipients(1), reporter)
	if final.Failed != 1 || final.Succeeded != 0 {
		t.Errorf("Run() = %+v, want the timed out send counted as failed", final)
	}
}

func TestEngine_UnreachableAndFailures(t *testing.T) {
	t.Parallel()

	unreachable := fmt.Errorf("%w: blocked", telegram.ErrUnreachable)
	sender := &fakeSender{fail: func(call sendCall, _ int) error {
		switch call.chatID % 3 {
		case 0:
			return unreachable
		case 1:
			return errors.New("Too Many Requests")
		default:
			return nil
		}
	}}

	p := payload.Payload{Kind: payload.KindVideo, FileID: "vid", Format: payload.FormatPlain}
	final := newEngine(sender, newPauseClock(sender), broadcast.EngineConfig{BatchSize: 4}).
		Run(context.Background(), p, recipients(9), nil)

	// 1000..1008: 1001, 1004, 1007 succeed.
	if final.Succeeded != 3 || final.Failed != 6 || final.Total != 9 {
		t.Errorf("Run() = %+v, want 3 succeeded 6 failed", final)
	}
	if n := len(sender.sent()); n != 9 {
		t.Errorf("media sends = %d, want one attempt each", n)
	}
}

func TestEngine_TextFallback(t *testing.T) {
	t.Parallel()

	entities := []models.MessageEntity{{Type: models.MessageEntityTypeBold, Offset: 0, Length: 5}}
	p := payload.Payload{Kind: payload.KindText, Text: "Hello world", Entities: entities, Format: payload.FormatPlain}

	sender := &fakeSender{fail: func(call sendCall, attempt int) error {
		if attempt == 1 {
			return errors.New("Bad Request: can't parse entities")
		}
		return nil
	}}

	final := newEngine(sender, newPauseClock(sender), broadcast.EngineConfig{}).
		Run(context.Background(), p, recipients(2), nil)

	if final.Succeeded != 2 || final.Failed != 0 {
		t.Errorf("Run() = %+v, want both delivered by fallback", final)
	}

	calls := sender.sent()
	if len(calls) != 4 {
		t.Fatalf("calls = %d, want 2 attempts per recipient", len(calls))
	}
	for _, c := range calls {
		if c.text != "Hello world" {
			t.Errorf("text = %q", c.text)
		}
	}
	var withEntities, bare int
	for _, c := range calls {
		if len(c.opts.Entities) == 1 && c.opts.ParseMode == "" {
			withEntities++
		}
		if len(c.opts.Entities) == 0 && c.opts.ParseMode == "" && c.opts.Keyboard == nil {
			bare++
		}
	}
	if withEntities != 2 || bare != 2 {
		t.Errorf("attempts with entities = %d, bare = %d; want 2 and 2", withEntities, bare)
	}
}

func TestEngine_NoFallbackForUnreachable(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fail: func(sendCall, int) error {
		return fmt.Errorf("%w: deactivated", telegram.ErrUnreachable)
	}}

	final := newEngine(sender, newPauseClock(sender), broadcast.EngineConfig{}).
		Run(context.Background(), textPayload, recipients(3), nil)

	if final.Failed != 3 {
		t.Errorf("Run() = %+v, want 3 failed", final)
	}
	if n := len(sender.sent()); n != 3 {
		t.Errorf("calls = %d, want no fallback attempts", n)
	}
}

func TestEngine_MarkdownFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		p          payload.Payload
		wantMethod string
		wantText   string
		wantMode   models.ParseMode
	}{
		{
			name:       "markdown text is escaped",
			p:          payload.Payload{Kind: payload.KindText, Text: "Sale: 50% off (today).", Format: payload.FormatMarkdown},
			wantMethod: "text",
			wantText:   `Sale: 50% off \(today\)\.`,
			wantMode:   models.ParseModeMarkdown,
		},
		{
			name:       "photo caption is escaped",
			p:          payload.Payload{Kind: payload.KindPhoto, FileID: "ph", Text: "v2.0!", Format: payload.FormatMarkdown},
			wantMethod: "photo",
			wantText:   `v2\.0\!`,
			wantMode:   models.ParseModeMarkdown,
		},
		{
			name:       "plain document caption is untouched",
			p:          payload.Payload{Kind: payload.KindDocument, FileID: "doc", Text: "v2.0!", Format: payload.FormatPlain},
			wantMethod: "document",
			wantText:   "v2.0!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &fakeSender{}
			newEngine(sender, newPauseClock(sender), broadcast.EngineConfig{}).
				Run(context.Background(), tt.p, recipients(1), nil)

			calls := sender.sent()
			if len(calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(calls))
			}
			c := calls[0]
			if c.method != tt.wantMethod || c.text != tt.wantText || c.opts.ParseMode != tt.wantMode || c.file != tt.p.FileID {
				t.Errorf("call = %+v, want %s %q mode %q", c, tt.wantMethod, tt.wantText, tt.wantMode)
			}
		})
	}
}

func TestEngine_ZeroRecipients(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	clock := newPauseClock(sender)
	reporter := &recordingReporter{}

	final := newEngine(sender, clock, broadcast.EngineConfig{}).Run(context.Background(), textPayload, nil, reporter)

	if final != (broadcast.Progress{Done: true}) {
		t.Errorf("Run() = %+v, want empty done progress", final)
	}
	if final.Percent() != 100 {
		t.Errorf("Percent() = %v, want 100", final.Percent())
	}
	if pauses, _ := clock.observed(); len(pauses) != 0 {
		t.Errorf("pauses = %d, want 0", len(pauses))
	}
	reports := reporter.all()
	if len(reports) == 0 || !reports[len(reports)-1].Done {
		t.Errorf("reports = %+v, want a final done report", reports)
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p           broadcast.Progress
		wantPercent float64
		wantText    string
	}{
		{p: broadcast.Progress{Total: 0}, wantPercent: 100, wantText: "Progress: 100.00%"},
		{p: broadcast.Progress{Total: 8, Succeeded: 1, Failed: 1}, wantPercent: 25, wantText: "Progress: 25.00%"},
		{p: broadcast.Progress{Total: 3, Succeeded: 2, Failed: 1, Done: true}, wantPercent: 100, wantText: "Broadcast finished"},
	}

	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.wantPercent {
			t.Errorf("%+v Percent() = %v, want %v", tt.p, got, tt.wantPercent)
		}
		if got := tt.p.Text(); !strings.Contains(got, tt.wantText) || !strings.Contains(got, fmt.Sprintf("Failed: %d", tt.p.Failed)) {
			t.Errorf("%+v Text() = %q, want it to contain %q", tt.p, got, tt.wantText)
		}
	}
}

type fakeEditor struct {
	texts []string
	err   error
}

func (e *fakeEditor) EditText(_ context.Context, _ int64, _ int, text string, _ telegram.SendOptions) error {
	e.texts = append(e.texts, text)
	return e.err
}

func TestMessageReporter(t *testing.T) {
	t.Parallel()

	editor := &fakeEditor{}
	r := broadcast.NewMessageReporter(editor, 1, 2, time.Second, nil)
	r.Report(context.Background(), broadcast.Progress{Total: 2, Succeeded: 1})
	r.Report(context.Background(), broadcast.Progress{Total: 2, Succeeded: 2, Done: true})

	if len(editor.texts) != 2 || !strings.Contains(editor.texts[1], "Broadcast finished") {
		t.Errorf("edits = %q", editor.texts)
	}

	failing := &fakeEditor{err: errors.New("flood")}
	fr := broadcast.NewMessageReporter(failing, 1, 2, time.Second, nil)
	for range 5 {
		fr.Report(context.Background(), broadcast.Progress{Total: 1})
	}
	if len(failing.texts) != 5 {
		t.Errorf("edits attempted = %d, want 5 despite failures", len(failing.texts))
	}
}
