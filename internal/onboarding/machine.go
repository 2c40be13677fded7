// Package onboarding turns a join request into a timeline of deferred
// actions: a delayed welcome video and an auto-approval that only applies
// while the request is still pending.
package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/joingate/internal/config"
	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/logger"
	"github.com/edgard/joingate/internal/payload"
	"github.com/edgard/joingate/internal/telegram"
)

// Store is the slice of the user record store the machine needs.
type Store interface {
	UpsertJoinRequest(ctx context.Context, user *database.User) error
	GetUser(ctx context.Context, telegramID int64) (*database.User, error)
	SetWelcomeMessageID(ctx context.Context, telegramID int64, messageID int) error
	ClearWelcomeMessageID(ctx context.Context, telegramID int64) error
	MarkApproved(ctx context.Context, telegramID int64, at time.Time) (bool, error)
}

// Transport is the slice of the messaging transport the machine needs.
type Transport interface {
	SendVideo(ctx context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error)
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Scheduler runs a task once after delay. The returned id cancels the task.
type Scheduler interface {
	ScheduleAfter(name string, delay time.Duration, task func(ctx context.Context)) (uuid.UUID, error)
	Cancel(id uuid.UUID) error
}

// Config holds the timeline delays and the rendered content.
type Config struct {
	VideoURL          string
	WelcomeCaption    string // MarkdownV2, %s is the escaped first name
	OnboardingCaption string // MarkdownV2, %s is the escaped first name
	UnlockButton      string
	UnlockURL         string
	Links             []config.LinkButton

	WelcomeDelay  time.Duration
	ApprovalDelay time.Duration
	TaskTimeout   time.Duration
}

// NewConfig builds the machine configuration. unlockURL is the deep link
// that opens the bot with the unlock parameter.
func NewConfig(cfg *config.Config, unlockURL string) Config {
	return Config{
		VideoURL:          cfg.Onboarding.VideoURL,
		WelcomeCaption:    cfg.Messages.WelcomeCaption,
		OnboardingCaption: cfg.Messages.OnboardingCaption,
		UnlockButton:      cfg.Messages.UnlockButton,
		UnlockURL:         unlockURL,
		Links:             cfg.OnboardingLinks(),
		WelcomeDelay:      cfg.Onboarding.WelcomeDelay,
		ApprovalDelay:     cfg.Onboarding.ApprovalDelay,
		TaskTimeout:       cfg.Onboarding.TaskTimeout,
	}
}

// UnlockURL builds the t.me deep link for botUsername with the start parameter.
func UnlockURL(botUsername, param string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, param)
}

// JoinRequest is the part of a chat join request the machine uses.
type JoinRequest struct {
	UserID    int64
	FirstName string
	Username  string
	ChatID    int64
}

// Timeline holds the cancellation tokens of the two deferred actions.
type Timeline struct {
	Welcome  uuid.UUID
	Approval uuid.UUID
}

// Machine is the onboarding state machine. It is safe for concurrent use;
// every user's timeline is independent. A new join request from the same
// user replaces the timeline still pending from an earlier one.
type Machine struct {
	store     Store
	transport Transport
	scheduler Scheduler
	clock     clockwork.Clock
	cfg       Config
	logger    *slog.Logger

	mu        sync.Mutex
	timelines map[int64]*Timeline
}

// NewMachine wires the machine. A nil clock uses the real clock.
func NewMachine(store Store, transport Transport, scheduler Scheduler, clock clockwork.Clock, cfg Config, log *slog.Logger) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = config.DefaultTaskTimeout
	}
	return &Machine{
		store:     store,
		transport: transport,
		scheduler: scheduler,
		clock:     clock,
		cfg:       cfg,
		logger:    log.With("component", "onboarding"),
		timelines: make(map[int64]*Timeline),
	}
}

// HandleJoinRequest persists the request as pending and schedules the
// welcome and approval actions. A persist failure aborts both.
func (m *Machine) HandleJoinRequest(ctx context.Context, req JoinRequest) (Timeline, error) {
	log := m.logger.With("user_id", req.UserID, "chat_id", req.ChatID)

	user := &database.User{
		TelegramID: req.UserID,
		FirstName:  req.FirstName,
		Username:   sql.NullString{String: req.Username, Valid: req.Username != ""},
		ChatID:     req.ChatID,
		JoinedAt:   m.clock.Now(),
	}
	if err := m.store.UpsertJoinRequest(ctx, user); err != nil {
		log.ErrorContext(ctx, "Failed to persist join request, nothing scheduled", "error", err)
		return Timeline{}, fmt.Errorf("failed to persist join request: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.timelines[req.UserID]; ok {
		m.cancelTimeline(ctx, log, prev)
		delete(m.timelines, req.UserID)
	}

	var (
		timeline = &Timeline{}
		errs     []error
		err      error
	)

	timeline.Welcome, err = m.scheduler.ScheduleAfter(
		fmt.Sprintf("welcome:%d", req.UserID),
		m.cfg.WelcomeDelay,
		m.timed(func(ctx context.Context) { m.sendWelcome(ctx, req) }),
	)
	if err != nil {
		log.ErrorContext(ctx, "Failed to schedule welcome", "error", err)
		errs = append(errs, fmt.Errorf("failed to schedule welcome: %w", err))
	}

	timeline.Approval, err = m.scheduler.ScheduleAfter(
		fmt.Sprintf("approval:%d", req.UserID),
		m.cfg.ApprovalDelay,
		m.timed(func(ctx context.Context) {
			m.release(req.UserID, timeline)
			m.approve(ctx, req.UserID)
		}),
	)
	if err != nil {
		log.ErrorContext(ctx, "Failed to schedule approval", "error", err)
		errs = append(errs, fmt.Errorf("failed to schedule approval: %w", err))
	}

	if *timeline != (Timeline{}) {
		m.timelines[req.UserID] = timeline
	}

	log.InfoContext(ctx, "Join request received",
		"welcome_in", m.cfg.WelcomeDelay, "approval_in", m.cfg.ApprovalDelay)
	return *timeline, errors.Join(errs...)
}

// cancelTimeline drops the pending actions of an earlier join request.
// Actions that already ran can no longer be cancelled and are skipped.
func (m *Machine) cancelTimeline(ctx context.Context, log *slog.Logger, t *Timeline) {
	for step, id := range map[string]uuid.UUID{"welcome": t.Welcome, "approval": t.Approval} {
		if id == uuid.Nil {
			continue
		}
		if err := m.scheduler.Cancel(id); err != nil {
			log.DebugContext(ctx, "Previous timer not cancelled", "step", step, "error", err)
			continue
		}
		log.DebugContext(ctx, "Previous timer cancelled", "step", step)
	}
}

// release forgets the timeline of userID once its approval fires, unless a
// newer join request has replaced it.
func (m *Machine) release(userID int64, t *Timeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timelines[userID] == t {
		delete(m.timelines, userID)
	}
}

// timed bounds a scheduled task with the task timeout.
func (m *Machine) timed(task func(ctx context.Context)) func(ctx context.Context) {
	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, m.cfg.TaskTimeout)
		defer cancel()
		task(ctx)
	}
}

func (m *Machine) sendWelcome(ctx context.Context, req JoinRequest) {
	log := m.logger.With("user_id", req.UserID, "step", "welcome")

	opts := telegram.SendOptions{ParseMode: models.ParseModeMarkdown}
	if m.cfg.UnlockURL != "" {
		opts.Keyboard = &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{{Text: m.cfg.UnlockButton, URL: m.cfg.UnlockURL}}},
		}
	}

	caption := renderCaption(m.cfg.WelcomeCaption, req.FirstName)
	messageID, err := m.transport.SendVideo(ctx, req.UserID, m.cfg.VideoURL, caption, opts)
	switch {
	case telegram.IsUnreachable(err):
		log.InfoContext(ctx, "User unreachable, welcome not delivered", "error", err)
		return
	case err != nil:
		log.ErrorContext(ctx, "Failed to send welcome", "error", err)
		return
	}

	if err := m.store.SetWelcomeMessageID(ctx, req.UserID, messageID); err != nil {
		log.ErrorContext(ctx, "Failed to store welcome message id", "message_id", messageID, "error", err)
		return
	}
	log.InfoContext(ctx, "Welcome sent", "message_id", messageID)
}

// approve admits the user only if the record is still pending at fire time.
func (m *Machine) approve(ctx context.Context, userID int64) {
	log := m.logger.With("user_id", userID, "step", "approval")

	user, err := m.store.GetUser(ctx, userID)
	switch {
	case err != nil:
		log.ErrorContext(ctx, "Failed to load user for approval", "error", err)
		return
	case user == nil:
		log.DebugContext(ctx, "User record missing, approval skipped")
		return
	case user.Status != database.StatusPending:
		log.DebugContext(ctx, "User no longer pending, approval skipped", "status", user.Status)
		return
	}

	if err := m.transport.ApproveJoinRequest(ctx, user.ChatID, userID); err != nil {
		log.ErrorContext(ctx, "Failed to approve join request", "chat_id", user.ChatID, "error", err)
		return
	}

	changed, err := m.store.MarkApproved(ctx, userID, m.clock.Now())
	switch {
	case err != nil:
		log.ErrorContext(ctx, "Join request approved but status not saved", "error", err)
	case !changed:
		log.DebugContext(ctx, "Status changed concurrently, approval not recorded")
	default:
		log.InfoContext(ctx, "User approved", "chat_id", user.ChatID)
	}
}

// Unlock removes the welcome message from the user's private chat if one is
// recorded and renders the full onboarding message to chatID. It never
// changes the user's status and can be repeated. The reference is kept when
// the delete fails transiently so a later unlock can retry it.
func (m *Machine) Unlock(ctx context.Context, userID int64, firstName string, chatID int64) (int, error) {
	log := m.logger.With("user_id", userID, "step", "unlock")

	user, err := m.store.GetUser(ctx, userID)
	switch {
	case err != nil:
		log.WarnContext(ctx, "Failed to load user, rendering without cleanup", "error", err)
	case user != nil && user.WelcomeMessageID.Valid:
		msgID := int(user.WelcomeMessageID.Int64)
		err := m.transport.DeleteMessage(ctx, userID, msgID)
		switch {
		case err == nil:
		case telegram.IsMessageGone(err), telegram.IsUnreachable(err):
			log.InfoContext(ctx, "Welcome message already gone", "message_id", msgID, "error", err)
		default:
			log.WarnContext(ctx, "Failed to delete welcome message, keeping reference", "message_id", msgID, "error", err)
			return m.SendOnboarding(ctx, firstName, chatID)
		}
		if err := m.store.ClearWelcomeMessageID(ctx, userID); err != nil {
			log.WarnContext(ctx, "Failed to clear welcome message id", "error", err)
		}
	}

	return m.SendOnboarding(ctx, firstName, chatID)
}

// SendOnboarding renders the full onboarding message to chatID.
func (m *Machine) SendOnboarding(ctx context.Context, firstName string, chatID int64) (int, error) {
	opts := telegram.SendOptions{ParseMode: models.ParseModeMarkdown}
	if kb := m.linksKeyboard(); kb != nil {
		opts.Keyboard = kb
	}

	caption := renderCaption(m.cfg.OnboardingCaption, firstName)
	messageID, err := m.transport.SendVideo(ctx, chatID, m.cfg.VideoURL, caption, opts)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to send onboarding message", "chat_id", chatID, "error", err)
		return 0, fmt.Errorf("failed to send onboarding message: %w", err)
	}
	return messageID, nil
}

// linksKeyboard lays the configured links out two per row.
func (m *Machine) linksKeyboard() *models.InlineKeyboardMarkup {
	if len(m.cfg.Links) == 0 {
		return nil
	}
	var rows [][]models.InlineKeyboardButton
	for i := 0; i < len(m.cfg.Links); i += 2 {
		end := min(i+2, len(m.cfg.Links))
		row := make([]models.InlineKeyboardButton, 0, 2)
		for _, link := range m.cfg.Links[i:end] {
			row = append(row, models.InlineKeyboardButton{Text: link.Text, URL: link.URL})
		}
		rows = append(rows, row)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// renderCaption substitutes the escaped first name into a MarkdownV2 template.
func renderCaption(tmpl, firstName string) string {
	if !strings.Contains(tmpl, "%s") {
		return tmpl
	}
	name := firstName
	if name == "" {
		name = "there"
	}
	return strings.Replace(tmpl, "%s", payload.EscapeMarkdownV2(name), 1)
}
