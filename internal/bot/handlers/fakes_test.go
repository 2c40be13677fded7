package handlers_test

import (
	"context"
	"sync"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/joingate/internal/bot/handlers"
	"github.com/edgard/joingate/internal/broadcast"
	"github.com/edgard/joingate/internal/config"
	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/logger"
	"github.com/edgard/joingate/internal/onboarding"
	"github.com/edgard/joingate/internal/payload"
	"github.com/edgard/joingate/internal/telegram"
)

const (
	adminID  = 42
	memberID = 7
)

type sentText struct {
	chatID int64
	text   string
	opts   telegram.SendOptions
}

type editedText struct {
	chatID    int64
	messageID int
	text      string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentText
	edits   []editedText
	answers []string
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentText{chatID: chatID, text: text, opts: opts})
	return len(m.sent), nil
}

func (m *fakeMessenger) EditText(_ context.Context, chatID int64, messageID int, text string, _ telegram.SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, editedText{chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.text
	}
	return out
}

func (m *fakeMessenger) editTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.edits))
	for i, e := range m.edits {
		out[i] = e.text
	}
	return out
}

type fakeOnboarding struct {
	joins       []onboarding.JoinRequest
	unlocks     []int64
	onboardings []int64
	err         error
}

func (f *fakeOnboarding) HandleJoinRequest(_ context.Context, req onboarding.JoinRequest) (onboarding.Timeline, error) {
	f.joins = append(f.joins, req)
	return onboarding.Timeline{}, f.err
}

func (f *fakeOnboarding) Unlock(_ context.Context, userID int64, _ string, _ int64) (int, error) {
	f.unlocks = append(f.unlocks, userID)
	return 1, f.err
}

func (f *fakeOnboarding) SendOnboarding(_ context.Context, _ string, chatID int64) (int, error) {
	f.onboardings = append(f.onboardings, chatID)
	return 1, f.err
}

type fakeBroadcasts struct {
	mu         sync.Mutex
	staged     []payload.Payload
	stageErr   error
	confirmErr error
	cancelErr  error
	runErr     error
	ran        chan *database.Broadcast
}

func (f *fakeBroadcasts) Stage(_ context.Context, p payload.Payload, initiatorID int64) (*database.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stageErr != nil {
		return nil, f.stageErr
	}
	f.staged = append(f.staged, p)
	return &database.Broadcast{ID: "job-1", Content: p, InitiatorID: initiatorID, Status: database.BroadcastStaged}, nil
}

func (f *fakeBroadcasts) Confirm(_ context.Context, id string) (*database.Broadcast, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &database.Broadcast{ID: id, Status: database.BroadcastRunning}, nil
}

func (f *fakeBroadcasts) Cancel(context.Context, string) error { return f.cancelErr }

func (f *fakeBroadcasts) Run(_ context.Context, job *database.Broadcast, _ broadcast.Reporter) (broadcast.Progress, error) {
	if f.ran != nil {
		defer func() { f.ran <- job }()
	}
	return broadcast.Progress{Done: true}, f.runErr
}

type fakeCounter struct {
	counts database.UserCounts
	err    error
}

func (f fakeCounter) CountUsers(context.Context) (database.UserCounts, error) { return f.counts, f.err }

func newDeps(messenger *fakeMessenger) handlers.HandlerDeps {
	cfg := &config.Config{Messages: config.DefaultMessages}
	cfg.Telegram.AdminIDs = []int64{adminID}
	cfg.Onboarding.UnlockParam = config.DefaultUnlockParam
	cfg.Broadcast.SendTimeout = config.DefaultSendTimeout

	return handlers.HandlerDeps{
		Logger:     logger.Discard(),
		Config:     cfg,
		Store:      fakeCounter{},
		Onboarding: &fakeOnboarding{},
		Broadcasts: &fakeBroadcasts{},
		Messenger:  messenger,
	}
}

func textUpdate(from int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   10,
		Chat: models.Chat{ID: from},
		From: &models.User{ID: from, FirstName: "Ana"},
		Text: text,
	}}
}

func callbackUpdate(from int64, data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb",
		From: models.User{ID: from},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 55, Chat: models.Chat{ID: from}},
		},
	}}
}
