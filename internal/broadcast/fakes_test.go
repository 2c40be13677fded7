package broadcast_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/joingate/internal/broadcast"
	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/telegram"
)

type sendCall struct {
	method string
	chatID int64
	file   string
	text   string
	opts   telegram.SendOptions
}

// fakeSender records every call. fail decides the outcome of each call;
// delay holds each call for a while so that sends overlap.
type fakeSender struct {
	mu       sync.Mutex
	calls    []sendCall
	inflight int
	maxIn    int
	delay    time.Duration
	fail     func(call sendCall, attempt int) error
	attempts map[int64]int
}

func (s *fakeSender) do(ctx context.Context, call sendCall) (int, error) {
	s.mu.Lock()
	if s.attempts == nil {
		s.attempts = make(map[int64]int)
	}
	s.attempts[call.chatID]++
	attempt := s.attempts[call.chatID]
	s.calls = append(s.calls, call)
	s.inflight++
	s.maxIn = max(s.maxIn, s.inflight)
	fail := s.fail
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(call, attempt); err != nil {
			return 0, err
		}
	}
	return int(call.chatID), nil
}

func (s *fakeSender) SendText(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error) {
	return s.do(ctx, sendCall{method: "text", chatID: chatID, text: text, opts: opts})
}

func (s *fakeSender) SendPhoto(ctx context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error) {
	return s.do(ctx, sendCall{method: "photo", chatID: chatID, file: file, text: caption, opts: opts})
}

func (s *fakeSender) SendVideo(ctx context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error) {
	return s.do(ctx, sendCall{method: "video", chatID: chatID, file: file, text: caption, opts: opts})
}

func (s *fakeSender) SendDocument(ctx context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error) {
	return s.do(ctx, sendCall{method: "document", chatID: chatID, file: file, text: caption, opts: opts})
}

func (s *fakeSender) sent() []sendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendCall(nil), s.calls...)
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// pauseClock is a real clock whose After returns at once and counts the
// pauses, recording how many sends had been issued at each one.
type pauseClock struct {
	clockwork.Clock
	mu      sync.Mutex
	pauses  []time.Duration
	sendsAt []int
	sender  *fakeSender
}

func newPauseClock(sender *fakeSender) *pauseClock {
	return &pauseClock{Clock: clockwork.NewRealClock(), sender: sender}
}

func (c *pauseClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.pauses = append(c.pauses, d)
	if c.sender != nil {
		c.sendsAt = append(c.sendsAt, c.sender.callCount())
	}
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *pauseClock) observed() ([]time.Duration, []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.pauses...), append([]int(nil), c.sendsAt...)
}

// recordingReporter keeps every published snapshot.
type recordingReporter struct {
	mu      sync.Mutex
	reports []broadcast.Progress
}

func (r *recordingReporter) Report(_ context.Context, p broadcast.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, p)
}

func (r *recordingReporter) all() []broadcast.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Progress(nil), r.reports...)
}

// memoryStore keeps broadcasts and users in memory.
type memoryStore struct {
	mu         sync.Mutex
	broadcasts map[string]database.Broadcast
	approved   []int64
	listErr    error
}

func newMemoryStore(approved ...int64) *memoryStore {
	return &memoryStore{broadcasts: make(map[string]database.Broadcast), approved: approved}
}

func (s *memoryStore) CreateBroadcast(_ context.Context, b *database.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.broadcasts[b.ID]; ok {
		return errors.New("duplicate id")
	}
	s.broadcasts[b.ID] = *b
	return nil
}

func (s *memoryStore) GetBroadcast(_ context.Context, id string) (*database.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *memoryStore) transition(id string, to database.BroadcastStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok || b.Status != database.BroadcastStaged {
		return false
	}
	b.Status = to
	s.broadcasts[id] = b
	return true
}

func (s *memoryStore) StartBroadcast(_ context.Context, id string) (bool, error) {
	return s.transition(id, database.BroadcastRunning), nil
}

func (s *memoryStore) CancelBroadcast(_ context.Context, id string, _ time.Time) (bool, error) {
	return s.transition(id, database.BroadcastCancelled), nil
}

func (s *memoryStore) FinishBroadcast(_ context.Context, id string, r database.BroadcastResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.broadcasts[id]
	b.Status, b.Total, b.Succeeded, b.Failed = r.Status, r.Total, r.Succeeded, r.Failed
	s.broadcasts[id] = b
	return nil
}

func (s *memoryStore) ListUserIDsByStatus(_ context.Context, status database.UserStatus) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if status != database.StatusApproved {
		return nil, nil
	}
	return append([]int64(nil), s.approved...), nil
}

func (s *memoryStore) broadcast(id string) database.Broadcast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcasts[id]
}

type operators map[int64]bool

func (o operators) IsAdmin(id int64) bool { return o[id] }

func recipients(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(1000 + i)
	}
	return ids
}
