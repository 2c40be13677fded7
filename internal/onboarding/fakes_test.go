package onboarding_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/joingate/internal/database"
	"github.com/edgard/joingate/internal/telegram"
)

// virtualScheduler runs tasks when virtual time passes their fire time.
type virtualScheduler struct {
	mu    sync.Mutex
	clock *clockwork.FakeClock
	tasks []*virtualTask
	err   error

	cancelled int
}

type virtualTask struct {
	id   uuid.UUID
	name string
	at   time.Time
	run  func(ctx context.Context)
	done bool
}

func newVirtualScheduler(clock *clockwork.FakeClock) *virtualScheduler {
	return &virtualScheduler{clock: clock}
}

func (s *virtualScheduler) ScheduleAfter(name string, delay time.Duration, task func(ctx context.Context)) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return uuid.Nil, s.err
	}
	t := &virtualTask{id: uuid.New(), name: name, at: s.clock.Now().Add(delay), run: task}
	s.tasks = append(s.tasks, t)
	return t.id, nil
}

func (s *virtualScheduler) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.id == id && !t.done {
			t.done = true
			s.cancelled++
			return nil
		}
	}
	return fmt.Errorf("job %s not found", id)
}

func (s *virtualScheduler) cancelledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *virtualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves virtual time forward by d, running due tasks in fire order
// with the clock set to each task's fire time.
func (s *virtualScheduler) Advance(d time.Duration) {
	target := s.clock.Now().Add(d)
	for {
		s.mu.Lock()
		sort.SliceStable(s.tasks, func(i, j int) bool { return s.tasks[i].at.Before(s.tasks[j].at) })
		var next *virtualTask
		for _, t := range s.tasks {
			if !t.done && !t.at.After(target) {
				next = t
				break
			}
		}
		if next != nil {
			next.done = true
		}
		s.mu.Unlock()

		if next == nil {
			break
		}
		if wait := next.at.Sub(s.clock.Now()); wait > 0 {
			s.clock.Advance(wait)
		}
		next.run(context.Background())
	}
	if wait := target.Sub(s.clock.Now()); wait > 0 {
		s.clock.Advance(wait)
	}
}

// memoryStore is an in-memory user store.
type memoryStore struct {
	mu        sync.Mutex
	users     map[int64]database.User
	upsertErr error
	getErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[int64]database.User)}
}

func (s *memoryStore) UpsertJoinRequest(_ context.Context, user *database.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	u := *user
	u.Status = database.StatusPending
	u.ApprovedAt = sql.NullTime{}
	if prev, ok := s.users[u.TelegramID]; ok {
		u.WelcomeMessageID = prev.WelcomeMessageID
	}
	s.users[u.TelegramID] = u
	return nil
}

func (s *memoryStore) GetUser(_ context.Context, id int64) (*database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *memoryStore) SetWelcomeMessageID(_ context.Context, id int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.WelcomeMessageID = sql.NullInt64{Int64: int64(messageID), Valid: true}
	s.users[id] = u
	return nil
}

func (s *memoryStore) ClearWelcomeMessageID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.WelcomeMessageID = sql.NullInt64{}
	s.users[id] = u
	return nil
}

func (s *memoryStore) MarkApproved(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Status != database.StatusPending {
		return false, nil
	}
	u.Status = database.StatusApproved
	u.ApprovedAt = sql.NullTime{Time: at, Valid: true}
	s.users[id] = u
	return true, nil
}

func (s *memoryStore) setStatus(id int64, status database.UserStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.Status = status
	s.users[id] = u
}

func (s *memoryStore) user(id int64) database.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

type sentVideo struct {
	chatID  int64
	file    string
	caption string
	opts    telegram.SendOptions
}

// recordingTransport captures every call and hands out increasing message ids.
type recordingTransport struct {
	mu         sync.Mutex
	nextID     int
	videos     []sentVideo
	approvals  [][2]int64
	deletes    [][2]int64
	sendErr    error
	approveErr error
	deleteErr  error
}

var errTransient = errors.New("transient failure")

func (t *recordingTransport) SendVideo(_ context.Context, chatID int64, file, caption string, opts telegram.SendOptions) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return 0, t.sendErr
	}
	t.nextID++
	t.videos = append(t.videos, sentVideo{chatID: chatID, file: file, caption: caption, opts: opts})
	return 100 + t.nextID, nil
}

func (t *recordingTransport) ApproveJoinRequest(_ context.Context, chatID, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.approveErr != nil {
		return t.approveErr
	}
	t.approvals = append(t.approvals, [2]int64{chatID, userID})
	return nil
}

func (t *recordingTransport) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletes = append(t.deletes, [2]int64{chatID, int64(messageID)})
	return t.deleteErr
}

func (t *recordingTransport) snapshot() (videos []sentVideo, approvals, deletes [][2]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentVideo(nil), t.videos...), append([][2]int64(nil), t.approvals...), append([][2]int64(nil), t.deletes...)
}
