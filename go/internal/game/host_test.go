package game

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

type fakeTimer struct {
	at        time.Time
	seq       int
	fn        func()
	cancelled bool
	fired     bool
}

// fakeHost runs timers deterministically on advance and records emitted intents.
type fakeHost struct {
	now    time.Time
	events []eventbus.Event
	timers []*fakeTimer
	seq    int
}

func newFakeHost(now time.Time) *fakeHost {
	return &fakeHost{now: now}
}

func (h *fakeHost) Now() time.Time { return h.now }

func (h *fakeHost) Emit(ev eventbus.Event) { h.events = append(h.events, ev) }

func (h *fakeHost) After(d time.Duration, fn func()) func() {
	h.seq++
	t := &fakeTimer{at: h.now.Add(d), seq: h.seq, fn: fn}
	h.timers = append(h.timers, t)
	return func() { t.cancelled = true }
}

func (h *fakeHost) advance(d time.Duration) {
	target := h.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range h.timers {
			if !t.cancelled && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if !due[i].at.Equal(due[j].at) {
				return due[i].at.Before(due[j].at)
			}
			return due[i].seq < due[j].seq
		})
		next := due[0]
		next.fired = true
		if next.at.After(h.now) {
			h.now = next.at
		}
		next.fn()
	}
	h.now = target
}

func (h *fakeHost) emitted(name eventbus.Name) []eventbus.Event {
	var out []eventbus.Event
	for _, ev := range h.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (h *fakeHost) reset() { h.events = nil }

type fixture struct {
	t0      time.Time
	host    uuid.UUID
	players []uuid.UUID
}

func newFixture(n int) fixture {
	f := fixture{t0: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	for i := 0; i < n; i++ {
		f.players = append(f.players, uuid.New())
	}
	f.host = f.players[0]
	return f
}

func (f fixture) participants() []models.Participant {
	out := make([]models.Participant, len(f.players))
	for i, id := range f.players {
		out[i] = models.Participant{UserID: id, IsHost: id == f.host, JoinOrder: i}
	}
	return out
}

func (f fixture) state(user uuid.UUID, gameType models.GameType, q *models.GameQuestion) State {
	started := f.t0
	st := State{
		UserID: user,
		Session: models.GameSession{
			ID:                uuid.New(),
			HostID:            f.host,
			GameType:          gameType,
			Status:            models.GameStatusInProgress,
			QuestionStartedAt: &started,
			Config:            models.GameConfig{QuestionCount: 10, TimeLimitSeconds: 30},
		},
		CurrentQuestion: q,
		Participants:    f.participants(),
		GameStarted:     true,
	}
	if q != nil {
		st.Session.CurrentQuestionIndex = q.QuestionIndex
	}
	return st
}

func question(index, points int) *models.GameQuestion {
	return &models.GameQuestion{ID: uuid.New(), QuestionIndex: index, Points: points, TimeLimitSeconds: 30}
}
