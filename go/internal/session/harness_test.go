package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/memstore"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/game"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

const waitTimeout = 5 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.DisablePolling = true
	cfg.Read.RetryDelay = time.Millisecond
	cfg.Reconnect = ReconnectConfig{BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxAttempts: 5}
	return cfg
}

// recorder collects bus events by name.
type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func record(bus *eventbus.Bus, names ...eventbus.Name) *recorder {
	r := &recorder{}
	for _, n := range names {
		bus.Subscribe(n, func(ev eventbus.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
	return r
}

func (r *recorder) count(name eventbus.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

type player struct {
	id  uuid.UUID
	c   *Controller
	bus *eventbus.Bus
}

// newPlayer builds a controller with its own bus, the way separate client processes would run.
func newPlayer(t *testing.T, gw backend.Gateway, clock clockwork.Clock, cfg Config, id uuid.UUID) *player {
	t.Helper()
	bus := eventbus.New()
	c := NewController(Deps{Gateway: gw, Bus: bus, Clock: clock}, cfg, id)
	t.Cleanup(c.Close)
	return &player{id: id, c: c, bus: bus}
}

func (p *player) join(t *testing.T, sessionID uuid.UUID) {
	t.Helper()
	if err := p.c.Join(context.Background(), sessionID); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func (p *player) start(t *testing.T, sessionID uuid.UUID) {
	t.Helper()
	if err := p.c.Start(context.Background(), sessionID); err != nil {
		t.Fatalf("start: %v", err)
	}
}

// waitView polls the controller's last rendered view until cond holds.
func waitView(t *testing.T, c *Controller, what string, cond func(game.View) bool) game.View {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		v, ok := c.Snapshot()
		if ok && cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s (phase %s, index %d, status %s, banner %q)",
				what, v.Phase, v.Session.CurrentQuestionIndex, v.Session.Status, v.Banner)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func questions(n, limitSeconds int) []models.GameQuestion {
	out := make([]models.GameQuestion, n)
	for i := range out {
		out[i] = models.GameQuestion{
			ID:               uuid.New(),
			QuestionIndex:    i,
			QuestionData:     models.QuestionData{Prompt: "question", Options: []string{"A", "B", "C", "D"}},
			CorrectAnswer:    "A",
			Explanation:      "because",
			Points:           100,
			TimeLimitSeconds: limitSeconds,
		}
	}
	return out
}

// newGame creates a waiting session hosted by the first of n fresh users.
func newGame(t *testing.T, store *memstore.Store, gameType models.GameType, qs []models.GameQuestion, n int) (models.GameSession, []uuid.UUID) {
	t.Helper()
	users := make([]uuid.UUID, n)
	for i := range users {
		users[i] = uuid.New()
	}
	s, err := store.CreateSession(context.Background(), backend.CreateSessionRequest{
		RoomID:    uuid.New(),
		HostID:    users[0],
		GameType:  gameType,
		Config:    models.GameConfig{QuestionCount: len(qs), TimeLimitSeconds: 30},
		Questions: qs,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i, u := range users[1:] {
		if err := store.AddParticipant(s.ID, u, "player"+string(rune('B'+i))); err != nil {
			t.Fatalf("add participant: %v", err)
		}
	}
	return *s, users
}

func sessionIs(store *memstore.Store, id uuid.UUID, cond func(models.GameSession) bool) func() bool {
	return func() bool {
		s, ok := store.Session(id)
		return ok && cond(s)
	}
}
