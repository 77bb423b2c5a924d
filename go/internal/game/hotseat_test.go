package game

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func TestRoundRobinRotation(t *testing.T) {
	f := newFixture(3)
	p := f.participants()
	// shuffled input still rotates by join order
	shuffled := []models.Participant{p[2], p[0], p[1]}

	tests := []struct {
		index int
		want  uuid.UUID
	}{
		{0, f.players[0]},
		{4, f.players[0]},
		{5, f.players[1]},
		{14, f.players[2]},
		{15, f.players[0]},
	}
	for _, tt := range tests {
		if got := RoundRobin(shuffled, tt.index, 5); got != tt.want {
			t.Errorf("index %d: got %s, want %s", tt.index, got, tt.want)
		}
	}
	if RoundRobin(nil, 3, 5) != uuid.Nil {
		t.Error("empty participant list produced a player")
	}
}

func TestHotSeatAnswerAndChallenge(t *testing.T) {
	f := newFixture(3)
	q := question(0, 100)

	seat := newFakeHost(f.t0)
	seatMode, _ := New(models.GameTypeHotSeat, seat, DefaultConfig())
	seatMode.Initialize(f.state(f.players[0], models.GameTypeHotSeat, q))

	spectator := newFakeHost(f.t0)
	specMode, _ := New(models.GameTypeHotSeat, spectator, DefaultConfig())
	specMode.Initialize(f.state(f.players[1], models.GameTypeHotSeat, q))

	if err := specMode.HandleAnswer("A"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("spectator answer err = %v", err)
	}
	if err := seatMode.(Challenger).Challenge("A"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("hot seat challenge err = %v", err)
	}

	if err := seatMode.HandleAnswer("A"); err != nil {
		t.Fatalf("hot seat answer: %v", err)
	}
	sub := seat.emitted(eventbus.AnswerSubmit)
	if len(sub) != 1 || sub[0].Points != 100 || sub[0].Penalty != -50 || sub[0].Flag {
		t.Fatalf("hot seat submission = %+v", sub)
	}

	if err := specMode.(Challenger).Challenge("B"); err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if err := specMode.(Challenger).Challenge("C"); !errors.Is(err, ErrInputLocked) {
		t.Fatalf("second challenge err = %v", err)
	}
	ch := spectator.emitted(eventbus.Challenge)
	if len(ch) != 1 || ch[0].Points != 150 || ch[0].Penalty != -75 || !ch[0].Flag {
		t.Fatalf("challenge = %+v", ch)
	}
}

func TestHotSeatChallengeClosesAtReveal(t *testing.T) {
	f := newFixture(2)
	h := newFakeHost(f.t0)
	m, _ := New(models.GameTypeHotSeat, h, DefaultConfig())
	m.Initialize(f.state(f.players[1], models.GameTypeHotSeat, question(0, 100)))

	h.advance(30 * time.Second)
	if err := m.(Challenger).Challenge("B"); !errors.Is(err, ErrInputLocked) {
		t.Fatalf("challenge after expiry err = %v", err)
	}
}

func TestHotSeatHostAnnouncesNewTurn(t *testing.T) {
	f := newFixture(2)
	h := newFakeHost(f.t0)
	m, _ := New(models.GameTypeHotSeat, h, DefaultConfig())

	st := f.state(f.host, models.GameTypeHotSeat, question(0, 100))
	host := f.host
	st.Session.CurrentPlayerID = &host
	m.Initialize(st)
	if n := len(h.emitted(eventbus.TurnResolved)); n != 0 {
		t.Fatalf("announced an unchanged seat %d times", n)
	}

	next := f.state(f.host, models.GameTypeHotSeat, question(5, 100))
	next.Session.CurrentPlayerID = &host
	m.UpdateState(next)
	m.UpdateState(next)

	turns := h.emitted(eventbus.TurnResolved)
	if len(turns) != 1 || turns[0].UserID != f.players[1] {
		t.Fatalf("turn announcements = %+v", turns)
	}
	v := m.View().HotSeat
	if v.HotSeatPlayer != f.players[1] || v.TurnQuestionCount != 1 || v.QuestionsPerTurn != 5 {
		t.Fatalf("view = %+v", v)
	}
}
