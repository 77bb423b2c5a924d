package game

import (
	"errors"
	"testing"
	"time"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func TestTeamTimerAdjustments(t *testing.T) {
	f := newFixture(2)
	me := f.players[1]
	h := newFakeHost(f.t0)
	m, _ := New(models.GameTypeTeamTimer, h, DefaultConfig())
	team := m.(*TeamTimerMode)

	q := question(0, 100)
	st := f.state(me, models.GameTypeTeamTimer, q)
	st.Session.CurrentPlayerID = &me
	m.Initialize(st)

	if got := team.Remaining(); got != 180*time.Second {
		t.Fatalf("start = %s, want 180s", got)
	}
	if err := m.HandleAnswer("A"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	m.HandleEvent(eventbus.Event{Name: eventbus.AnswerResult, QuestionID: q.ID, Flag: true})

	updates := h.emitted(eventbus.TimerUpdate)
	if len(updates) != 1 || updates[0].Value != 195000 {
		t.Fatalf("timer updates = %+v", updates)
	}
	if next := h.emitted(eventbus.NextQuestion); len(next) != 1 || next[0].Index != 0 {
		t.Fatalf("advance intents = %+v", next)
	}

	h.reset()
	q2 := question(1, 100)
	st2 := f.state(me, models.GameTypeTeamTimer, q2)
	st2.Session.CurrentPlayerID = &me
	m.UpdateState(st2)
	if err := m.HandleAnswer("B"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	m.HandleEvent(eventbus.Event{Name: eventbus.AnswerResult, QuestionID: q2.ID, Flag: false})
	if got := h.emitted(eventbus.TimerUpdate)[0].Value; got != 185000 {
		t.Fatalf("after wrong answer = %dms, want 185000", got)
	}
}

func TestTeamTimerFloorsAtZeroAndLoses(t *testing.T) {
	f := newFixture(2)
	me := f.players[1]
	h := newFakeHost(f.t0)
	m, _ := New(models.GameTypeTeamTimer, h, DefaultConfig())

	// five seconds left on the persisted timer
	q := question(2, 100)
	st := f.state(me, models.GameTypeTeamTimer, q)
	st.Session.CurrentPlayerID = &me
	left := int64(5000)
	stamp := f.t0
	st.Session.TeamTimerRemainingMs = &left
	st.Session.TeamTimerUpdatedAt = &stamp
	m.Initialize(st)

	if err := m.HandleAnswer("wrong"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	m.HandleEvent(eventbus.Event{Name: eventbus.AnswerResult, QuestionID: q.ID, Flag: false})

	if got := h.emitted(eventbus.TimerUpdate)[0].Value; got != 0 {
		t.Fatalf("timer = %dms, want 0", got)
	}
	over := h.emitted(eventbus.GameOver)
	if len(over) != 1 || over[0].Flag {
		t.Fatalf("game over = %+v, want one loss", over)
	}
	if n := len(h.emitted(eventbus.NextQuestion)); n != 0 {
		t.Fatalf("advanced after time ran out")
	}
	if err := m.(Buzzer).Buzz(); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("buzz after time up err = %v", err)
	}
}

func TestTeamTimerHostEndsGameWhenClockRunsOut(t *testing.T) {
	f := newFixture(2)
	h := newFakeHost(f.t0)
	m, _ := New(models.GameTypeTeamTimer, h, DefaultConfig())
	m.Initialize(f.state(f.host, models.GameTypeTeamTimer, question(0, 100)))

	if up := h.emitted(eventbus.TimerUpdate); len(up) != 1 || up[0].Value != 180000 {
		t.Fatalf("host did not persist the starting timer: %+v", up)
	}

	h.advance(179 * time.Second)
	if n := len(h.emitted(eventbus.GameOver)); n != 0 {
		t.Fatal("game ended early")
	}
	h.advance(time.Second)
	over := h.emitted(eventbus.GameOver)
	if len(over) != 1 || over[0].Flag {
		t.Fatalf("game over = %+v", over)
	}
	if v := m.View(); !v.Team.Expired || v.Team.Remaining != 0 {
		t.Fatalf("view = %+v", v.Team)
	}
}

func TestTeamTimerLastQuestionWins(t *testing.T) {
	f := newFixture(2)
	me := f.players[1]
	h := newFakeHost(f.t0)
	m, _ := New(models.GameTypeTeamTimer, h, DefaultConfig())

	q := question(9, 100)
	st := f.state(me, models.GameTypeTeamTimer, q)
	st.Session.CurrentPlayerID = &me
	m.Initialize(st)
	if err := m.HandleAnswer("A"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	m.HandleEvent(eventbus.Event{Name: eventbus.AnswerResult, QuestionID: q.ID, Flag: true})

	over := h.emitted(eventbus.GameOver)
	if len(over) != 1 || !over[0].Flag {
		t.Fatalf("game over = %+v, want a win", over)
	}
}

func TestTeamTimerAdoptsNewerPersistedValue(t *testing.T) {
	f := newFixture(2)
	h := newFakeHost(f.t0.Add(10 * time.Second))
	m, _ := New(models.GameTypeTeamTimer, h, DefaultConfig())
	team := m.(*TeamTimerMode)

	st := f.state(f.players[1], models.GameTypeTeamTimer, question(0, 100))
	left := int64(120000)
	stamp := f.t0.Add(4 * time.Second)
	st.Session.TeamTimerRemainingMs = &left
	st.Session.TeamTimerUpdatedAt = &stamp
	m.Initialize(st)

	if got := team.Remaining(); got != 114*time.Second {
		t.Fatalf("remaining = %s, want 114s", got)
	}
}
