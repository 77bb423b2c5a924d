package game

import (
	"time"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// TeamTimerMode runs the cooperative chain: one shared countdown, first buzz answers, correct
// answers add time and wrong ones take it away. The countdown ticks locally and reconciles only
// through timer-update events persisted on the session row.
type TeamTimerMode struct {
	base

	remainingAt time.Duration // remaining time at anchor
	anchor      time.Time
	serverStamp time.Time // TeamTimerUpdatedAt last adopted
	optimistic  time.Time // anchor of a local adjustment not yet echoed back
	started     bool
	timeUp      bool
	buzzed      bool
	tick        timer
}

func newTeamTimerMode(h Host, cfg Config) *TeamTimerMode {
	m := &TeamTimerMode{base: newBase(h, cfg)}
	m.untimed = true
	return m
}

func (m *TeamTimerMode) Type() models.GameType { return models.GameTypeTeamTimer }

func (m *TeamTimerMode) Initialize(st State) { m.apply(st) }

func (m *TeamTimerMode) UpdateState(st State) { m.apply(st) }

func (m *TeamTimerMode) apply(st State) {
	m.st = st
	if m.syncEnded() {
		m.tick.stop()
		return
	}
	if q := st.CurrentQuestion; q != nil {
		if m.observeQuestion(q.ID) {
			m.buzzed = false
		}
	}
	if st.HasAnswered {
		m.answered = true
	}
	if st.Session.Status != models.GameStatusInProgress {
		return
	}

	s := st.Session
	switch {
	case m.adoptable(s):
		m.serverStamp = *s.TeamTimerUpdatedAt
		m.optimistic = time.Time{}
		m.remainingAt = time.Duration(*s.TeamTimerRemainingMs) * time.Millisecond
		m.anchor = *s.TeamTimerUpdatedAt
		m.started = true
	case !m.started:
		m.started = true
		m.remainingAt = m.cfg.Team.Start
		m.anchor = m.host.Now()
		if st.IsHost() && s.TeamTimerRemainingMs == nil {
			m.emitTimer(m.remainingAt)
		}
	}

	if !m.tick.armed() && !m.timeUp {
		m.scheduleTick()
	}
}

// adoptable reports whether the persisted timer is newer than anything applied locally.
func (m *TeamTimerMode) adoptable(s models.GameSession) bool {
	if s.TeamTimerRemainingMs == nil || s.TeamTimerUpdatedAt == nil {
		return false
	}
	at := *s.TeamTimerUpdatedAt
	if !at.After(m.serverStamp) {
		return false
	}
	return m.optimistic.IsZero() || !at.Before(m.optimistic)
}

// Remaining is the shared countdown as seen on the synchronized clock.
func (m *TeamTimerMode) Remaining() time.Duration {
	if !m.started {
		return m.cfg.Team.Start
	}
	r := m.remainingAt - m.host.Now().Sub(m.anchor)
	if r < 0 {
		return 0
	}
	return r
}

func (m *TeamTimerMode) scheduleTick() {
	m.tick.set(m.host, m.cfg.Team.Tick, m.onTick)
}

func (m *TeamTimerMode) onTick() {
	m.tick.fired()
	if m.ended || m.timeUp {
		return
	}
	if m.Remaining() > 0 {
		m.scheduleTick()
		return
	}
	m.timeUp = true
	if m.st.IsHost() {
		m.gameOver(false)
	}
}

func (m *TeamTimerMode) emitTimer(remaining time.Duration) {
	ev := m.event(eventbus.TimerUpdate)
	ev.Value = remaining.Milliseconds()
	m.host.Emit(ev)
}

func (m *TeamTimerMode) gameOver(won bool) {
	ev := m.event(eventbus.GameOver)
	ev.Flag = won
	ev.QuestionID = m.questionID
	m.host.Emit(ev)
}

// Buzz claims the active question for the local user.
func (m *TeamTimerMode) Buzz() error {
	if m.ended || m.timeUp || m.st.CurrentQuestion == nil || m.st.Session.Status != models.GameStatusInProgress {
		return ErrNotAllowed
	}
	if m.buzzed || m.st.IsCurrentPlayer() {
		return ErrInputLocked
	}
	if m.st.Session.CurrentPlayerID != nil {
		return ErrNotYourTurn
	}
	m.buzzed = true
	ev := m.event(eventbus.Buzz)
	ev.QuestionID = m.questionID
	m.host.Emit(ev)
	return nil
}

func (m *TeamTimerMode) HandleAnswer(answer string) error {
	if m.timeUp {
		return ErrInputLocked
	}
	if err := m.checkAnswerable(); err != nil {
		return err
	}
	if !m.st.IsCurrentPlayer() {
		return ErrNotYourTurn
	}
	m.submit(eventbus.AnswerSubmit, answer, m.basePoints(), 0)
	return nil
}

func (m *TeamTimerMode) HandleEvent(ev eventbus.Event) {
	if ev.Name == eventbus.AnswerFailed && ev.QuestionID == m.questionID {
		m.moveOn()
		return
	}
	if !m.handleResult(ev) || m.timeUp {
		return
	}

	remaining := m.Remaining()
	if ev.Flag {
		remaining += m.cfg.Team.CorrectBonus
	} else {
		remaining -= m.cfg.Team.WrongPenalty
	}
	if remaining < 0 {
		remaining = 0
	}
	m.remainingAt = remaining
	m.anchor = m.host.Now()
	m.optimistic = m.anchor
	m.emitTimer(remaining)

	if remaining == 0 {
		m.timeUp = true
		m.tick.stop()
		m.gameOver(false)
		return
	}
	m.moveOn()
}

// moveOn advances the chain, or ends it as a win after the last question.
func (m *TeamTimerMode) moveOn() {
	idx := m.st.Session.CurrentQuestionIndex
	if idx+1 >= m.st.Session.Config.QuestionCount {
		m.tick.stop()
		m.gameOver(true)
		return
	}
	ev := m.event(eventbus.NextQuestion)
	ev.QuestionID = m.questionID
	ev.Index = idx
	m.host.Emit(ev)
}

func (m *TeamTimerMode) View() View {
	v := m.view()
	v.TimeRemaining = m.Remaining()
	v.Team = &TeamView{
		Remaining:    m.Remaining(),
		BuzzedPlayer: cloneUUID(m.st.Session.CurrentPlayerID),
		Answered:     m.answered || m.st.HasAnswered,
		Result:       m.result,
		Expired:      m.timeUp,
	}
	if m.timeUp && !m.ended {
		v.Phase = PhaseEnd
	}
	return v
}

func (m *TeamTimerMode) Cleanup() {
	m.tick.stop()
	m.cleanup()
}
