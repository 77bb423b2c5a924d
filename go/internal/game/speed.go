package game

import (
	"time"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// SpeedMode runs the speed quiz battle: everyone answers the same question against one
// timer anchored to questionStartedAt, and only the host advances after the reveal.
type SpeedMode struct {
	base
}

func newSpeedMode(h Host, cfg Config) *SpeedMode {
	return &SpeedMode{base: newBase(h, cfg)}
}

func (m *SpeedMode) Type() models.GameType { return models.GameTypeSpeedQuiz }

func (m *SpeedMode) Initialize(st State) { m.apply(st) }

func (m *SpeedMode) UpdateState(st State) { m.apply(st) }

func (m *SpeedMode) apply(st State) {
	m.st = st
	if m.syncEnded() {
		return
	}
	if q := st.CurrentQuestion; q != nil {
		m.observeQuestion(q.ID)
	}
	if st.HasAnswered {
		m.answered = true
	}
	m.armDeadline(m.onExpire)
}

func (m *SpeedMode) onExpire() {
	m.lockOutOnExpiry()
	qid := m.questionID
	m.follow.set(m.host, m.cfg.RevealDuration, func() {
		if m.ended || m.questionID != qid || !m.st.IsHost() {
			return
		}
		ev := m.event(eventbus.NextQuestion)
		ev.QuestionID = qid
		ev.Index = m.st.Session.CurrentQuestionIndex
		m.host.Emit(ev)
	})
}

// SpeedPoints adds a bonus of up to half the base points for time left on the clock.
func SpeedPoints(points int, remaining, limit time.Duration) int {
	if limit <= 0 || remaining <= 0 {
		return points
	}
	if remaining > limit {
		remaining = limit
	}
	bonus := int64(points) * remaining.Milliseconds() / (limit.Milliseconds() * 2)
	return points + int(bonus)
}

func (m *SpeedMode) HandleAnswer(answer string) error {
	if err := m.checkAnswerable(); err != nil {
		return err
	}
	now := m.host.Now()
	points := SpeedPoints(m.basePoints(), m.st.TimeRemaining(now), m.st.QuestionTimeLimit())
	m.submit(eventbus.AnswerSubmit, answer, points, -m.st.Session.Config.PenaltyPerWrong)
	return nil
}

func (m *SpeedMode) HandleEvent(ev eventbus.Event) {
	m.handleResult(ev)
}

func (m *SpeedMode) View() View {
	v := m.view()
	v.Speed = &SpeedView{
		Answered: m.answered || m.st.HasAnswered,
		TimedOut: m.timedOut,
		Result:   m.result,
		Reveal:   m.reveal,
	}
	return v
}

func (m *SpeedMode) Cleanup() { m.cleanup() }
