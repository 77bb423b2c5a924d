package game

import (
	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// HotSeatMode seats one player for a fixed run of questions while everyone else may challenge
// before the reveal.
type HotSeatMode struct {
	base
	challenged    bool
	announcedTurn int
}

func newHotSeatMode(h Host, cfg Config) *HotSeatMode {
	return &HotSeatMode{base: newBase(h, cfg), announcedTurn: -1}
}

func (m *HotSeatMode) Type() models.GameType { return models.GameTypeHotSeat }

func (m *HotSeatMode) Initialize(st State) { m.apply(st) }

func (m *HotSeatMode) UpdateState(st State) { m.apply(st) }

func (m *HotSeatMode) apply(st State) {
	m.st = st
	if m.syncEnded() {
		return
	}
	if q := st.CurrentQuestion; q != nil {
		if m.observeQuestion(q.ID) {
			m.challenged = false
		}
	}
	if st.HasAnswered {
		m.answered = true
	}
	m.announceTurn()
	m.armDeadline(m.onExpire)
}

// HotSeatPlayer is the participant answering the current question.
func (m *HotSeatMode) HotSeatPlayer() uuid.UUID {
	return m.cfg.Rotation(m.st.Participants, m.st.Session.CurrentQuestionIndex, m.cfg.HotSeat.QuestionsPerTurn)
}

func (m *HotSeatMode) turn() int {
	return m.st.Session.CurrentQuestionIndex / m.cfg.HotSeat.QuestionsPerTurn
}

// announceTurn has the host mirror a new hot seat player onto the session row.
func (m *HotSeatMode) announceTurn() {
	if !m.st.IsHost() || m.st.Session.Status != models.GameStatusInProgress || m.turn() == m.announcedTurn {
		return
	}
	player := m.HotSeatPlayer()
	if player == uuid.Nil {
		return
	}
	m.announcedTurn = m.turn()
	if cur := m.st.Session.CurrentPlayerID; cur != nil && *cur == player {
		return
	}
	ev := m.event(eventbus.TurnResolved)
	ev.UserID = player
	ev.Index = m.st.Session.CurrentQuestionIndex
	m.host.Emit(ev)
}

func (m *HotSeatMode) onExpire() {
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

func (m *HotSeatMode) HandleAnswer(answer string) error {
	if err := m.checkAnswerable(); err != nil {
		return err
	}
	if m.HotSeatPlayer() != m.st.UserID {
		return ErrNotYourTurn
	}
	hs := m.cfg.HotSeat
	m.submit(eventbus.AnswerSubmit, answer, hs.CorrectPoints, hs.IncorrectPoints)
	return nil
}

// Challenge submits a spectator's own answer against the hot seat player's.
func (m *HotSeatMode) Challenge(answer string) error {
	if m.HotSeatPlayer() == m.st.UserID {
		return ErrNotAllowed
	}
	if m.challenged {
		return ErrInputLocked
	}
	if err := m.checkAnswerable(); err != nil {
		return err
	}
	m.challenged = true
	hs := m.cfg.HotSeat
	m.submit(eventbus.Challenge, answer, hs.ChallengeBonus, hs.ChallengePenalty)
	return nil
}

func (m *HotSeatMode) HandleEvent(ev eventbus.Event) {
	m.handleResult(ev)
}

func (m *HotSeatMode) View() View {
	v := m.view()
	perTurn := m.cfg.HotSeat.QuestionsPerTurn
	v.HotSeat = &HotSeatView{
		HotSeatPlayer:     m.HotSeatPlayer(),
		TurnQuestionCount: m.st.Session.CurrentQuestionIndex%perTurn + 1,
		QuestionsPerTurn:  perTurn,
		Answered:          m.answered || m.st.HasAnswered,
		Challenged:        m.challenged,
		Result:            m.result,
		Reveal:            m.reveal,
	}
	return v
}

func (m *HotSeatMode) Cleanup() { m.cleanup() }
