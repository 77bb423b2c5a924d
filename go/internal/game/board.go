package game

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// BoardMode runs board-style trivia. The turn holder opens a cell, the first buzzer answers, and the
// turn then passes by the configured TurnPolicy. Once every regular cell is played, a single final
// question is open to everyone.
type BoardMode struct {
	base
	buzzed bool
}

func newBoardMode(h Host, cfg Config) *BoardMode {
	return &BoardMode{base: newBase(h, cfg)}
}

func (m *BoardMode) Type() models.GameType { return models.GameTypeBoard }

func (m *BoardMode) Initialize(st State) { m.apply(st) }

func (m *BoardMode) UpdateState(st State) { m.apply(st) }

func (m *BoardMode) apply(st State) {
	m.st = st
	if m.syncEnded() {
		return
	}

	sel := st.Session.SelectedQuestionID
	switch {
	case sel == nil:
		if m.observeQuestion(uuid.Nil) {
			m.buzzed = false
		}
		return
	case st.CurrentQuestion == nil || st.CurrentQuestion.ID != *sel:
		// selected cell not loaded yet
		return
	}
	if m.observeQuestion(*sel) {
		m.buzzed = false
	}
	if st.HasAnswered {
		m.answered = true
	}
	m.armDeadline(m.onExpire)
}

func (m *BoardMode) final() bool {
	return m.st.Session.FinalRound
}

func (m *BoardMode) dailyDouble() bool {
	q := m.st.CurrentQuestion
	return q != nil && q.IsDailyDouble && !m.final()
}

func (m *BoardMode) onExpire() {
	m.lockOutOnExpiry()
	qid := m.questionID

	if m.final() {
		m.follow.set(m.host, m.cfg.RevealDuration, func() {
			if m.ended || m.questionID != qid || !m.st.IsHost() {
				return
			}
			ev := m.event(eventbus.GameOver)
			ev.QuestionID = qid
			m.host.Emit(ev)
		})
		return
	}

	if !m.st.IsHost() {
		return
	}
	// A buzz holder's answer may still be in flight; the cell stays theirs for one reveal window.
	if m.st.Session.CurrentPlayerID != nil {
		m.follow.set(m.host, m.cfg.RevealDuration, func() {
			if m.ended || m.questionID != qid {
				return
			}
			m.handOff(qid)
		})
		return
	}
	m.handOff(qid)
}

// handOff tells the backend nobody resolved qid in time. Host only.
func (m *BoardMode) handOff(qid uuid.UUID) {
	ev := m.event(eventbus.TurnResolved)
	ev.QuestionID = qid
	ev.UserID = uuid.Nil
	m.host.Emit(ev)
}

// SelectCell opens a cell for the turn holder.
func (m *BoardMode) SelectCell(questionID uuid.UUID) error {
	if m.ended || m.final() || m.st.Session.Status != models.GameStatusInProgress {
		return ErrNotAllowed
	}
	if m.st.Session.SelectedQuestionID != nil {
		return ErrNotAllowed
	}
	if !m.st.IsCurrentPlayer() {
		return ErrNotYourTurn
	}
	found := false
	for _, c := range m.st.Board {
		if c.QuestionID == questionID {
			if c.Answered || c.IsFinal {
				return ErrNotAllowed
			}
			found = true
			break
		}
	}
	if !found {
		return ErrNotAllowed
	}
	ev := m.event(eventbus.SelectCell)
	ev.QuestionID = questionID
	m.host.Emit(ev)
	return nil
}

// Buzz claims the right to answer the open cell.
func (m *BoardMode) Buzz() error {
	if m.ended || m.final() || m.questionID == uuid.Nil || m.expired {
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

func (m *BoardMode) HandleAnswer(answer string) error {
	if m.questionID == uuid.Nil {
		return ErrNotAllowed
	}
	if err := m.checkAnswerable(); err != nil {
		return err
	}
	if !m.final() && !m.st.IsCurrentPlayer() {
		return ErrNotYourTurn
	}
	points := m.basePoints()
	if m.dailyDouble() {
		points *= 2
	}
	m.submit(eventbus.AnswerSubmit, answer, points, -points)
	return nil
}

func (m *BoardMode) HandleEvent(ev eventbus.Event) {
	if ev.Name == eventbus.AnswerFailed && ev.QuestionID == m.questionID && !m.final() {
		m.resolveTurn(false)
		return
	}
	if m.handleResult(ev) && !m.final() {
		m.resolveTurn(ev.Flag)
	}
}

func (m *BoardMode) resolveTurn(correct bool) {
	ev := m.event(eventbus.TurnResolved)
	ev.QuestionID = m.questionID
	ev.Flag = correct
	m.host.Emit(ev)
}

func (m *BoardMode) View() View {
	v := m.view()
	bv := &BoardView{
		BuzzerOpen:  !m.final() && m.questionID != uuid.Nil && m.st.Session.CurrentPlayerID == nil && !m.expired,
		FinalRound:  m.final(),
		DailyDouble: m.dailyDouble(),
		Answered:    m.answered || m.st.HasAnswered,
		Result:      m.result,
		Reveal:      m.reveal,
	}
	if m.questionID == uuid.Nil {
		bv.TurnPlayer = cloneUUID(m.st.Session.CurrentPlayerID)
	} else {
		bv.BuzzedPlayer = cloneUUID(m.st.Session.CurrentPlayerID)
	}
	v.Board = bv
	return v
}

func (m *BoardMode) Cleanup() { m.cleanup() }

// AssignDailyDoubles flags up to limit regular questions as daily doubles. Question index 0, the
// final question and the lowest point tier are never flagged. Any existing flags are cleared first.
func AssignDailyDoubles(questions []models.GameQuestion, limit int, rng *rand.Rand) []models.GameQuestion {
	out := append([]models.GameQuestion(nil), questions...)
	lowest := 0
	haveLowest := false
	for i := range out {
		out[i].IsDailyDouble = false
		if out[i].IsFinalJeopardy {
			continue
		}
		if !haveLowest || out[i].Points < lowest {
			lowest = out[i].Points
			haveLowest = true
		}
	}
	if limit <= 0 {
		return out
	}

	var candidates []int
	for i, q := range out {
		if i == 0 || q.QuestionIndex == 0 || q.IsFinalJeopardy || q.Points == lowest {
			continue
		}
		candidates = append(candidates, i)
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, i := range candidates {
		out[i].IsDailyDouble = true
	}
	return out
}
