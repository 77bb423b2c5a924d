package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

var (
	// ErrInputLocked means the local user already answered or the question timer ran out.
	ErrInputLocked = errors.New("input locked")
	// ErrNotYourTurn means another participant holds the turn or buzzer.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrNotAllowed means the action does not apply to the current mode or phase.
	ErrNotAllowed = errors.New("action not allowed")
)

// Host is what a mode needs from the session controller.
type Host interface {
	// Now is the synchronized clock.
	Now() time.Time
	// Emit publishes an intent on the event bus.
	Emit(ev eventbus.Event)
	// After runs fn on the controller loop after d. The returned func cancels it; callbacks
	// never run after the controller tears down.
	After(d time.Duration, fn func()) (cancel func())
}

// Mode is the per-game-type state machine. All methods are called from the controller loop.
type Mode interface {
	Type() models.GameType
	Initialize(st State)
	// UpdateState replaces the mode's copy of the controller state.
	UpdateState(st State)
	HandleAnswer(answer string) error
	HandleEvent(ev eventbus.Event)
	View() View
	Cleanup()
}

// Buzzer is implemented by modes with a buzz-in rule.
type Buzzer interface {
	Buzz() error
}

// Challenger is implemented by modes that let spectators challenge an answer.
type Challenger interface {
	Challenge(answer string) error
}

// CellSelector is implemented by board-style modes.
type CellSelector interface {
	SelectCell(questionID uuid.UUID) error
}

// Renderer receives an immutable view after every state change.
type Renderer interface {
	Render(v View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

func (f RendererFunc) Render(v View) { f(v) }

// New builds the mode for t.
func New(t models.GameType, host Host, cfg Config) (Mode, error) {
	cfg = cfg.WithDefaults()
	switch t {
	case models.GameTypeSpeedQuiz:
		return newSpeedMode(host, cfg), nil
	case models.GameTypeBoard:
		return newBoardMode(host, cfg), nil
	case models.GameTypeHotSeat:
		return newHotSeatMode(host, cfg), nil
	case models.GameTypeTeamTimer:
		return newTeamTimerMode(host, cfg), nil
	default:
		return nil, fmt.Errorf("unknown game type %q", t)
	}
}

// timer is a replaceable one-shot callback.
type timer struct {
	cancel func()
}

func (t *timer) set(h Host, d time.Duration, fn func()) {
	t.stop()
	if d < 0 {
		d = 0
	}
	t.cancel = h.After(d, fn)
}

func (t *timer) stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// fired clears the handle from inside the callback.
func (t *timer) fired() {
	t.cancel = nil
}

func (t *timer) armed() bool {
	return t.cancel != nil
}

// base carries the per-question bookkeeping shared by every mode.
type base struct {
	host Host
	cfg  Config
	st   State

	questionID uuid.UUID
	answered   bool
	timedOut   bool
	expired    bool
	result     *Result
	reveal     *backend.Reveal
	ended      bool

	deadline   timer
	armedUntil time.Time
	follow     timer

	// set by modes whose questions have no individual timer
	untimed bool
}

func newBase(h Host, cfg Config) base {
	return base{host: h, cfg: cfg}
}

func (b *base) event(name eventbus.Name) eventbus.Event {
	return eventbus.Event{
		Name:      name,
		SessionID: b.st.Session.ID,
		UserID:    b.st.UserID,
		At:        b.host.Now(),
	}
}

// syncEnded stops all timers once the session is terminal and reports whether it is.
func (b *base) syncEnded() bool {
	if b.st.Session.Status.Terminal() || b.st.GameEnded {
		if !b.ended {
			b.ended = true
			b.deadline.stop()
			b.follow.stop()
		}
		return true
	}
	return false
}

// observeQuestion resets per-question fields when id differs from the tracked question.
func (b *base) observeQuestion(id uuid.UUID) bool {
	if id == b.questionID {
		return false
	}
	b.questionID = id
	b.answered = false
	b.timedOut = false
	b.expired = false
	b.result = nil
	b.reveal = nil
	b.deadline.stop()
	b.follow.stop()
	b.armedUntil = time.Time{}
	return true
}

// armDeadline schedules onExpire at the question deadline, once per deadline value.
func (b *base) armDeadline(onExpire func()) {
	if b.questionID == uuid.Nil || b.expired {
		return
	}
	deadline, ok := b.st.QuestionDeadline()
	if !ok || deadline.Equal(b.armedUntil) {
		return
	}
	b.armedUntil = deadline
	qid := b.questionID
	b.deadline.set(b.host, deadline.Sub(b.host.Now()), func() {
		if b.ended || b.questionID != qid {
			return
		}
		b.expired = true
		onExpire()
	})
}

// lockOutOnExpiry marks an unanswered question as answered-with-none and asks for the reveal.
func (b *base) lockOutOnExpiry() {
	if b.answered {
		return
	}
	b.answered = true
	b.timedOut = true
	ev := b.event(eventbus.Timeout)
	ev.QuestionID = b.questionID
	b.host.Emit(ev)
}

// checkAnswerable applies the checks shared by every answer path.
func (b *base) checkAnswerable() error {
	if b.ended || b.st.CurrentQuestion == nil || b.st.Session.Status != models.GameStatusInProgress {
		return ErrNotAllowed
	}
	if b.answered || b.expired || b.st.HasAnswered {
		return ErrInputLocked
	}
	if _, ok := b.st.QuestionDeadline(); ok && !b.untimed && b.st.TimeRemaining(b.host.Now()) <= 0 {
		return ErrInputLocked
	}
	return nil
}

func (b *base) elapsedMs() int64 {
	started := b.st.Session.QuestionStartedAt
	if started == nil {
		return 0
	}
	d := b.host.Now().Sub(*started)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

func (b *base) submit(name eventbus.Name, answer string, points, penalty int) {
	b.answered = true
	ev := b.event(name)
	ev.QuestionID = b.questionID
	ev.Answer = answer
	ev.Value = b.elapsedMs()
	ev.Points = points
	ev.Penalty = penalty
	ev.Flag = name == eventbus.Challenge
	b.host.Emit(ev)
}

// handleResult records answer results and reveals for the tracked question. It reports
// whether ev was an answer result for that question.
func (b *base) handleResult(ev eventbus.Event) bool {
	if ev.QuestionID != b.questionID || b.questionID == uuid.Nil {
		return false
	}
	switch ev.Name {
	case eventbus.AnswerResult:
		b.answered = true
		b.result = &Result{
			QuestionID:    ev.QuestionID,
			Answer:        ev.Answer,
			IsCorrect:     ev.Flag,
			PointsAwarded: int(ev.Value),
		}
		return true
	case eventbus.Reveal:
		b.reveal = &backend.Reveal{QuestionID: ev.QuestionID, CorrectAnswer: ev.Answer, Explanation: ev.Message}
	}
	return false
}

func (b *base) basePoints() int {
	if q := b.st.CurrentQuestion; q != nil && q.Points > 0 {
		return q.Points
	}
	if b.st.Session.Config.PointsPerCorrect > 0 {
		return b.st.Session.Config.PointsPerCorrect
	}
	return b.cfg.DefaultPoints
}

func (b *base) phase() Phase {
	switch {
	case b.ended:
		return PhaseEnd
	case b.st.CurrentQuestion == nil || b.st.Session.Status == models.GameStatusWaiting:
		return PhaseStart
	case b.expired:
		return PhaseContinue
	case b.answered:
		return PhaseResolving
	default:
		return PhaseWaitingForInput
	}
}

func (b *base) view() View {
	return View{
		State:         b.st.Clone(),
		Phase:         b.phase(),
		TimeRemaining: b.st.TimeRemaining(b.host.Now()),
	}
}

func (b *base) cleanup() {
	b.ended = true
	b.deadline.stop()
	b.follow.stop()
}
