package game

import (
	"time"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// State is the local projection of one session. The session controller is its only writer and
// replaces it wholesale on every reconciliation pass; modes read it and keep their own derived fields.
type State struct {
	UserID          uuid.UUID
	Session         models.GameSession
	CurrentQuestion *models.GameQuestion
	Participants    []models.Participant
	Leaderboard     []models.LeaderboardEntry
	Board           []models.BoardCell

	HasAnswered    bool
	GameStarted    bool
	GameEnded      bool
	QuestionsReady bool
	ConnectionLost bool
	Banner         string
}

// Clone returns a deep copy so a snapshot handed to a mode or renderer cannot alias controller state.
func (s State) Clone() State {
	out := s
	out.Session = cloneSession(s.Session)
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		q.QuestionData.Options = append([]string(nil), s.CurrentQuestion.QuestionData.Options...)
		out.CurrentQuestion = &q
	}
	out.Participants = append([]models.Participant(nil), s.Participants...)
	out.Leaderboard = append([]models.LeaderboardEntry(nil), s.Leaderboard...)
	out.Board = append([]models.BoardCell(nil), s.Board...)
	return out
}

func cloneSession(s models.GameSession) models.GameSession {
	out := s
	out.SelectedQuestionID = cloneUUID(s.SelectedQuestionID)
	out.CurrentPlayerID = cloneUUID(s.CurrentPlayerID)
	out.QuestionStartedAt = cloneTime(s.QuestionStartedAt)
	out.TeamTimerUpdatedAt = cloneTime(s.TeamTimerUpdatedAt)
	if s.TeamTimerRemainingMs != nil {
		v := *s.TeamTimerRemainingMs
		out.TeamTimerRemainingMs = &v
	}
	if s.Outcome.TeamWon != nil {
		v := *s.Outcome.TeamWon
		out.Outcome.TeamWon = &v
	}
	return out
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IsHost reports whether the local user hosts the session.
func (s State) IsHost() bool {
	return s.UserID != uuid.Nil && s.UserID == s.Session.HostID
}

// IsCurrentPlayer reports whether the local user holds the turn or buzzer.
func (s State) IsCurrentPlayer() bool {
	return s.Session.CurrentPlayerID != nil && *s.Session.CurrentPlayerID == s.UserID
}

// QuestionTimeLimit returns the active question's limit, falling back to the session config.
func (s State) QuestionTimeLimit() time.Duration {
	if s.CurrentQuestion != nil && s.CurrentQuestion.TimeLimitSeconds > 0 {
		return s.CurrentQuestion.TimeLimit()
	}
	return time.Duration(s.Session.Config.TimeLimitSeconds) * time.Second
}

// QuestionDeadline is questionStartedAt plus the time limit. ok is false when no timer is running.
func (s State) QuestionDeadline() (time.Time, bool) {
	started := s.Session.QuestionStartedAt
	limit := s.QuestionTimeLimit()
	if started == nil || limit <= 0 || s.CurrentQuestion == nil {
		return time.Time{}, false
	}
	return started.Add(limit), true
}

// TimeRemaining is measured against now, which must come from the synchronized clock.
func (s State) TimeRemaining(now time.Time) time.Duration {
	deadline, ok := s.QuestionDeadline()
	if !ok {
		return 0
	}
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// View is the tagged union handed to renderers: exactly one of the mode fields is set,
// matching State.Session.GameType.
type View struct {
	State
	Phase         Phase
	TimeRemaining time.Duration

	Speed   *SpeedView
	Board   *BoardView
	HotSeat *HotSeatView
	Team    *TeamView
}

// Phase is the common state machine position: start -> waiting_for_input -> resolving -> {continue|end}.
type Phase string

const (
	PhaseStart           Phase = "start"
	PhaseWaitingForInput Phase = "waiting_for_input"
	PhaseResolving       Phase = "resolving"
	PhaseContinue        Phase = "continue"
	PhaseEnd             Phase = "end"
)

// Result is the judged outcome of the local user's submission.
type Result struct {
	QuestionID    uuid.UUID
	Answer        string
	IsCorrect     bool
	PointsAwarded int
}

type SpeedView struct {
	Answered bool
	TimedOut bool
	Result   *Result
	Reveal   *backend.Reveal
}

type BoardView struct {
	TurnPlayer   *uuid.UUID
	BuzzedPlayer *uuid.UUID
	BuzzerOpen   bool
	FinalRound   bool
	DailyDouble  bool
	Answered     bool
	Result       *Result
	Reveal       *backend.Reveal
}

type HotSeatView struct {
	HotSeatPlayer     uuid.UUID
	TurnQuestionCount int
	QuestionsPerTurn  int
	Answered          bool
	Challenged        bool
	Result            *Result
	Reveal            *backend.Reveal
}

type TeamView struct {
	Remaining    time.Duration
	BuzzedPlayer *uuid.UUID
	Answered     bool
	Result       *Result
	Expired      bool
}
