package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GameType defines which multiplayer mode a session runs.
type GameType string

const (
	GameTypeSpeedQuiz GameType = "SPEED_QUIZ"
	GameTypeBoard     GameType = "BOARD"
	GameTypeHotSeat   GameType = "HOT_SEAT"
	GameTypeTeamTimer GameType = "TEAM_TIMER"
)

// Valid reports whether t is one of the known modes.
func (t GameType) Valid() bool {
	switch t {
	case GameTypeSpeedQuiz, GameTypeBoard, GameTypeHotSeat, GameTypeTeamTimer:
		return true
	}
	return false
}

// Sequential reports whether the mode walks questions by index rather than by board selection.
func (t GameType) Sequential() bool {
	return t != GameTypeBoard
}

// GameStatus defines the lifecycle status of a session.
type GameStatus string

const (
	GameStatusWaiting    GameStatus = "waiting"
	GameStatusInProgress GameStatus = "in_progress"
	GameStatusCompleted  GameStatus = "completed"
	GameStatusCancelled  GameStatus = "cancelled"
)

// ErrInvalidTransition is returned when a status change would move backwards.
var ErrInvalidTransition = errors.New("invalid status transition")

// Terminal reports whether no further transitions are possible.
func (s GameStatus) Terminal() bool {
	return s == GameStatusCompleted || s == GameStatusCancelled
}

func (s GameStatus) rank() int {
	switch s {
	case GameStatusWaiting:
		return 0
	case GameStatusInProgress:
		return 1
	case GameStatusCompleted, GameStatusCancelled:
		return 2
	}
	return -1
}

// CanTransition reports whether a session may move from s to next.
// Status only moves forward: waiting -> in_progress -> {completed|cancelled}.
// Cancelling is also allowed straight from waiting.
func (s GameStatus) CanTransition(next GameStatus) bool {
	if s.rank() < 0 || next.rank() < 0 || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Transition validates a status change.
func (s GameStatus) Transition(next GameStatus) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// GameConfig holds per-session settings chosen by the host.
type GameConfig struct {
	QuestionCount    int `json:"question_count"`
	TimeLimitSeconds int `json:"time_limit_seconds"`
	PointsPerCorrect int `json:"points_per_correct,omitempty"`
	PenaltyPerWrong  int `json:"penalty_per_wrong,omitempty"`
}

// GameOutcome is recorded when a session completes.
type GameOutcome struct {
	TeamWon *bool `json:"team_won,omitempty"`
}

// GameSession identifies one game instance. The backend owns it; clients hold a provisional copy.
type GameSession struct {
	ID                   uuid.UUID   `json:"id"`
	RoomID               uuid.UUID   `json:"room_id"`
	HostID               uuid.UUID   `json:"host_id"`
	GameType             GameType    `json:"game_type"`
	Status               GameStatus  `json:"status"`
	CurrentQuestionIndex int         `json:"current_question_index"`
	SelectedQuestionID   *uuid.UUID  `json:"selected_question_id,omitempty"`
	CurrentPlayerID      *uuid.UUID  `json:"current_player_id,omitempty"`
	QuestionStartedAt    *time.Time  `json:"question_started_at,omitempty"`
	FinalRound           bool        `json:"final_round"`
	TeamTimerRemainingMs *int64      `json:"team_timer_remaining_ms,omitempty"`
	TeamTimerUpdatedAt   *time.Time  `json:"team_timer_updated_at,omitempty"`
	Outcome              GameOutcome `json:"outcome"`
	Config               GameConfig  `json:"config"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// QuestionData is the client-visible part of a question.
type QuestionData struct {
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options,omitempty"`
	Category string   `json:"category,omitempty"`
}

// GameQuestion is immutable once created. CorrectAnswer and Explanation are never populated on the
// read path before the reveal.
type GameQuestion struct {
	ID               uuid.UUID    `json:"id"`
	GameSessionID    uuid.UUID    `json:"game_session_id"`
	QuestionIndex    int          `json:"question_index"`
	ColumnPosition   int          `json:"column_position"`
	QuestionData     QuestionData `json:"question_data"`
	CorrectAnswer    string       `json:"correct_answer,omitempty"`
	Explanation      string       `json:"explanation,omitempty"`
	Difficulty       string       `json:"difficulty,omitempty"`
	Points           int          `json:"points"`
	TimeLimitSeconds int          `json:"time_limit_seconds"`
	IsDailyDouble    bool         `json:"is_daily_double"`
	IsFinalJeopardy  bool         `json:"is_final_jeopardy"`
	CreatedAt        time.Time    `json:"created_at"`
}

// TimeLimit returns the question timer as a duration.
func (q *GameQuestion) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Participant is a session member. JoinOrder breaks leaderboard ties.
type Participant struct {
	UserID        uuid.UUID `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	IsHost        bool      `json:"is_host"`
	IsCurrentUser bool      `json:"is_current_user"`
	JoinOrder     int       `json:"join_order"`
	JoinedAt      time.Time `json:"joined_at"`
}

// PlayerScore is one append-only score event keyed by (GameSessionID, QuestionID, UserID).
type PlayerScore struct {
	ID            uuid.UUID `json:"id"`
	GameSessionID uuid.UUID `json:"game_session_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	UserID        uuid.UUID `json:"user_id"`
	Answer        string    `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	IsChallenge   bool      `json:"is_challenge"`
	Points        int       `json:"points"`
	TimeTakenMs   int64     `json:"time_taken_ms"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// LeaderboardEntry is the aggregated per-user view of score events.
type LeaderboardEntry struct {
	UserID         uuid.UUID `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	TotalScore     int       `json:"total_score"`
	CorrectCount   int       `json:"correct_count"`
	IncorrectCount int       `json:"incorrect_count"`
	TotalTimeMs    int64     `json:"total_time_ms"`
	JoinOrder      int       `json:"join_order"`
	Rank           int       `json:"rank"`
}

// BoardCell is one slot of the board-mode grid.
type BoardCell struct {
	QuestionID     uuid.UUID `json:"question_id"`
	Category       string    `json:"category"`
	ColumnPosition int       `json:"column_position"`
	Points         int       `json:"points"`
	Answered       bool      `json:"answered"`
	IsFinal        bool      `json:"is_final"`
}
