package backend

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// Requester is the request/response half of the backend gateway.
type Requester interface {
	ServerTime(ctx context.Context) (time.Time, error)

	CreateSession(ctx context.Context, req CreateSessionRequest) (*models.GameSession, error)
	FetchSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error)
	StartSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error)
	// AdvanceQuestion moves a sequential session to expectedIndex+1. It fails with ErrConflict
	// when the session is no longer at expectedIndex.
	AdvanceQuestion(ctx context.Context, sessionID uuid.UUID, expectedIndex int) (*models.GameSession, error)
	CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome models.GameOutcome) (*models.GameSession, error)
	CancelSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error)

	FetchQuestionByIndex(ctx context.Context, sessionID uuid.UUID, index int) (*models.GameQuestion, error)
	FetchQuestionByID(ctx context.Context, questionID uuid.UUID) (*models.GameQuestion, error)
	FetchParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	FetchLeaderboard(ctx context.Context, sessionID uuid.UUID) ([]models.LeaderboardEntry, error)

	// SubmitAnswer persists at most one score row per (session, question, user).
	SubmitAnswer(ctx context.Context, sub AnswerSubmission) (*SubmissionResult, error)
	// FetchReveal returns the correct answer; only allowed after the user submitted or the question expired.
	FetchReveal(ctx context.Context, sessionID, questionID, userID uuid.UUID) (*Reveal, error)

	FetchBoard(ctx context.Context, sessionID uuid.UUID) ([]models.BoardCell, error)
	// SelectQuestion opens a board cell and the buzzer. ErrConflict when a cell is already open.
	SelectQuestion(ctx context.Context, sessionID, questionID uuid.UUID) (*models.GameSession, error)
	// ReturnToBoard closes questionID and hands the turn to nextPlayer in one write.
	// ErrConflict when questionID is no longer the open cell.
	ReturnToBoard(ctx context.Context, sessionID, questionID, nextPlayer uuid.UUID) (*models.GameSession, error)
	SetCurrentPlayer(ctx context.Context, sessionID uuid.UUID, userID *uuid.UUID) (*models.GameSession, error)
	// ClaimBuzzer sets the current player only when nobody holds the buzzer; ErrConflict otherwise.
	ClaimBuzzer(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error)
	GetLowestScoringPlayer(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error)
	CheckBoardComplete(ctx context.Context, sessionID uuid.UUID) (bool, error)
	AdvanceToFinalRound(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error)

	UpdateTeamTimer(ctx context.Context, sessionID uuid.UUID, remainingMs int64) (*models.GameSession, error)
}

// Subscription is the handle returned by every Notifier subscription.
type Subscription interface {
	Unsubscribe() error
	// Lost delivers at most one error when the underlying channel breaks.
	Lost() <-chan error
}

// Notifier is the push half of the backend gateway.
type Notifier interface {
	SubscribeSession(ctx context.Context, sessionID uuid.UUID, fn func(SessionChange)) (Subscription, error)
	SubscribeQuestions(ctx context.Context, sessionID uuid.UUID, fn func(QuestionInsert)) (Subscription, error)
	SubscribeScores(ctx context.Context, sessionID uuid.UUID, fn func(ScoreInsert)) (Subscription, error)
}

// Gateway combines both halves.
type Gateway interface {
	Requester
	Notifier
}

// Join pairs a requester with a notifier from a different transport.
func Join(r Requester, n Notifier) Gateway {
	return joined{Requester: r, Notifier: n}
}

type joined struct {
	Requester
	Notifier
}

// CreateSessionRequest creates a session with its full question set.
type CreateSessionRequest struct {
	RoomID    uuid.UUID             `json:"room_id"`
	HostID    uuid.UUID             `json:"host_id"`
	GameType  models.GameType       `json:"game_type"`
	Config    models.GameConfig     `json:"config"`
	Questions []models.GameQuestion `json:"questions"`
}

// AnswerSubmission is sent at most once per question per user.
type AnswerSubmission struct {
	SessionID         uuid.UUID `json:"session_id"`
	QuestionID        uuid.UUID `json:"question_id"`
	UserID            uuid.UUID `json:"user_id"`
	Answer            string    `json:"answer"`
	TimeTakenMs       int64     `json:"time_taken_ms"`
	IsChallenge       bool      `json:"is_challenge"`
	PointsIfCorrect   int       `json:"points_if_correct"`
	PointsIfIncorrect int       `json:"points_if_incorrect"`
}

// Judge compares a submitted answer with the stored one, ignoring case and surrounding space.
func Judge(correct, answer string) bool {
	answer = strings.TrimSpace(answer)
	return answer != "" && strings.EqualFold(answer, strings.TrimSpace(correct))
}

// SubmissionResult is the judge's verdict on a submission.
type SubmissionResult struct {
	IsCorrect     bool `json:"is_correct"`
	PointsAwarded int  `json:"points_awarded"`
	Duplicate     bool `json:"duplicate"`
}

// Reveal carries the post-submission answer details.
type Reveal struct {
	QuestionID    uuid.UUID `json:"question_id"`
	CorrectAnswer string    `json:"correct_answer"`
	Explanation   string    `json:"explanation"`
}

// SessionChange is pushed whenever the session row changes.
type SessionChange struct {
	Session models.GameSession `json:"session"`
}

// QuestionInsert is pushed when a question row is created.
type QuestionInsert struct {
	Question models.GameQuestion `json:"question"`
}

// ScoreInsert is pushed when a score row is appended.
type ScoreInsert struct {
	Score models.PlayerScore `json:"score"`
}
