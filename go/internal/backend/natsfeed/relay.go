package natsfeed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// Publisher is the publish half of Feed.
type Publisher interface {
	Publish(ctx context.Context, kind string, sessionID uuid.UUID, payload any) error
}

// RelayRequester forwards every write to the wrapped Requester and publishes the resulting row,
// so peers on the same stream see it without a database listener.
type RelayRequester struct {
	backend.Requester
	pub Publisher
	now func() time.Time
}

// WithRelay wraps r so successful writes are published on pub.
func WithRelay(r backend.Requester, pub Publisher) *RelayRequester {
	return &RelayRequester{Requester: r, pub: pub, now: time.Now}
}

// publish never fails the write: the row is already committed and pollers cover a lost event.
func (r *RelayRequester) publish(ctx context.Context, kind string, sessionID uuid.UUID, payload any) {
	if err := r.pub.Publish(ctx, kind, sessionID, payload); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Str("kind", kind).Msg("failed to relay event")
	}
}

func (r *RelayRequester) session(ctx context.Context, s *models.GameSession, err error) (*models.GameSession, error) {
	if err != nil {
		return nil, err
	}
	r.publish(ctx, KindSession, s.ID, s)
	return s, nil
}

func (r *RelayRequester) CreateSession(ctx context.Context, req backend.CreateSessionRequest) (*models.GameSession, error) {
	s, err := r.Requester.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, KindSession, s.ID, s)
	for _, q := range req.Questions {
		q.GameSessionID = s.ID
		q.CorrectAnswer, q.Explanation = "", ""
		r.publish(ctx, KindQuestions, s.ID, q)
	}
	return s, nil
}

func (r *RelayRequester) StartSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	s, err := r.Requester.StartSession(ctx, sessionID)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) AdvanceQuestion(ctx context.Context, sessionID uuid.UUID, expectedIndex int) (*models.GameSession, error) {
	s, err := r.Requester.AdvanceQuestion(ctx, sessionID, expectedIndex)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome models.GameOutcome) (*models.GameSession, error) {
	s, err := r.Requester.CompleteSession(ctx, sessionID, outcome)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) CancelSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	s, err := r.Requester.CancelSession(ctx, sessionID)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) SubmitAnswer(ctx context.Context, sub backend.AnswerSubmission) (*backend.SubmissionResult, error) {
	res, err := r.Requester.SubmitAnswer(ctx, sub)
	if err != nil || res.Duplicate {
		return res, err
	}
	r.publish(ctx, KindScores, sub.SessionID, models.PlayerScore{
		ID:            uuid.New(),
		GameSessionID: sub.SessionID,
		QuestionID:    sub.QuestionID,
		UserID:        sub.UserID,
		Answer:        sub.Answer,
		IsCorrect:     res.IsCorrect,
		IsChallenge:   sub.IsChallenge,
		Points:        res.PointsAwarded,
		TimeTakenMs:   sub.TimeTakenMs,
		AnsweredAt:    r.now().UTC(),
	})
	return res, nil
}

func (r *RelayRequester) SelectQuestion(ctx context.Context, sessionID, questionID uuid.UUID) (*models.GameSession, error) {
	s, err := r.Requester.SelectQuestion(ctx, sessionID, questionID)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) ReturnToBoard(ctx context.Context, sessionID, questionID, nextPlayer uuid.UUID) (*models.GameSession, error) {
	s, err := r.Requester.ReturnToBoard(ctx, sessionID, questionID, nextPlayer)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) SetCurrentPlayer(ctx context.Context, sessionID uuid.UUID, userID *uuid.UUID) (*models.GameSession, error) {
	s, err := r.Requester.SetCurrentPlayer(ctx, sessionID, userID)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) ClaimBuzzer(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error) {
	s, err := r.Requester.ClaimBuzzer(ctx, sessionID, userID)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) AdvanceToFinalRound(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	s, err := r.Requester.AdvanceToFinalRound(ctx, sessionID)
	return r.session(ctx, s, err)
}

func (r *RelayRequester) UpdateTeamTimer(ctx context.Context, sessionID uuid.UUID, remainingMs int64) (*models.GameSession, error) {
	s, err := r.Requester.UpdateTeamTimer(ctx, sessionID, remainingMs)
	return r.session(ctx, s, err)
}
