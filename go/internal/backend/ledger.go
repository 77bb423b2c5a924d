package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SubmitLedger records which (session, question, user) triples have been submitted.
type SubmitLedger interface {
	// Claim returns true the first time a key is claimed and false afterwards.
	Claim(ctx context.Context, sessionID, questionID, userID uuid.UUID) (bool, error)
}

// RedisSubmitLedger stores submit claims with SETNX so they hold across processes.
type RedisSubmitLedger struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisSubmitLedger(client redis.Cmdable, ttl time.Duration) *RedisSubmitLedger {
	return &RedisSubmitLedger{client: client, ttl: ttl}
}

func submitKey(sessionID, questionID, userID uuid.UUID) string {
	return fmt.Sprintf("quiz:submit:%s:%s:%s", sessionID, questionID, userID)
}

func (l *RedisSubmitLedger) Claim(ctx context.Context, sessionID, questionID, userID uuid.UUID) (bool, error) {
	ok, err := l.client.SetNX(ctx, submitKey(sessionID, questionID, userID), 1, l.ttl).Result()
	if err != nil {
		return false, Transient(fmt.Errorf("claim submit key: %w", err))
	}
	return ok, nil
}

// LedgerRequester rejects a second submission for the same triple before it reaches the backend.
type LedgerRequester struct {
	Requester
	ledger SubmitLedger
}

// WithSubmitLedger wraps r so SubmitAnswer consults ledger first.
func WithSubmitLedger(r Requester, ledger SubmitLedger) *LedgerRequester {
	return &LedgerRequester{Requester: r, ledger: ledger}
}

func (l *LedgerRequester) SubmitAnswer(ctx context.Context, sub AnswerSubmission) (*SubmissionResult, error) {
	first, err := l.ledger.Claim(ctx, sub.SessionID, sub.QuestionID, sub.UserID)
	if err != nil {
		// Backend still enforces uniqueness, so a ledger outage does not block play.
		log.Warn().Err(err).Str("session_id", sub.SessionID.String()).Msg("submit ledger unavailable")
		return l.Requester.SubmitAnswer(ctx, sub)
	}
	if !first {
		return nil, ErrDuplicateSubmission
	}
	return l.Requester.SubmitAnswer(ctx, sub)
}
