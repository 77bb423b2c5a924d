package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type mapLedger map[string]bool

func (m mapLedger) Claim(_ context.Context, s, q, u uuid.UUID) (bool, error) {
	k := submitKey(s, q, u)
	if m[k] {
		return false, nil
	}
	m[k] = true
	return true, nil
}

type countingRequester struct {
	Requester
	submits int
}

func (c *countingRequester) SubmitAnswer(context.Context, AnswerSubmission) (*SubmissionResult, error) {
	c.submits++
	return &SubmissionResult{IsCorrect: true, PointsAwarded: 100}, nil
}

func TestLedgerRejectsSecondSubmission(t *testing.T) {
	inner := &countingRequester{}
	r := WithSubmitLedger(inner, mapLedger{})
	sub := AnswerSubmission{SessionID: uuid.New(), QuestionID: uuid.New(), UserID: uuid.New(), Answer: "B"}

	if _, err := r.SubmitAnswer(context.Background(), sub); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := r.SubmitAnswer(context.Background(), sub); !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("second submit err = %v", err)
	}
	if inner.submits != 1 {
		t.Fatalf("backend saw %d submissions, want 1", inner.submits)
	}

	other := sub
	other.UserID = uuid.New()
	if _, err := r.SubmitAnswer(context.Background(), other); err != nil {
		t.Fatalf("other user submit: %v", err)
	}
}

func TestLossSignalFiresOnce(t *testing.T) {
	s := NewLossSignal()
	s.Fire(errors.New("first"))
	s.Fire(errors.New("second"))

	if err := <-s.Lost(); err.Error() != "first" {
		t.Fatalf("got %v", err)
	}
	select {
	case err := <-s.Lost():
		t.Fatalf("unexpected second signal %v", err)
	default:
	}
}
