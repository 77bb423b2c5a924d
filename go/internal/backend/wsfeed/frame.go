package wsfeed

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

const (
	KindSession   = "session"
	KindQuestions = "questions"
	KindScores    = "scores"
)

// Frame is one server-to-client message.
type Frame struct {
	Kind      string          `json:"kind"`
	SessionID uuid.UUID       `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (f Frame) event() (any, error) {
	switch f.Kind {
	case KindSession:
		var s models.GameSession
		if err := json.Unmarshal(f.Payload, &s); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		return backend.SessionChange{Session: s}, nil
	case KindQuestions:
		var q models.GameQuestion
		if err := json.Unmarshal(f.Payload, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		q.CorrectAnswer, q.Explanation = "", ""
		return backend.QuestionInsert{Question: q}, nil
	case KindScores:
		var sc models.PlayerScore
		if err := json.Unmarshal(f.Payload, &sc); err != nil {
			return nil, fmt.Errorf("unmarshal score: %w", err)
		}
		return backend.ScoreInsert{Score: sc}, nil
	}
	return nil, fmt.Errorf("unknown frame kind %q", f.Kind)
}
