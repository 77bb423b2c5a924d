package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// questionTarget names the question a session row points at.
type questionTarget struct {
	byID  bool
	index int
	id    uuid.UUID
}

func (t questionTarget) String() string {
	if t.byID {
		return "id:" + t.id.String()
	}
	return fmt.Sprintf("index:%d", t.index)
}

// wantQuestion returns the question the session shows right now. Sequential modes walk by index;
// board mode shows the selected cell, and nothing while the grid is up.
func wantQuestion(s models.GameSession) (questionTarget, bool) {
	if s.Status != models.GameStatusInProgress {
		return questionTarget{}, false
	}
	if s.GameType.Sequential() {
		return questionTarget{index: s.CurrentQuestionIndex}, true
	}
	if s.SelectedQuestionID == nil {
		return questionTarget{}, false
	}
	return questionTarget{byID: true, id: *s.SelectedQuestionID}, true
}

// matches reports whether q is the question s points at.
func matches(s models.GameSession, q *models.GameQuestion) bool {
	if q == nil {
		return false
	}
	target, ok := wantQuestion(s)
	if !ok {
		return false
	}
	if target.byID {
		return q.ID == target.id
	}
	return q.QuestionIndex == target.index
}

// needsQuestionFetch reports whether moving from prev to next requires fetching a question:
// the index or selected cell changed, the game just started, or nothing usable is cached.
func needsQuestionFetch(prev, next models.GameSession, cached *models.GameQuestion) bool {
	target, ok := wantQuestion(next)
	if !ok {
		return false
	}
	if cached == nil || prev.Status != models.GameStatusInProgress {
		return true
	}
	if target.byID {
		return prev.SelectedQuestionID == nil || *prev.SelectedQuestionID != target.id || cached.ID != target.id
	}
	return prev.CurrentQuestionIndex != target.index || cached.QuestionIndex != target.index
}

// staleSession reports whether incoming is older than the cached row and must be dropped.
// Polls and notifications race; status never moves backwards and neither does the index.
func staleSession(cached, incoming models.GameSession) bool {
	if cached.ID == uuid.Nil {
		return false
	}
	if incoming.Status != cached.Status && !cached.Status.CanTransition(incoming.Status) {
		return true
	}
	if incoming.UpdatedAt.Before(cached.UpdatedAt) {
		return true
	}
	if incoming.Status == cached.Status && incoming.GameType.Sequential() &&
		incoming.CurrentQuestionIndex < cached.CurrentQuestionIndex {
		return true
	}
	return false
}

// boardMoved reports whether the grid needs a refresh after a session change.
func boardMoved(prev, next models.GameSession) bool {
	if next.GameType != models.GameTypeBoard {
		return false
	}
	if prev.Status != next.Status || prev.FinalRound != next.FinalRound {
		return true
	}
	switch {
	case prev.SelectedQuestionID == nil && next.SelectedQuestionID == nil:
		return false
	case prev.SelectedQuestionID == nil || next.SelectedQuestionID == nil:
		return true
	default:
		return *prev.SelectedQuestionID != *next.SelectedQuestionID
	}
}
