package session

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func TestNeedsQuestionFetch(t *testing.T) {
	cell := uuid.New()
	other := uuid.New()
	at := func(status models.GameStatus, index int) models.GameSession {
		return models.GameSession{GameType: models.GameTypeSpeedQuiz, Status: status, CurrentQuestionIndex: index}
	}
	board := func(sel *uuid.UUID) models.GameSession {
		return models.GameSession{GameType: models.GameTypeBoard, Status: models.GameStatusInProgress, SelectedQuestionID: sel}
	}
	q := func(index int, id uuid.UUID) *models.GameQuestion {
		return &models.GameQuestion{ID: id, QuestionIndex: index}
	}

	tests := []struct {
		name       string
		prev, next models.GameSession
		cached     *models.GameQuestion
		want       bool
	}{
		{"game just started", at(models.GameStatusWaiting, 0), at(models.GameStatusInProgress, 0), nil, true},
		{"started with stale cache", at(models.GameStatusWaiting, 0), at(models.GameStatusInProgress, 0), q(0, other), true},
		{"same index", at(models.GameStatusInProgress, 2), at(models.GameStatusInProgress, 2), q(2, other), false},
		{"index moved", at(models.GameStatusInProgress, 2), at(models.GameStatusInProgress, 3), q(2, other), true},
		{"nothing cached", at(models.GameStatusInProgress, 2), at(models.GameStatusInProgress, 2), nil, true},
		{"still waiting", at(models.GameStatusWaiting, 0), at(models.GameStatusWaiting, 0), nil, false},
		{"ended", at(models.GameStatusInProgress, 2), at(models.GameStatusCompleted, 2), q(2, other), false},
		{"cell opened", board(nil), board(&cell), nil, true},
		{"same cell", board(&cell), board(&cell), q(0, cell), false},
		{"different cell", board(&other), board(&cell), q(0, other), true},
		{"back to grid", board(&cell), board(nil), q(0, cell), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsQuestionFetch(tt.prev, tt.next, tt.cached); got != tt.want {
				t.Errorf("needsQuestionFetch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	cell := uuid.New()
	seq := models.GameSession{GameType: models.GameTypeHotSeat, Status: models.GameStatusInProgress, CurrentQuestionIndex: 4}
	brd := models.GameSession{GameType: models.GameTypeBoard, Status: models.GameStatusInProgress, SelectedQuestionID: &cell}

	if !matches(seq, &models.GameQuestion{QuestionIndex: 4}) {
		t.Error("question at the current index did not match")
	}
	if matches(seq, &models.GameQuestion{QuestionIndex: 3}) {
		t.Error("late response for an old index matched")
	}
	if !matches(brd, &models.GameQuestion{ID: cell, QuestionIndex: 7}) {
		t.Error("selected cell did not match")
	}
	if matches(brd, &models.GameQuestion{ID: uuid.New()}) {
		t.Error("unselected cell matched")
	}
	if matches(seq, nil) {
		t.Error("nil question matched")
	}
}

func TestStaleSession(t *testing.T) {
	id := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := func(status models.GameStatus, index int, at time.Time) models.GameSession {
		return models.GameSession{ID: id, GameType: models.GameTypeSpeedQuiz, Status: status, CurrentQuestionIndex: index, UpdatedAt: at}
	}

	tests := []struct {
		name             string
		cached, incoming models.GameSession
		want             bool
	}{
		{"first row", models.GameSession{}, row(models.GameStatusWaiting, 0, t0), false},
		{"newer index", row(models.GameStatusInProgress, 1, t0), row(models.GameStatusInProgress, 2, t0.Add(time.Second)), false},
		{"older index", row(models.GameStatusInProgress, 2, t0), row(models.GameStatusInProgress, 1, t0), true},
		{"older timestamp", row(models.GameStatusInProgress, 2, t0), row(models.GameStatusInProgress, 2, t0.Add(-time.Second)), true},
		{"status backwards", row(models.GameStatusInProgress, 0, t0), row(models.GameStatusWaiting, 0, t0), true},
		{"terminal to terminal", row(models.GameStatusCancelled, 1, t0), row(models.GameStatusCompleted, 1, t0), true},
		{"start", row(models.GameStatusWaiting, 0, t0), row(models.GameStatusInProgress, 0, t0.Add(time.Second)), false},
		{"same row again", row(models.GameStatusInProgress, 1, t0), row(models.GameStatusInProgress, 1, t0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := staleSession(tt.cached, tt.incoming); got != tt.want {
				t.Errorf("staleSession = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoardMoved(t *testing.T) {
	cell := uuid.New()
	grid := models.GameSession{GameType: models.GameTypeBoard, Status: models.GameStatusInProgress}
	open := grid
	open.SelectedQuestionID = &cell
	final := grid
	final.FinalRound = true

	if boardMoved(grid, grid) {
		t.Error("unchanged grid moved")
	}
	if !boardMoved(grid, open) || !boardMoved(open, grid) {
		t.Error("opening or closing a cell did not move the board")
	}
	if !boardMoved(grid, final) {
		t.Error("final round did not move the board")
	}
	speed := models.GameSession{GameType: models.GameTypeSpeedQuiz, Status: models.GameStatusInProgress}
	if boardMoved(speed, speed) {
		t.Error("non-board session moved")
	}
}
