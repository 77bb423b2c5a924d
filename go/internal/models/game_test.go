package models

import (
	"errors"
	"testing"
)

func TestGameStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to GameStatus
		ok       bool
	}{
		{GameStatusWaiting, GameStatusInProgress, true},
		{GameStatusWaiting, GameStatusCancelled, true},
		{GameStatusInProgress, GameStatusCompleted, true},
		{GameStatusInProgress, GameStatusCancelled, true},
		{GameStatusInProgress, GameStatusWaiting, false},
		{GameStatusCompleted, GameStatusCancelled, false},
		{GameStatusCancelled, GameStatusCompleted, false},
		{GameStatusCompleted, GameStatusInProgress, false},
		{GameStatusWaiting, GameStatusWaiting, false},
		{GameStatus("bogus"), GameStatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := tt.from.Transition(tt.to)
			if tt.ok && err != nil {
				t.Fatalf("expected transition to be allowed, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestGameTypeSequential(t *testing.T) {
	if GameTypeBoard.Sequential() {
		t.Fatal("board mode selects questions by id")
	}
	for _, gt := range []GameType{GameTypeSpeedQuiz, GameTypeHotSeat, GameTypeTeamTimer} {
		if !gt.Sequential() {
			t.Fatalf("%s should be sequential", gt)
		}
		if !gt.Valid() {
			t.Fatalf("%s should be valid", gt)
		}
	}
	if GameType("CHESS").Valid() {
		t.Fatal("unknown mode reported valid")
	}
}
