package leaderboard

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func TestRankTieBreaks(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	in := []models.LeaderboardEntry{
		{UserID: a, TotalScore: 100, TotalTimeMs: 9000, JoinOrder: 0},
		{UserID: b, TotalScore: 300, TotalTimeMs: 1000, JoinOrder: 1},
		{UserID: c, TotalScore: 100, TotalTimeMs: 4000, JoinOrder: 2},
		{UserID: d, TotalScore: 100, TotalTimeMs: 4000, JoinOrder: 3},
	}

	got := Rank(in)

	want := []uuid.UUID{b, c, d, a}
	for i, e := range got {
		if e.UserID != want[i] || e.Rank != i+1 {
			t.Fatalf("position %d: got %s rank %d, want %s rank %d", i, e.UserID, e.Rank, want[i], i+1)
		}
	}
	if in[0].Rank != 0 {
		t.Fatal("Rank mutated its input")
	}
}

func TestBuildIncludesParticipantsWithoutScores(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	q1, q2 := uuid.New(), uuid.New()
	participants := []models.Participant{
		{UserID: a, DisplayName: "ada", JoinOrder: 0},
		{UserID: b, DisplayName: "bob", JoinOrder: 1},
	}
	scores := []models.PlayerScore{
		{UserID: a, QuestionID: q1, IsCorrect: true, Points: 100, TimeTakenMs: 3000},
		{UserID: a, QuestionID: q2, IsCorrect: false, Points: -50, TimeTakenMs: 2000},
	}

	got := Build(participants, scores)

	want := []models.LeaderboardEntry{
		{UserID: a, DisplayName: "ada", TotalScore: 50, CorrectCount: 1, IncorrectCount: 1, TotalTimeMs: 5000, JoinOrder: 0, Rank: 1},
		{UserID: b, DisplayName: "bob", JoinOrder: 1, Rank: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("leaderboard mismatch (-want +got):\n%s", diff)
	}
}

func TestLowestScorerPrefersEarliestJoinOnTie(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	entries := []models.LeaderboardEntry{
		{UserID: a, TotalScore: 200, JoinOrder: 0},
		{UserID: b, TotalScore: 0, JoinOrder: 2},
		{UserID: c, TotalScore: 0, JoinOrder: 1},
	}
	got, ok := LowestScorer(entries)
	if !ok || got != c {
		t.Fatalf("LowestScorer = %s, want %s", got, c)
	}
	if _, ok := LowestScorer(nil); ok {
		t.Fatal("LowestScorer on empty board reported a player")
	}
}

type scriptedFetcher struct {
	results [][]models.LeaderboardEntry
	calls   int
}

func (f *scriptedFetcher) FetchLeaderboard(context.Context, uuid.UUID) ([]models.LeaderboardEntry, error) {
	if f.calls >= len(f.results) {
		return nil, errors.New("no more results")
	}
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

func TestAggregatorReplacesWholesale(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	f := &scriptedFetcher{results: [][]models.LeaderboardEntry{
		{{UserID: a, TotalScore: 100}, {UserID: b, TotalScore: 0, JoinOrder: 1}},
		{{UserID: b, TotalScore: 300, JoinOrder: 1}},
	}}
	agg := NewAggregator(f, clockwork.NewFakeClock(), backend.DefaultRetryConfig(), uuid.New())

	if _, applied, err := agg.Refresh(context.Background()); err != nil || !applied {
		t.Fatalf("first refresh applied=%v err=%v", applied, err)
	}
	got, applied, err := agg.Refresh(context.Background())
	if err != nil || !applied {
		t.Fatalf("second refresh applied=%v err=%v", applied, err)
	}
	if len(got) != 1 || got[0].UserID != b || got[0].Rank != 1 {
		t.Fatalf("expected wholesale replacement, got %+v", got)
	}
	if diff := cmp.Diff(got, agg.Entries()); diff != "" {
		t.Fatalf("Entries disagrees with last refresh:\n%s", diff)
	}
}
