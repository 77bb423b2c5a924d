package game

import (
	"sort"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/leaderboard"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// TurnOutcome describes a resolved board question.
type TurnOutcome struct {
	Answerer     uuid.UUID // uuid.Nil when nobody answered before the timer ran out
	Correct      bool
	Leaderboard  []models.LeaderboardEntry
	Participants []models.Participant
}

// TurnPolicy picks who holds the board turn next. Returning uuid.Nil defers to the backend's
// lowest-scoring player.
type TurnPolicy func(TurnOutcome) uuid.UUID

// CatchUpTurn keeps the turn with a correct answerer and otherwise hands it to the lowest scorer.
func CatchUpTurn(o TurnOutcome) uuid.UUID {
	if o.Correct && o.Answerer != uuid.Nil {
		return o.Answerer
	}
	return LowestScorerTurn(o)
}

// LowestScorerTurn always hands the turn to the lowest total score among all participants,
// counting participants missing from the leaderboard as zero.
func LowestScorerTurn(o TurnOutcome) uuid.UUID {
	entries := make([]models.LeaderboardEntry, 0, len(o.Participants))
	byUser := make(map[uuid.UUID]models.LeaderboardEntry, len(o.Leaderboard))
	for _, e := range o.Leaderboard {
		byUser[e.UserID] = e
	}
	for _, p := range o.Participants {
		e, ok := byUser[p.UserID]
		if !ok {
			e = models.LeaderboardEntry{UserID: p.UserID}
		}
		e.JoinOrder = p.JoinOrder
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		entries = o.Leaderboard
	}
	id, ok := leaderboard.LowestScorer(entries)
	if !ok {
		return uuid.Nil
	}
	return id
}

// RotationPolicy names the hot seat player for a question index.
type RotationPolicy func(participants []models.Participant, index, perTurn int) uuid.UUID

// RoundRobin seats participants in join order, perTurn questions each.
func RoundRobin(participants []models.Participant, index, perTurn int) uuid.UUID {
	if len(participants) == 0 {
		return uuid.Nil
	}
	if perTurn <= 0 {
		perTurn = 1
	}
	ordered := append([]models.Participant(nil), participants...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].JoinOrder < ordered[j].JoinOrder })
	if index < 0 {
		index = 0
	}
	return ordered[(index/perTurn)%len(ordered)].UserID
}
