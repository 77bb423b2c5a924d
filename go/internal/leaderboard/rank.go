package leaderboard

import (
	"sort"

	"github.com/google/uuid"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// Rank orders entries by total score descending, then total time ascending, then join order,
// and assigns 1-based ranks. The input slice is not modified.
func Rank(entries []models.LeaderboardEntry) []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, len(entries))
	copy(out, entries)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.TotalTimeMs != b.TotalTimeMs {
			return a.TotalTimeMs < b.TotalTimeMs
		}
		return a.JoinOrder < b.JoinOrder
	})

	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Build aggregates raw score rows into ranked entries. Every participant gets an entry,
// including those who have not scored yet.
func Build(participants []models.Participant, scores []models.PlayerScore) []models.LeaderboardEntry {
	index := make(map[uuid.UUID]int, len(participants))
	entries := make([]models.LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		index[p.UserID] = len(entries)
		entries = append(entries, models.LeaderboardEntry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			JoinOrder:   p.JoinOrder,
		})
	}

	for _, s := range scores {
		i, ok := index[s.UserID]
		if !ok {
			// scorer no longer listed; keep their points visible after everyone else
			i = len(entries)
			index[s.UserID] = i
			entries = append(entries, models.LeaderboardEntry{UserID: s.UserID, JoinOrder: len(participants) + i})
		}
		e := &entries[i]
		e.TotalScore += s.Points
		e.TotalTimeMs += s.TimeTakenMs
		if s.IsCorrect {
			e.CorrectCount++
		} else {
			e.IncorrectCount++
		}
	}

	return Rank(entries)
}

// LowestScorer returns the participant with the lowest total score. Ties go to the earliest joiner.
func LowestScorer(entries []models.LeaderboardEntry) (uuid.UUID, bool) {
	if len(entries) == 0 {
		return uuid.Nil, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.TotalScore < best.TotalScore || (e.TotalScore == best.TotalScore && e.JoinOrder < best.JoinOrder) {
			best = e
		}
	}
	return best.UserID, true
}
