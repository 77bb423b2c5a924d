package leaderboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// Fetcher is the slice of the backend the aggregator needs.
type Fetcher interface {
	FetchLeaderboard(ctx context.Context, sessionID uuid.UUID) ([]models.LeaderboardEntry, error)
}

// Aggregator keeps the ranked leaderboard for one session. Every score notification triggers a full
// re-fetch that replaces the cached view; a fetch that completes after a newer one is discarded.
type Aggregator struct {
	fetcher   Fetcher
	clock     clockwork.Clock
	retry     backend.RetryConfig
	sessionID uuid.UUID

	mu      sync.Mutex
	issued  uint64
	applied uint64
	entries []models.LeaderboardEntry
}

func NewAggregator(fetcher Fetcher, clock clockwork.Clock, retry backend.RetryConfig, sessionID uuid.UUID) *Aggregator {
	return &Aggregator{
		fetcher:   fetcher,
		clock:     clock,
		retry:     retry,
		sessionID: sessionID,
	}
}

// Refresh re-fetches the leaderboard. The bool result is false when a newer refresh already
// landed and this one was dropped.
func (a *Aggregator) Refresh(ctx context.Context) ([]models.LeaderboardEntry, bool, error) {
	a.mu.Lock()
	a.issued++
	seq := a.issued
	a.mu.Unlock()

	fetched, err := backend.RetryRead(ctx, a.clock, a.retry, "fetch leaderboard", func(ctx context.Context) ([]models.LeaderboardEntry, error) {
		return a.fetcher.FetchLeaderboard(ctx, a.sessionID)
	})
	if err != nil {
		return nil, false, fmt.Errorf("refresh leaderboard: %w", err)
	}
	ranked := Rank(fetched)

	a.mu.Lock()
	defer a.mu.Unlock()
	if seq < a.applied {
		log.Debug().
			Str("session_id", a.sessionID.String()).
			Uint64("seq", seq).
			Uint64("applied", a.applied).
			Msg("dropping stale leaderboard refresh")
		return a.snapshot(), false, nil
	}
	a.applied = seq
	a.entries = ranked
	return a.snapshot(), true, nil
}

// Entries returns a copy of the current ranked view.
func (a *Aggregator) Entries() []models.LeaderboardEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *Aggregator) snapshot() []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
