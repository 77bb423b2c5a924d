package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/game"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// logRenderer prints the game as log lines. Every render is logged at debug; changes of phase,
// question or banner are logged at info.
type logRenderer struct {
	mu   sync.Mutex
	last renderKey
}

type renderKey struct {
	phase    game.Phase
	question uuid.UUID
	status   models.GameStatus
	banner   string
	turn     uuid.UUID
}

func keyOf(v game.View) renderKey {
	k := renderKey{phase: v.Phase, status: v.Session.Status, banner: v.Banner}
	if v.CurrentQuestion != nil {
		k.question = v.CurrentQuestion.ID
	}
	if v.Session.CurrentPlayerID != nil {
		k.turn = *v.Session.CurrentPlayerID
	}
	return k
}

func (r *logRenderer) Render(v game.View) {
	r.mu.Lock()
	key := keyOf(v)
	changed := key != r.last
	r.last = key
	r.mu.Unlock()

	level := zerolog.DebugLevel
	if changed {
		level = zerolog.InfoLevel
	}
	ev := log.WithLevel(level).
		Str("session_id", v.Session.ID.String()).
		Str("game_type", string(v.Session.GameType)).
		Str("status", string(v.Session.Status)).
		Str("phase", string(v.Phase)).
		Dur("time_remaining", v.TimeRemaining.Round(time.Second))
	if v.Banner != "" {
		ev = ev.Str("banner", v.Banner)
	}
	if q := v.CurrentQuestion; q != nil {
		ev = ev.Int("question_index", q.QuestionIndex).Str("prompt", q.QuestionData.Prompt)
		if len(q.QuestionData.Options) > 0 {
			ev = ev.Strs("options", q.QuestionData.Options)
		}
	}
	if v.Session.CurrentPlayerID != nil {
		ev = ev.Bool("my_turn", v.IsCurrentPlayer())
	}
	if v.Team != nil {
		ev = ev.Dur("team_remaining", v.Team.Remaining.Round(100*time.Millisecond))
	}
	ev.Msg("game state")

	if changed && v.GameEnded {
		for i, e := range v.Leaderboard {
			log.Info().
				Int("rank", i+1).
				Str("user_id", e.UserID.String()).
				Int("score", e.TotalScore).
				Msg("final standings")
		}
	}
}

// stateResponse is the JSON served on /state.
type stateResponse struct {
	SessionID       uuid.UUID                 `json:"session_id"`
	GameType        models.GameType           `json:"game_type"`
	Status          models.GameStatus         `json:"status"`
	Phase           game.Phase                `json:"phase"`
	TimeRemainingMs int64                     `json:"time_remaining_ms"`
	Banner          string                    `json:"banner,omitempty"`
	ConnectionLost  bool                      `json:"connection_lost"`
	Question        *models.GameQuestion      `json:"question,omitempty"`
	Leaderboard     []models.LeaderboardEntry `json:"leaderboard"`
	Board           []models.BoardCell        `json:"board,omitempty"`
	Speed           *game.SpeedView           `json:"speed,omitempty"`
	BoardTurn       *game.BoardView           `json:"board_turn,omitempty"`
	HotSeat         *game.HotSeatView         `json:"hot_seat,omitempty"`
	Team            *game.TeamView            `json:"team,omitempty"`
}

func newStateResponse(v game.View) stateResponse {
	return stateResponse{
		SessionID:       v.Session.ID,
		GameType:        v.Session.GameType,
		Status:          v.Session.Status,
		Phase:           v.Phase,
		TimeRemainingMs: v.TimeRemaining.Milliseconds(),
		Banner:          v.Banner,
		ConnectionLost:  v.ConnectionLost,
		Question:        v.CurrentQuestion,
		Leaderboard:     v.Leaderboard,
		Board:           v.State.Board,
		Speed:           v.Speed,
		BoardTurn:       v.Board,
		HotSeat:         v.HotSeat,
		Team:            v.Team,
	}
}
