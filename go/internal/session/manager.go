package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/game"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// ErrControllerActive is returned when a session is opened while another one is still active.
var ErrControllerActive = errors.New("a game session is already active")

// Manager keeps at most one active controller per process.
type Manager struct {
	deps Deps
	cfg  Config

	mu     sync.Mutex
	active *Controller
	rng    *rand.Rand
}

func NewManager(deps Deps, cfg Config) *Manager {
	seed := uint64(0)
	if deps.Clock != nil {
		seed = uint64(deps.Clock.Now().UnixNano())
	}
	return &Manager{
		deps: deps,
		cfg:  cfg.withDefaults(),
		rng:  rand.New(rand.NewPCG(seed, rand.Uint64())),
	}
}

// Active returns the running controller, or nil.
func (m *Manager) Active() *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Start hosts sessionID for userID.
func (m *Manager) Start(ctx context.Context, userID, sessionID uuid.UUID) (*Controller, error) {
	return m.open(ctx, userID, sessionID, true)
}

// Join joins sessionID as userID.
func (m *Manager) Join(ctx context.Context, userID, sessionID uuid.UUID) (*Controller, error) {
	return m.open(ctx, userID, sessionID, false)
}

func (m *Manager) open(ctx context.Context, userID, sessionID uuid.UUID, host bool) (*Controller, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrControllerActive
	}
	c := NewController(m.deps, m.cfg, userID)
	c.onClosed = func() { m.release(c) }
	m.active = c
	m.mu.Unlock()

	var err error
	if host {
		err = c.Start(ctx, sessionID)
	} else {
		err = c.Join(ctx, sessionID)
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (m *Manager) release(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == c {
		m.active = nil
	}
}

// CreateGameRequest describes a new session before its questions are finalized.
type CreateGameRequest struct {
	RoomID    uuid.UUID
	HostID    uuid.UUID
	GameType  models.GameType
	Config    models.GameConfig
	Questions []models.GameQuestion
}

// CreateGame numbers the questions, applies the board flags and creates the session in the
// waiting state.
func (m *Manager) CreateGame(ctx context.Context, req CreateGameRequest) (*models.GameSession, error) {
	if !req.GameType.Valid() {
		return nil, fmt.Errorf("invalid game type %q", req.GameType)
	}
	if len(req.Questions) == 0 {
		return nil, errors.New("a game needs at least one question")
	}

	questions := make([]models.GameQuestion, len(req.Questions))
	copy(questions, req.Questions)
	for i := range questions {
		questions[i].QuestionIndex = i
		if questions[i].TimeLimitSeconds <= 0 {
			questions[i].TimeLimitSeconds = req.Config.TimeLimitSeconds
		}
	}

	if req.GameType == models.GameTypeBoard {
		m.mu.Lock()
		questions = game.AssignDailyDoubles(questions, m.cfg.Game.Board.MaxDailyDoubles, m.rng)
		m.mu.Unlock()
		for i := range questions {
			if questions[i].IsFinalJeopardy && req.Questions[i].TimeLimitSeconds <= 0 {
				questions[i].TimeLimitSeconds = int(m.cfg.Game.Board.FinalTimeLimit.Seconds())
			}
		}
	}

	cfg := req.Config
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = len(questions)
	}

	s, err := m.deps.Gateway.CreateSession(ctx, backend.CreateSessionRequest{
		RoomID:    req.RoomID,
		HostID:    req.HostID,
		GameType:  req.GameType,
		Config:    cfg,
		Questions: questions,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info().
		Str("session_id", s.ID.String()).
		Str("game_type", string(s.GameType)).
		Int("questions", len(questions)).
		Msg("game created")
	return s, nil
}
