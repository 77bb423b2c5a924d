package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/game"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/leaderboard"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

var (
	// ErrClosed is returned by a controller after teardown.
	ErrClosed = errors.New("session controller closed")
	// ErrAlreadyStarted is returned when Start or Join is called twice.
	ErrAlreadyStarted = errors.New("session controller already started")
)

// TimeSource is the synchronized clock shared with the modes.
type TimeSource interface {
	Now() time.Time
}

// Deps are the collaborators of a controller.
type Deps struct {
	Gateway backend.Gateway
	// Bus carries intents from the mode to the controller. Nil gets a private bus.
	Bus   *eventbus.Bus
	Clock clockwork.Clock
	// Time defaults to Clock.
	Time     TimeSource
	Renderer game.Renderer
}

// Controller owns one game session on this client. Every piece of mutable state below the loop
// marker is touched only by the loop goroutine; everything else talks to it through post or call.
type Controller struct {
	cfg      Config
	gw       backend.Gateway
	bus      *eventbus.Bus
	clock    clockwork.Clock
	now      TimeSource
	renderer game.Renderer
	userID   uuid.UUID
	logger   zerolog.Logger

	sessionID uuid.UUID
	scores    *leaderboard.Aggregator
	reconnect *Reconnector

	ctx       context.Context
	cancel    context.CancelFunc
	loop      *mailbox
	writes    *mailbox
	wg        sync.WaitGroup
	started   bool
	running   bool
	startMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	onClosed  func()

	subsMu     sync.Mutex
	subs       []backend.Subscription
	subGen     int
	subStop    chan struct{}
	subsClosed bool

	viewMu   sync.RWMutex
	lastView game.View
	hasView  bool

	// loop
	st             game.State
	mode           game.Mode
	lastGood       game.State
	timers         *timerSet
	listeners      []*eventbus.Subscription
	submitted      map[uuid.UUID]bool
	fetching       map[questionTarget]bool
	boardIssued    uint64
	boardApplied   uint64
	poll           *poller
	reconnecting   bool
	finalRequested bool
	closed         bool
}

// NewController builds an idle controller for userID. Start or Join binds it to a session.
func NewController(deps Deps, cfg Config, userID uuid.UUID) *Controller {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Time == nil {
		deps.Time = deps.Clock
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:       cfg.withDefaults(),
		gw:        deps.Gateway,
		bus:       deps.Bus,
		clock:     deps.Clock,
		now:       deps.Time,
		renderer:  deps.Renderer,
		userID:    userID,
		logger:    log.With().Str("user_id", userID.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		loop:      newMailbox(),
		writes:    newMailbox(),
		done:      make(chan struct{}),
		submitted: make(map[uuid.UUID]bool),
		fetching:  make(map[questionTarget]bool),
	}
	c.timers = newTimerSet(c.clock, c.loop.post)
	c.reconnect = NewReconnector(c.clock, c.cfg.Reconnect, c.reconnectAttempt)
	return c
}

// SessionID is the bound session, uuid.Nil before Start or Join.
func (c *Controller) SessionID() uuid.UUID {
	return c.sessionID
}

// Bus returns the event bus the controller listens on.
func (c *Controller) Bus() *eventbus.Bus {
	return c.bus
}

// Start is the host path: it moves the session to in_progress and then builds the local state.
// A session that is already running is joined instead.
func (c *Controller) Start(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.claimStart(); err != nil {
		return err
	}
	s, err := c.gw.StartSession(ctx, sessionID)
	if errors.Is(err, backend.ErrConflict) {
		c.logger.Info().Str("session_id", sessionID.String()).Msg("session already started, joining")
		return c.join(ctx, sessionID)
	}
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return c.initialize(ctx, *s)
}

// Join is the non-host path: it reads the session without changing its status.
func (c *Controller) Join(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.claimStart(); err != nil {
		return err
	}
	return c.join(ctx, sessionID)
}

func (c *Controller) claimStart() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	return nil
}

func (c *Controller) join(ctx context.Context, sessionID uuid.UUID) error {
	s, err := backend.RetryRead(ctx, c.clock, c.cfg.Read, "fetch session", func(ctx context.Context) (*models.GameSession, error) {
		return c.gw.FetchSession(ctx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("join session: %w", err)
	}
	return c.initialize(ctx, *s)
}

// initialize loads everything the first render needs, builds the mode, registers the intent
// listeners and only then subscribes to notifications and starts the poller.
func (c *Controller) initialize(ctx context.Context, s models.GameSession) error {
	c.sessionID = s.ID
	c.logger = log.With().
		Str("session_id", s.ID.String()).
		Str("game_type", string(s.GameType)).
		Str("user_id", c.userID.String()).
		Logger()
	c.scores = leaderboard.NewAggregator(c.gw, c.clock, c.cfg.Read, s.ID)

	participants, err := backend.RetryRead(ctx, c.clock, c.cfg.Read, "fetch participants", func(ctx context.Context) ([]models.Participant, error) {
		return c.gw.FetchParticipants(ctx, s.ID)
	})
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	for i := range participants {
		participants[i].IsCurrentUser = participants[i].UserID == c.userID
	}

	var banner string
	question, ready := c.loadInitialQuestion(ctx, s)
	if question == nil && s.Status == models.GameStatusInProgress {
		banner = "Waiting for the question to load"
	}

	entries, _, err := c.scores.Refresh(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("initial leaderboard load failed")
	}

	var cells []models.BoardCell
	if s.GameType == models.GameTypeBoard {
		cells, err = backend.RetryRead(ctx, c.clock, c.cfg.Read, "fetch board", func(ctx context.Context) ([]models.BoardCell, error) {
			return c.gw.FetchBoard(ctx, s.ID)
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("initial board load failed")
		}
		ready = ready || len(cells) > 0
	}

	mode, err := game.New(s.GameType, modeHost{c}, c.cfg.Game)
	if err != nil {
		return err
	}

	c.startMu.Lock()
	c.running = true
	c.wg.Add(2)
	go c.run(c.loop)
	go c.run(c.writes)
	c.startMu.Unlock()

	err = c.call(func() error {
		c.mode = mode
		c.st = game.State{
			UserID:          c.userID,
			Session:         s,
			CurrentQuestion: question,
			Participants:    participants,
			Leaderboard:     entries,
			Board:           cells,
			GameStarted:     s.Status != models.GameStatusWaiting,
			GameEnded:       s.Status.Terminal(),
			QuestionsReady:  ready,
			Banner:          banner,
		}
		c.registerListeners()

		snap := c.st.Clone()
		if err := c.guard("initialize mode", func() { c.mode.Initialize(snap) }); err != nil {
			return err
		}
		c.lastGood = snap
		c.render()
		if c.st.GameStarted && !c.st.GameEnded {
			c.publish(eventbus.Event{Name: eventbus.GameStart})
		}
		if question == nil && s.Status == models.GameStatusInProgress {
			c.requestQuestion("initialize")
		}
		return nil
	})
	if err != nil {
		c.Close()
		return fmt.Errorf("initialize game: %w", err)
	}

	if err := c.subscribe(ctx); errors.Is(err, ErrClosed) {
		return err
	} else if err != nil {
		c.logger.Warn().Err(err).Msg("notification subscribe failed")
		gen := c.generation()
		c.post(func() { c.onChannelLost(gen, err) })
	}
	c.post(c.syncPoller)

	c.logger.Info().Str("status", string(s.Status)).Int("participants", len(participants)).Msg("game initialized")
	return nil
}

// loadInitialQuestion fetches the question the session points at. A waiting sequential session
// only probes whether its questions exist.
func (c *Controller) loadInitialQuestion(ctx context.Context, s models.GameSession) (*models.GameQuestion, bool) {
	if target, ok := wantQuestion(s); ok {
		q, err := c.loadQuestion(ctx, target)
		if err != nil {
			c.logger.Warn().Err(err).Str("question", target.String()).Msg("initial question load failed")
			return nil, false
		}
		return q, true
	}
	if s.Status == models.GameStatusWaiting && s.GameType.Sequential() {
		_, err := c.gw.FetchQuestionByIndex(ctx, s.ID, 0)
		return nil, err == nil
	}
	return nil, s.Status != models.GameStatusWaiting
}

// run drains a mailbox until the controller is cancelled.
func (c *Controller) run(m *mailbox) {
	defer c.wg.Done()
	for {
		for _, fn := range m.drain() {
			if c.ctx.Err() != nil {
				return
			}
			fn()
		}
		select {
		case <-m.wake:
		case <-c.ctx.Done():
			return
		}
	}
}

// post queues fn on the controller loop.
func (c *Controller) post(fn func()) {
	c.loop.post(fn)
}

// call runs fn on the loop and waits for it. Never call it from the loop itself.
func (c *Controller) call(fn func() error) error {
	errCh := make(chan error, 1)
	if !c.loop.post(func() { errCh <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// goRun runs fn on a goroutine that teardown waits for.
func (c *Controller) goRun(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// write queues a backend write. Writes run one at a time in the order the loop issued them.
func (c *Controller) write(op string, fn func(ctx context.Context) error) {
	c.writes.post(func() {
		if err := fn(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Warn().Err(err).Str("op", op).Msg("backend write failed")
		}
	})
}

// sleep waits d on the controller clock.
func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// guard runs fn and converts a panic into an error so mode and renderer bugs cannot take the
// controller down.
func (c *Controller) guard(what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("in", what).Msg("recovered panic")
			err = fmt.Errorf("%s: panic: %v", what, r)
		}
	}()
	fn()
	return nil
}

// commit pushes the current state into the mode and renders. A mode that panics on the new
// state is rolled back to the last state it accepted. Loop only.
func (c *Controller) commit() {
	if c.mode == nil || c.closed {
		return
	}
	c.st.HasAnswered = c.st.CurrentQuestion != nil && c.submitted[c.st.CurrentQuestion.ID]
	snap := c.st.Clone()
	if err := c.guard("update mode state", func() { c.mode.UpdateState(snap) }); err != nil {
		good := c.lastGood.Clone()
		_ = c.guard("restore mode state", func() { c.mode.UpdateState(good) })
	} else {
		c.lastGood = snap
	}
	c.render()
}

// render builds the view and hands it to the renderer. Loop only.
func (c *Controller) render() {
	if c.mode == nil {
		return
	}
	var v game.View
	if err := c.guard("build view", func() { v = c.mode.View() }); err != nil {
		c.viewMu.RLock()
		v = c.lastView
		c.viewMu.RUnlock()
	}
	c.viewMu.Lock()
	c.lastView = v
	c.hasView = true
	c.viewMu.Unlock()

	if c.renderer != nil {
		_ = c.guard("render", func() { c.renderer.Render(v) })
	}
	c.publish(eventbus.Event{Name: eventbus.StateChanged})
}

// Snapshot returns the last rendered view. It is safe from any goroutine, including after Close.
func (c *Controller) Snapshot() (game.View, bool) {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.lastView, c.hasView
}

// publish stamps ev with the session and puts it on the bus. Loop only.
func (c *Controller) publish(ev eventbus.Event) {
	ev.SessionID = c.sessionID
	if ev.At.IsZero() {
		ev.At = c.now.Now()
	}
	c.bus.Publish(ev)
}

func (c *Controller) banner(msg string) {
	c.st.Banner = msg
	c.publish(eventbus.Event{Name: eventbus.Banner, Message: msg})
	c.commit()
}

// reconcile merges a session row from any source into the local state. Loop only.
func (c *Controller) reconcile(incoming models.GameSession, source string) {
	if c.closed || c.mode == nil || incoming.ID != c.sessionID {
		return
	}
	prev := c.st.Session
	if staleSession(prev, incoming) {
		c.logger.Debug().
			Str("source", source).
			Str("status", string(incoming.Status)).
			Int("index", incoming.CurrentQuestionIndex).
			Msg("dropping stale session row")
		return
	}

	fetch := needsQuestionFetch(prev, incoming, c.st.CurrentQuestion)
	c.st.Session = incoming
	if fetch {
		c.st.CurrentQuestion = nil
		c.requestQuestion(source)
	} else if _, ok := wantQuestion(incoming); !ok && incoming.GameType == models.GameTypeBoard {
		c.st.CurrentQuestion = nil
	}
	if boardMoved(prev, incoming) {
		c.refreshBoard()
	}

	if prev.Status == models.GameStatusWaiting && incoming.Status == models.GameStatusInProgress {
		c.st.GameStarted = true
		c.st.QuestionsReady = true
		c.publish(eventbus.Event{Name: eventbus.GameStart})
	}
	if incoming.Status.Terminal() && !c.st.GameEnded {
		c.st.GameEnded = true
		c.logger.Info().Str("status", string(incoming.Status)).Str("source", source).Msg("game ended")
		if won := incoming.Outcome.TeamWon; incoming.Status == models.GameStatusCompleted && won != nil && *won {
			c.publish(eventbus.Event{Name: eventbus.GameWon, Flag: true})
		}
	}

	c.commit()
	c.syncPoller()
}

// requestQuestion fetches the question the session points at unless that fetch is in flight.
// Loop only.
func (c *Controller) requestQuestion(source string) {
	target, ok := wantQuestion(c.st.Session)
	if !ok || c.fetching[target] {
		return
	}
	c.fetching[target] = true

	c.goRun(func() {
		if err := c.sleep(c.ctx, c.cfg.SettleDelay); err != nil {
			return
		}
		q, err := c.loadQuestion(c.ctx, target)
		c.post(func() {
			delete(c.fetching, target)
			c.applyQuestion(target, q, err, source)
		})
	})
}

// loadQuestion fetches a question with the read retry. A question that is not visible yet gets
// one more try after the settle delay.
func (c *Controller) loadQuestion(ctx context.Context, target questionTarget) (*models.GameQuestion, error) {
	fetch := func(ctx context.Context) (*models.GameQuestion, error) {
		if target.byID {
			return c.gw.FetchQuestionByID(ctx, target.id)
		}
		return c.gw.FetchQuestionByIndex(ctx, c.sessionID, target.index)
	}
	q, err := backend.RetryRead(ctx, c.clock, c.cfg.Read, "fetch question", fetch)
	if errors.Is(err, backend.ErrNotFound) {
		if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
			return nil, err
		}
		q, err = backend.RetryRead(ctx, c.clock, c.cfg.Read, "fetch question", fetch)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch question %s: %w", target, err)
	}
	return q, nil
}

// applyQuestion installs a fetched question if the session still points at it. A fetch that
// lost the race to a newer index or selection is dropped. Loop only.
func (c *Controller) applyQuestion(target questionTarget, q *models.GameQuestion, err error, source string) {
	if c.closed {
		return
	}
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Str("question", target.String()).Str("source", source).Msg("question fetch failed")
		if errors.Is(err, backend.ErrNotFound) {
			c.banner("Question is not available yet")
		} else {
			c.banner("Could not load the question")
		}
		return
	}
	if !matches(c.st.Session, q) {
		c.logger.Debug().Str("question", target.String()).Msg("dropping stale question fetch")
		return
	}
	if cur := c.st.CurrentQuestion; cur != nil && cur.ID == q.ID {
		return
	}
	c.st.CurrentQuestion = q
	c.st.QuestionsReady = true
	c.st.Banner = ""
	c.commit()
}

// refreshSession re-reads the session row after a write lost a race. Loop only.
func (c *Controller) refreshSession() {
	c.goRun(func() {
		s, err := backend.RetryRead(c.ctx, c.clock, c.cfg.Read, "fetch session", func(ctx context.Context) (*models.GameSession, error) {
			return c.gw.FetchSession(ctx, c.sessionID)
		})
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("session refresh failed")
			}
			return
		}
		c.post(func() { c.reconcile(*s, "refresh") })
	})
}

// refreshLeaderboard replaces the cached leaderboard with a fresh fetch. Loop only.
func (c *Controller) refreshLeaderboard() {
	c.goRun(func() {
		entries, applied, err := c.scores.Refresh(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("leaderboard refresh failed")
			}
			return
		}
		if !applied {
			return
		}
		c.post(func() {
			if c.closed {
				return
			}
			c.st.Leaderboard = entries
			c.commit()
		})
	})
}

// refreshBoard re-reads the board grid; an older fetch never overwrites a newer one. Loop only.
func (c *Controller) refreshBoard() {
	c.boardIssued++
	seq := c.boardIssued
	c.goRun(func() {
		cells, err := backend.RetryRead(c.ctx, c.clock, c.cfg.Read, "fetch board", func(ctx context.Context) ([]models.BoardCell, error) {
			return c.gw.FetchBoard(ctx, c.sessionID)
		})
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("board refresh failed")
			}
			return
		}
		c.post(func() {
			if c.closed || seq < c.boardApplied {
				return
			}
			c.boardApplied = seq
			c.st.Board = cells
			c.commit()
		})
	})
}

// subscribe replaces the notification subscriptions with a fresh set.
func (c *Controller) subscribe(ctx context.Context) error {
	c.unsubscribe()

	var subs []backend.Subscription
	fail := func(err error) error {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		return err
	}

	s, err := c.gw.SubscribeSession(ctx, c.sessionID, c.onSessionChange)
	if err != nil {
		return fail(fmt.Errorf("subscribe session: %w", err))
	}
	subs = append(subs, s)
	s, err = c.gw.SubscribeQuestions(ctx, c.sessionID, c.onQuestionInsert)
	if err != nil {
		return fail(fmt.Errorf("subscribe questions: %w", err))
	}
	subs = append(subs, s)
	s, err = c.gw.SubscribeScores(ctx, c.sessionID, c.onScoreInsert)
	if err != nil {
		return fail(fmt.Errorf("subscribe scores: %w", err))
	}
	subs = append(subs, s)

	c.subsMu.Lock()
	if c.subsClosed || c.ctx.Err() != nil {
		c.subsMu.Unlock()
		return fail(ErrClosed)
	}
	c.subGen++
	gen := c.subGen
	stop := make(chan struct{})
	c.subs = subs
	c.subStop = stop
	c.subsMu.Unlock()

	for _, sub := range subs {
		c.watch(gen, stop, sub)
	}
	return nil
}

// watch reports the first loss of sub to the loop.
func (c *Controller) watch(gen int, stop <-chan struct{}, sub backend.Subscription) {
	c.goRun(func() {
		select {
		case err := <-sub.Lost():
			c.post(func() { c.onChannelLost(gen, err) })
		case <-stop:
		case <-c.ctx.Done():
		}
	})
}

// closeSubscriptions drops the live set and refuses every later one. Subscribe calls still in
// flight release what they opened instead of storing it.
func (c *Controller) closeSubscriptions() {
	c.subsMu.Lock()
	c.subsClosed = true
	c.subsMu.Unlock()
	c.unsubscribe()
}

func (c *Controller) unsubscribe() {
	c.subsMu.Lock()
	subs := c.subs
	stop := c.subStop
	c.subs = nil
	c.subStop = nil
	c.subsMu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			c.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}
}

func (c *Controller) generation() int {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return c.subGen
}

func (c *Controller) onSessionChange(ch backend.SessionChange) {
	c.post(func() { c.reconcile(ch.Session, "notification") })
}

func (c *Controller) onQuestionInsert(ins backend.QuestionInsert) {
	c.post(func() {
		if c.closed {
			return
		}
		if !c.st.QuestionsReady {
			c.st.QuestionsReady = true
			c.publish(eventbus.Event{Name: eventbus.QuestionsReady, QuestionID: ins.Question.ID})
			c.commit()
		}
		if c.st.CurrentQuestion == nil {
			c.requestQuestion("question insert")
		}
	})
}

func (c *Controller) onScoreInsert(backend.ScoreInsert) {
	c.post(func() {
		if !c.closed {
			c.refreshLeaderboard()
		}
	})
}

// onChannelLost starts the reconnection loop for the current subscription generation. Loop only.
func (c *Controller) onChannelLost(gen int, err error) {
	if c.closed || c.reconnecting || c.st.ConnectionLost || gen != c.generation() {
		return
	}
	c.reconnecting = true
	c.logger.Warn().Err(err).Msg("notification channel lost")
	c.banner("Reconnecting...")

	c.goRun(func() {
		attempts, err := c.reconnect.Run(c.ctx)
		c.post(func() { c.onReconnectDone(attempts, err) })
	})
}

// reconnectAttempt re-subscribes and then refreshes session, question and leaderboard.
func (c *Controller) reconnectAttempt(ctx context.Context, n int) error {
	if err := c.subscribe(ctx); err != nil {
		return err
	}
	s, err := backend.RetryRead(ctx, c.clock, c.cfg.Read, "fetch session", func(ctx context.Context) (*models.GameSession, error) {
		return c.gw.FetchSession(ctx, c.sessionID)
	})
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	var q *models.GameQuestion
	target, hasQuestion := wantQuestion(*s)
	if hasQuestion {
		if q, err = c.loadQuestion(ctx, target); err != nil {
			return err
		}
	}
	entries, _, err := c.scores.Refresh(ctx)
	if err != nil {
		return err
	}

	return c.call(func() error {
		c.reconcile(*s, "reconnect")
		if hasQuestion {
			c.applyQuestion(target, q, nil, "reconnect")
		}
		c.st.Leaderboard = entries
		c.commit()
		return nil
	})
}

// onReconnectDone clears the reconnecting state or enters the terminal connection-lost state.
// Loop only.
func (c *Controller) onReconnectDone(attempts int, err error) {
	c.reconnecting = false
	if c.closed {
		return
	}
	if err == nil {
		c.logger.Info().Int("attempts", attempts).Msg("connection restored")
		c.st.Banner = ""
		c.publish(eventbus.Event{Name: eventbus.Reconnected, Value: int64(attempts)})
		c.commit()
		return
	}

	c.logger.Error().Err(err).Int("attempts", attempts).Msg("giving up on reconnection")
	c.unsubscribe()
	c.timers.stopAll()
	c.st.ConnectionLost = true
	c.st.GameEnded = true
	c.st.Banner = "Connection lost"
	c.stopPoller()
	c.publish(eventbus.Event{Name: eventbus.ConnectionLost, Message: err.Error()})
	c.commit()
}

// Exit leaves the game. A session that is not finished yet is cancelled for everyone.
func (c *Controller) Exit(ctx context.Context) error {
	c.startMu.Lock()
	running := c.running
	c.startMu.Unlock()
	if !running {
		c.Close()
		return ErrClosed
	}

	var status models.GameStatus
	err := c.call(func() error {
		status = c.st.Session.Status
		c.publish(eventbus.Event{Name: eventbus.GameExit})
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return err
	}

	var cancelErr error
	if c.sessionID != uuid.Nil && !status.Terminal() {
		if _, err := c.gw.CancelSession(ctx, c.sessionID); err != nil && !errors.Is(err, backend.ErrConflict) {
			cancelErr = fmt.Errorf("cancel session: %w", err)
		} else {
			c.logger.Info().Msg("session cancelled on exit")
		}
	}
	c.Close()
	return cancelErr
}

// Close tears the controller down synchronously: timers, mode, listeners, subscriptions, poller
// and in-flight goroutines are all stopped before it returns. It must not be called from a
// Renderer.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.startMu.Lock()
		running := c.running
		c.startMu.Unlock()
		if !running {
			c.cancel()
			c.loop.close()
			c.writes.close()
			close(c.done)
			if c.onClosed != nil {
				c.onClosed()
			}
			return
		}

		_ = c.call(func() error {
			c.timers.stopAll()
			if c.mode != nil {
				_ = c.guard("cleanup mode", c.mode.Cleanup)
			}
			c.closed = true
			c.stopPoller()
			for _, l := range c.listeners {
				l.Unsubscribe()
			}
			c.listeners = nil
			c.publish(eventbus.Event{Name: eventbus.GameClose})
			return nil
		})
		c.closeSubscriptions()
		c.cancel()
		c.wg.Wait()
		c.loop.close()
		c.writes.close()
		close(c.done)
		c.logger.Info().Msg("session controller closed")

		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

// Done is closed once Close has finished.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// modeHost is the game.Host handed to the mode.
type modeHost struct {
	c *Controller
}

func (h modeHost) Now() time.Time {
	return h.c.now.Now()
}

func (h modeHost) Emit(ev eventbus.Event) {
	h.c.publish(ev)
}

func (h modeHost) After(d time.Duration, fn func()) func() {
	return h.c.timers.schedule(d, func() {
		if h.c.closed {
			return
		}
		_ = h.c.guard("mode timer", fn)
		h.c.render()
	})
}
