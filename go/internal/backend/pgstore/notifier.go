package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

const (
	channelSessions  = "quiz_session_changes"
	channelQuestions = "quiz_question_inserts"
	channelScores    = "quiz_score_inserts"
)

// ErrListenerLost is the loss reason reported when the LISTEN connection drops.
var ErrListenerLost = errors.New("pgstore: listen connection lost")

type ListenerConfig struct {
	MinReconnectInterval time.Duration `yaml:"min_reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// rowSource reads back the row a notification names.
type rowSource interface {
	FetchSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error)
	FetchQuestionByID(ctx context.Context, questionID uuid.UUID) (*models.GameQuestion, error)
	FetchScore(ctx context.Context, scoreID uuid.UUID) (*models.PlayerScore, error)
}

// Notifier implements backend.Notifier over LISTEN/NOTIFY. Payloads carry ids; the row is read
// back once per notification and handed to every matching subscriber.
type Notifier struct {
	source   rowSource
	listener *pq.Listener
	clock    clockwork.Clock
	cfg      ListenerConfig

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
}

var _ backend.Notifier = (*Notifier)(nil)

type subscription struct {
	n         *Notifier
	id        int
	channel   string
	sessionID uuid.UUID
	fn        func(any)
	signal    *backend.LossSignal
}

func (s *subscription) Unsubscribe() error {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	delete(s.n.subs, s.id)
	return nil
}

func (s *subscription) Lost() <-chan error {
	return s.signal.Lost()
}

func newNotifier(source rowSource, clock clockwork.Clock, cfg ListenerConfig) *Notifier {
	return &Notifier{
		source: source,
		clock:  clock,
		cfg:    cfg,
		subs:   make(map[int]*subscription),
	}
}

// NewNotifier opens a LISTEN connection on dsn for the three quiz channels.
func NewNotifier(dsn string, store *Store, cfg ListenerConfig) (*Notifier, error) {
	n := newNotifier(store, clockwork.NewRealClock(), cfg)
	n.listener = pq.NewListener(
		dsn,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		n.onListenerEvent,
	)
	for _, ch := range []string{channelSessions, channelQuestions, channelScores} {
		if err := n.listener.Listen(ch); err != nil {
			n.listener.Close()
			return nil, fmt.Errorf("failed to listen to channel %s: %w", ch, err)
		}
	}

	log.Info().Msg("listening for quiz notifications")
	return n, nil
}

func (n *Notifier) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		log.Error().Err(err).Msg("listener disconnected")
		reason := ErrListenerLost
		if err != nil {
			reason = fmt.Errorf("%w: %w", ErrListenerLost, err)
		}
		n.dropAll(reason)
	case pq.ListenerEventConnectionAttemptFailed:
		log.Error().Err(err).Msg("listener reconnect failed")
	case pq.ListenerEventReconnected:
		log.Info().Msg("listener reconnected")
	}
}

// Run delivers notifications until ctx ends.
func (n *Notifier) Run(ctx context.Context) error {
	log.Info().Dur("ping_interval", n.cfg.PingInterval).Msg("notifier started")

	ping := n.clock.NewTicker(n.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notifier shutting down")
			return n.Close()
		case note := <-n.listener.Notify:
			if note == nil {
				// connection was re-established; anything sent meanwhile is gone
				n.dropAll(ErrListenerLost)
				continue
			}
			if err := n.dispatch(ctx, note.Channel, note.Extra); err != nil {
				log.Error().Err(err).Str("channel", note.Channel).Msg("failed to handle notification")
			}
		case <-ping.Chan():
			if err := n.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (n *Notifier) Close() error {
	n.mu.Lock()
	n.subs = make(map[int]*subscription)
	n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Close()
}

// dropAll fails every live subscription; subscribers resubscribe and refetch.
func (n *Notifier) dropAll(reason error) {
	n.mu.Lock()
	dropped := make([]*subscription, 0, len(n.subs))
	for id, sub := range n.subs {
		dropped = append(dropped, sub)
		delete(n.subs, id)
	}
	n.mu.Unlock()

	for _, sub := range dropped {
		sub.signal.Fire(reason)
	}
	if len(dropped) > 0 {
		log.Warn().Err(reason).Int("count", len(dropped)).Msg("subscriptions dropped")
	}
}

type notePayload struct {
	SessionID uuid.UUID `json:"session_id"`
	ID        uuid.UUID `json:"id"`
}

func (n *Notifier) matching(channel string, sessionID uuid.UUID) []*subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*subscription
	for _, sub := range n.subs {
		if sub.channel == channel && sub.sessionID == sessionID {
			out = append(out, sub)
		}
	}
	return out
}

func (n *Notifier) dispatch(ctx context.Context, channel, extra string) error {
	var p notePayload
	if err := json.Unmarshal([]byte(extra), &p); err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}
	subs := n.matching(channel, p.SessionID)
	if len(subs) == 0 {
		return nil
	}

	var payload any
	switch channel {
	case channelSessions:
		s, err := n.source.FetchSession(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch session: %w", err)
		}
		payload = backend.SessionChange{Session: *s}
	case channelQuestions:
		q, err := n.source.FetchQuestionByID(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch question: %w", err)
		}
		payload = backend.QuestionInsert{Question: *q}
	case channelScores:
		sc, err := n.source.FetchScore(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch score: %w", err)
		}
		payload = backend.ScoreInsert{Score: *sc}
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}

	for _, sub := range subs {
		sub.fn(payload)
	}
	return nil
}

func (n *Notifier) subscribe(channel string, sessionID uuid.UUID, fn func(any)) (backend.Subscription, error) {
	if n.listener != nil {
		if err := n.listener.Ping(); err != nil {
			return nil, backend.Transient(fmt.Errorf("listener unavailable: %w", err))
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	sub := &subscription{
		n:         n,
		id:        n.nextID,
		channel:   channel,
		sessionID: sessionID,
		fn:        fn,
		signal:    backend.NewLossSignal(),
	}
	n.subs[sub.id] = sub
	return sub, nil
}

func (n *Notifier) SubscribeSession(ctx context.Context, sessionID uuid.UUID, fn func(backend.SessionChange)) (backend.Subscription, error) {
	return n.subscribe(channelSessions, sessionID, func(v any) {
		if ev, ok := v.(backend.SessionChange); ok {
			fn(ev)
		}
	})
}

func (n *Notifier) SubscribeQuestions(ctx context.Context, sessionID uuid.UUID, fn func(backend.QuestionInsert)) (backend.Subscription, error) {
	return n.subscribe(channelQuestions, sessionID, func(v any) {
		if ev, ok := v.(backend.QuestionInsert); ok {
			fn(ev)
		}
	})
}

func (n *Notifier) SubscribeScores(ctx context.Context, sessionID uuid.UUID, fn func(backend.ScoreInsert)) (backend.Subscription, error) {
	return n.subscribe(channelScores, sessionID, func(v any) {
		if ev, ok := v.(backend.ScoreInsert); ok {
			fn(ev)
		}
	})
}
