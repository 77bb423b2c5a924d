package natsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

const (
	KindSession   = "session"
	KindQuestions = "questions"
	KindScores    = "scores"
)

// ErrDisconnected is the loss reason reported when the NATS connection drops.
var ErrDisconnected = errors.New("natsfeed: connection lost")

type Config struct {
	URL             string        `yaml:"url"`
	StreamName      string        `yaml:"stream_name"`
	SubjectPrefix   string        `yaml:"subject_prefix"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxAge          time.Duration `yaml:"max_age"`
	Replicas        int           `yaml:"replicas"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "QUIZ_EVENTS",
		SubjectPrefix:   "quiz",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// Subject returns the subject events of kind for one session are published on.
func (c Config) Subject(kind string, sessionID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.%s", c.SubjectPrefix, kind, sessionID)
}

type envelope struct {
	EventID   uuid.UUID       `json:"eventId"`
	Kind      string          `json:"kind"`
	SessionID uuid.UUID       `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Feed publishes session events to JetStream and implements backend.Notifier with one ordered
// consumer per subscription.
type Feed struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg Config

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
}

var _ backend.Notifier = (*Feed)(nil)

func newFeed(cfg Config) *Feed {
	return &Feed{cfg: cfg, subs: make(map[int]*subscription)}
}

// Connect dials NATS and makes sure the event stream exists.
func Connect(ctx context.Context, cfg Config) (*Feed, error) {
	f := newFeed(cfg)

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			f.dropAll(lossReason(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	f.nc, f.js = nc, js

	if err := f.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return f, nil
}

func (f *Feed) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        f.cfg.StreamName,
		Description: "Quiz session events",
		Subjects:    []string{fmt.Sprintf("%s.>", f.cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      f.cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    f.cfg.Replicas,
		Duplicates:  f.cfg.DuplicateWindow,
	}

	if _, err := f.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	log.Info().Str("stream", f.cfg.StreamName).Msg("JetStream stream ready")
	return nil
}

func (f *Feed) Close() {
	f.dropAll(ErrDisconnected)
	if f.nc != nil {
		f.nc.Close()
	}
}

// Publish sends payload as one event of kind for sessionID.
func (f *Feed) Publish(ctx context.Context, kind string, sessionID uuid.UUID, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := envelope{
		EventID:   uuid.New(),
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := f.js.PublishMsg(ctx, &nats.Msg{
		Subject: f.cfg.Subject(kind, sessionID),
		Data:    data,
		Header: nats.Header{
			"Event-Kind": []string{kind},
			"Session-ID": []string{sessionID.String()},
		},
	}, jetstream.WithMsgID(env.EventID.String()))
	if err != nil {
		return backend.Transient(fmt.Errorf("publish %s event: %w", kind, err))
	}

	log.Debug().
		Str("subject", f.cfg.Subject(kind, sessionID)).
		Uint64("seq", ack.Sequence).
		Msg("published quiz event")
	return nil
}

// decode unwraps an envelope into the typed event for kind.
func decode(kind string, data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("event kind %q on a %s subscription", env.Kind, kind)
	}

	switch kind {
	case KindSession:
		var s models.GameSession
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		return backend.SessionChange{Session: s}, nil
	case KindQuestions:
		var q models.GameQuestion
		if err := json.Unmarshal(env.Payload, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		q.CorrectAnswer, q.Explanation = "", ""
		return backend.QuestionInsert{Question: q}, nil
	case KindScores:
		var sc models.PlayerScore
		if err := json.Unmarshal(env.Payload, &sc); err != nil {
			return nil, fmt.Errorf("unmarshal score: %w", err)
		}
		return backend.ScoreInsert{Score: sc}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}

func lossReason(err error) error {
	if err == nil {
		return ErrDisconnected
	}
	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}
