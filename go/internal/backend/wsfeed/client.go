package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
)

// ErrDisconnected is the loss reason reported when a session socket closes.
var ErrDisconnected = errors.New("wsfeed: connection lost")

type ClientConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// ReadTimeout bounds the gap between server pings.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      90 * time.Second,
	}
}

// Client implements backend.Notifier over one websocket per watched session.
type Client struct {
	endpoint string
	dialer   *websocket.Dialer
	config   ClientConfig

	mu     sync.Mutex
	conns  map[uuid.UUID]*socket
	nextID int
}

var _ backend.Notifier = (*Client)(nil)

type socket struct {
	sessionID uuid.UUID
	conn      *websocket.Conn
	subs      map[int]*subscription
}

type subscription struct {
	c      *Client
	s      *socket
	id     int
	kind   string
	fn     func(any)
	signal *backend.LossSignal
}

func (s *subscription) Unsubscribe() error {
	s.c.remove(s)
	return nil
}

func (s *subscription) Lost() <-chan error {
	return s.signal.Lost()
}

// NewClient watches sessions on endpoint, e.g. "ws://localhost:8080/ws/session".
// http and https schemes are rewritten to ws and wss.
func NewClient(endpoint string, config ClientConfig) *Client {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	}
	return &Client{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		config:   config,
		conns:    make(map[uuid.UUID]*socket),
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[uuid.UUID]*socket)
	c.mu.Unlock()
	for _, s := range conns {
		s.conn.Close()
	}
}

func (c *Client) dial(ctx context.Context, sessionID uuid.UUID) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID.String())
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, backend.Transient(fmt.Errorf("dial %s: %w", u.Host, err))
	}
	return conn, nil
}

func (c *Client) subscribe(ctx context.Context, kind string, sessionID uuid.UUID, fn func(any)) (backend.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.conns[sessionID]
	if !ok {
		conn, err := c.dial(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s = &socket{sessionID: sessionID, conn: conn, subs: make(map[int]*subscription)}
		c.conns[sessionID] = s
		go c.readLoop(s)
		log.Debug().Str("session_id", sessionID.String()).Msg("session socket opened")
	}

	c.nextID++
	sub := &subscription{
		c:      c,
		s:      s,
		id:     c.nextID,
		kind:   kind,
		fn:     fn,
		signal: backend.NewLossSignal(),
	}
	s.subs[sub.id] = sub
	return sub, nil
}

// remove drops sub and closes its socket once nobody listens on it.
func (c *Client) remove(sub *subscription) {
	c.mu.Lock()
	delete(sub.s.subs, sub.id)
	idle := len(sub.s.subs) == 0 && c.conns[sub.s.sessionID] == sub.s
	if idle {
		delete(c.conns, sub.s.sessionID)
	}
	c.mu.Unlock()

	if idle {
		sub.s.conn.Close()
	}
}

func (c *Client) matching(s *socket, kind string) []*subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*subscription
	for _, sub := range s.subs {
		if sub.kind == kind {
			out = append(out, sub)
		}
	}
	return out
}

func (c *Client) readLoop(s *socket) {
	s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	s.conn.SetPingHandler(func(data string) error {
		s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			c.drop(s, err)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			log.Error().Err(err).Msg("failed to decode frame")
			continue
		}
		ev, err := f.event()
		if err != nil {
			log.Error().Err(err).Msg("failed to decode frame")
			continue
		}
		for _, sub := range c.matching(s, f.Kind) {
			sub.fn(ev)
		}
	}
}

// drop fails every subscription still on s.
func (c *Client) drop(s *socket, err error) {
	c.mu.Lock()
	if c.conns[s.sessionID] == s {
		delete(c.conns, s.sessionID)
	}
	dropped := make([]*subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		dropped = append(dropped, sub)
		delete(s.subs, id)
	}
	c.mu.Unlock()

	s.conn.Close()
	if len(dropped) == 0 {
		return
	}
	reason := fmt.Errorf("%w: %w", ErrDisconnected, err)
	for _, sub := range dropped {
		sub.signal.Fire(reason)
	}
	log.Warn().Err(err).Str("session_id", s.sessionID.String()).Int("count", len(dropped)).Msg("subscriptions dropped")
}

func (c *Client) SubscribeSession(ctx context.Context, sessionID uuid.UUID, fn func(backend.SessionChange)) (backend.Subscription, error) {
	return c.subscribe(ctx, KindSession, sessionID, func(v any) {
		if ev, ok := v.(backend.SessionChange); ok {
			fn(ev)
		}
	})
}

func (c *Client) SubscribeQuestions(ctx context.Context, sessionID uuid.UUID, fn func(backend.QuestionInsert)) (backend.Subscription, error) {
	return c.subscribe(ctx, KindQuestions, sessionID, func(v any) {
		if ev, ok := v.(backend.QuestionInsert); ok {
			fn(ev)
		}
	})
}

func (c *Client) SubscribeScores(ctx context.Context, sessionID uuid.UUID, fn func(backend.ScoreInsert)) (backend.Subscription, error) {
	return c.subscribe(ctx, KindScores, sessionID, func(v any) {
		if ev, ok := v.(backend.ScoreInsert); ok {
			fn(ev)
		}
	})
}
