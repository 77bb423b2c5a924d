package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HubConfig holds configuration for server-side websocket connections.
type HubConfig struct {
	WriteTimeout    time.Duration              `yaml:"write_timeout"`
	ReadTimeout     time.Duration              `yaml:"read_timeout"`
	PingInterval    time.Duration              `yaml:"ping_interval"`
	MaxMessageSize  int64                      `yaml:"max_message_size"`
	ReadBufferSize  int                        `yaml:"read_buffer_size"`
	WriteBufferSize int                        `yaml:"write_buffer_size"`
	CheckOrigin     func(r *http.Request) bool `yaml:"-"`
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Hub fans session events out to websocket clients watching that session.
type Hub struct {
	sessions map[uuid.UUID]map[*peer]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	config   HubConfig
}

type peer struct {
	id        string
	sessionID uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
}

func NewHub(config HubConfig) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[*peer]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// ServeHTTP upgrades /ws/session?session_id=... requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, "invalid session_id format", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	p := &peer{
		id:        uuid.New().String(),
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
	}
	h.register(p)

	go p.writePump()
	go p.readPump()

	log.Info().
		Str("connection_id", p.id).
		Str("session_id", sessionID.String()).
		Msg("WebSocket connection established")
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[p.sessionID] == nil {
		h.sessions[p.sessionID] = make(map[*peer]bool)
	}
	h.sessions[p.sessionID][p] = true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.sessions[p.sessionID]
	if !ok || !peers[p] {
		return
	}
	delete(peers, p)
	close(p.send)
	if len(peers) == 0 {
		delete(h.sessions, p.sessionID)
	}
	log.Info().
		Str("connection_id", p.id).
		Str("session_id", p.sessionID.String()).
		Msg("connection unregistered")
}

// Connections returns the number of clients watching sessionID.
func (h *Hub) Connections(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Publish sends payload to every client watching sessionID. Slow clients are disconnected
// and recover through their loss signal.
func (h *Hub) Publish(_ context.Context, kind string, sessionID uuid.UUID, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Frame{Kind: kind, SessionID: sessionID, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	var slow []*peer
	h.mu.RLock()
	peers := h.sessions[sessionID]
	for p := range peers {
		select {
		case p.send <- data:
		default:
			slow = append(slow, p)
		}
	}
	sent := len(peers) - len(slow)
	h.mu.RUnlock()

	for _, p := range slow {
		log.Warn().Str("connection_id", p.id).Msg("connection send buffer full, closing connection")
		h.unregister(p)
		p.conn.Close()
	}

	log.Debug().
		Str("kind", kind).
		Str("session_id", sessionID.String()).
		Int("connections", sent).
		Msg("event broadcasted")
	return nil
}

func (p *peer) writePump() {
	ticker := time.NewTicker(p.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
		p.hub.unregister(p)
	}()

	for {
		select {
		case message, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(p.hub.config.WriteTimeout))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", p.id).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(p.hub.config.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", p.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only watches for close and pong; clients never send commands.
func (p *peer) readPump() {
	defer func() {
		p.hub.unregister(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(p.hub.config.MaxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(p.hub.config.ReadTimeout))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(p.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", p.id).Msg("unexpected WebSocket close error")
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(p.hub.config.ReadTimeout))
	}
}
