package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/memstore"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/natsfeed"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/wsfeed"
)

// Services holds the wired backend for either command.
type Services struct {
	Requester backend.Requester
	// Notifier is the backend's own push channel; nil for the http backend.
	Notifier backend.Notifier
	// AddParticipant registers a joining player where the backend needs it.
	AddParticipant func(ctx context.Context, sessionID, userID uuid.UUID, name string) error

	runners []func(ctx context.Context) error
	closers []func()
}

func (s *Services) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// Run starts the background loops the backend needs until ctx ends.
func (s *Services) Run(ctx context.Context) {
	for _, run := range s.runners {
		go func() {
			if err := run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("background service stopped")
			}
		}()
	}
}

// Close releases everything in reverse order of setup.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupServices(ctx context.Context, cfg *Config, clock clockwork.Clock) (*Services, error) {
	// Wire up dependency injection chain
	// Store → submit ledger → feed relay
	s := &Services{}

	switch cfg.Backend.Kind {
	case backendMemory:
		store := memstore.New(clock)
		s.Requester, s.Notifier = store, store
		s.AddParticipant = func(_ context.Context, sessionID, userID uuid.UUID, name string) error {
			return store.AddParticipant(sessionID, userID, name)
		}
	case backendPostgres:
		store, notifier, err := setupDatabase(ctx, cfg.Backend)
		if err != nil {
			return nil, err
		}
		s.onClose(store.Close)
		s.onClose(func() { notifier.Close() })
		s.runners = append(s.runners, notifier.Run)
		s.Requester, s.Notifier = store, notifier
		s.AddParticipant = store.AddParticipant
	case backendHTTP:
		client := backend.NewHTTPClient(strings.TrimSuffix(cfg.Backend.URL, "/"))
		s.Requester = client
		s.AddParticipant = client.AddParticipant
	}

	if cfg.Backend.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Backend.Redis.Addr,
			Password: cfg.Backend.Redis.Password,
			DB:       cfg.Backend.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.onClose(func() { rdb.Close() })
		s.Requester = backend.WithSubmitLedger(s.Requester, backend.NewRedisSubmitLedger(rdb, cfg.Backend.Redis.SubmitTTL))
		log.Info().Str("addr", cfg.Backend.Redis.Addr).Msg("submit ledger enabled")
	}

	log.Info().Str("backend", cfg.Backend.Kind).Msg("backend ready")
	return s, nil
}

// setupGateway picks the notification channel for a playing client. Writes made through a NATS
// feed are relayed so other clients on the stream see them.
func setupGateway(ctx context.Context, cfg *Config, s *Services) (backend.Gateway, error) {
	switch cfg.Feed.Kind {
	case feedNATS:
		feed, err := natsfeed.Connect(ctx, cfg.Feed.NATS)
		if err != nil {
			return nil, err
		}
		s.onClose(feed.Close)
		requester := s.Requester
		if cfg.Backend.Kind != backendHTTP {
			requester = natsfeed.WithRelay(requester, feed)
		}
		return backend.Join(requester, feed), nil
	case feedWebSocket:
		url := cfg.Feed.WebSocket.URL
		if url == "" {
			if cfg.Backend.URL == "" {
				return nil, errors.New("feed.websocket.url is required without an http backend")
			}
			url = strings.TrimSuffix(cfg.Backend.URL, "/") + "/ws/session"
		}
		client := wsfeed.NewClient(url, cfg.Feed.WebSocket.Client)
		s.onClose(client.Close)
		return backend.Join(s.Requester, client), nil
	}
	return backend.Join(s.Requester, s.Notifier), nil
}

// fanout publishes to every target and reports all failures.
type fanout []natsfeed.Publisher

func (f fanout) Publish(ctx context.Context, kind string, sessionID uuid.UUID, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, kind, sessionID, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
