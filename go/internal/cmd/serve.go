package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/api"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/natsfeed"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/wsfeed"
)

// runServe hosts the backend over HTTP. Writes are relayed to websocket subscribers and,
// when configured, to the NATS stream.
func runServe(ctx context.Context, cfg *Config, clock clockwork.Clock) error {
	if cfg.Backend.Kind == backendHTTP {
		return errors.New("serve needs a memory or postgres backend")
	}

	svc, err := setupServices(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer svc.Close()

	hub := wsfeed.NewHub(cfg.Feed.WebSocket.Hub)
	targets := fanout{hub}
	if cfg.Feed.Kind == feedNATS {
		feed, err := natsfeed.Connect(ctx, cfg.Feed.NATS)
		if err != nil {
			return err
		}
		svc.onClose(feed.Close)
		targets = append(targets, feed)
	}

	handler := api.NewHandler(natsfeed.WithRelay(svc.Requester, targets), clock)
	handler.SetRegistrar(svc.AddParticipant)
	svc.Run(ctx)

	server := setupServer(cfg.Port, registerAPI(handler, hub))
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("backend", cfg.Backend.Kind).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("server shutdown complete")
	return nil
}
