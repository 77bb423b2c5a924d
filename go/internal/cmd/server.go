package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/api"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/wsfeed"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/session"
)

func setupServer(port string, register func(mux *http.ServeMux)) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	register(mux)
	setupHealthCheck(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
}

// registerAPI serves the session API and the websocket feed.
func registerAPI(handler *api.Handler, hub *wsfeed.Hub) func(mux *http.ServeMux) {
	return func(mux *http.ServeMux) {
		handler.RegisterRoutes(mux)
		mux.Handle("/ws/session", hub)
	}
}

// registerState exposes the active controller's last rendered view.
func registerState(manager *session.Manager) func(mux *http.ServeMux) {
	return func(mux *http.ServeMux) {
		mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
			ctrl := manager.Active()
			if ctrl == nil {
				http.Error(w, "no active session", http.StatusNotFound)
				return
			}
			view, ok := ctrl.Snapshot()
			if !ok {
				http.Error(w, "session not rendered yet", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(newStateResponse(view)); err != nil {
				log.Error().Err(err).Msg("failed to encode state response")
			}
		})
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
