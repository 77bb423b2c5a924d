package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// Registrar adds a player to the room behind a session.
type Registrar func(ctx context.Context, sessionID, userID uuid.UUID, displayName string) error

// Handler serves a Requester as the JSON REST API backend.HTTPClient speaks.
type Handler struct {
	requester backend.Requester
	clock     clockwork.Clock
	register  Registrar
}

func NewHandler(r backend.Requester, clock clockwork.Clock) *Handler {
	return &Handler{requester: r, clock: clock}
}

// SetRegistrar enables POST /sessions/{id}/participants.
func (h *Handler) SetRegistrar(fn Registrar) {
	h.register = fn
}

// RegisterRoutes registers the session API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /time", h.handleTime)

	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", h.handleFetchSession)
	mux.HandleFunc("POST /sessions/{id}/start", h.handleStartSession)
	mux.HandleFunc("POST /sessions/{id}/advance", h.handleAdvance)
	mux.HandleFunc("POST /sessions/{id}/complete", h.handleComplete)
	mux.HandleFunc("POST /sessions/{id}/cancel", h.handleCancel)

	mux.HandleFunc("GET /sessions/{id}/questions/{index}", h.handleQuestionByIndex)
	mux.HandleFunc("GET /questions/{qid}", h.handleQuestionByID)
	mux.HandleFunc("GET /sessions/{id}/participants", h.handleParticipants)
	mux.HandleFunc("POST /sessions/{id}/participants", h.handleAddParticipant)
	mux.HandleFunc("GET /sessions/{id}/leaderboard", h.handleLeaderboard)

	mux.HandleFunc("POST /sessions/{id}/answers", h.handleSubmitAnswer)
	mux.HandleFunc("GET /sessions/{id}/questions/{qid}/reveal", h.handleReveal)

	mux.HandleFunc("GET /sessions/{id}/board", h.handleBoard)
	mux.HandleFunc("GET /sessions/{id}/board/complete", h.handleBoardComplete)
	mux.HandleFunc("POST /sessions/{id}/select", h.handleSelect)
	mux.HandleFunc("POST /sessions/{id}/return-to-board", h.handleReturnToBoard)
	mux.HandleFunc("PUT /sessions/{id}/current-player", h.handleSetCurrentPlayer)
	mux.HandleFunc("POST /sessions/{id}/buzzer", h.handleClaimBuzzer)
	mux.HandleFunc("GET /sessions/{id}/lowest-scorer", h.handleLowestScorer)
	mux.HandleFunc("POST /sessions/{id}/final-round", h.handleFinalRound)
	mux.HandleFunc("PUT /sessions/{id}/team-timer", h.handleTeamTimer)
}

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrConflict), errors.Is(err, backend.ErrDuplicateSubmission):
		return http.StatusConflict
	case errors.Is(err, backend.ErrForbidden):
		return http.StatusForbidden
	case backend.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", code).Msg("request rejected")
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// respond writes v or the error err maps to.
func respond[T any](w http.ResponseWriter, r *http.Request, v T, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, v)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.Join(errBadRequest, err)
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// sessionOp parses the {id} path segment and runs fn against it.
func (h *Handler) sessionOp(w http.ResponseWriter, r *http.Request, fn func(id uuid.UUID) (any, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := fn(id)
	respond(w, r, v, err)
}

func (h *Handler) handleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Now time.Time `json:"now"`
	}{Now: h.clock.Now().UTC()})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req backend.CreateSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.GameType.Valid() {
		writeError(w, r, errors.Join(errBadRequest, errors.New("invalid game type")))
		return
	}
	s, err := h.requester.CreateSession(r.Context(), req)
	respond(w, r, s, err)
}

func (h *Handler) handleFetchSession(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		return h.requester.FetchSession(r.Context(), id)
	})
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		return h.requester.StartSession(r.Context(), id)
	})
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var body struct {
			ExpectedIndex int `json:"expected_index"`
		}
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return h.requester.AdvanceQuestion(r.Context(), id, body.ExpectedIndex)
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var outcome models.GameOutcome
		if err := decode(r, &outcome); err != nil {
			return nil, err
		}
		return h.requester.CompleteSession(r.Context(), id, outcome)
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		return h.requester.CancelSession(r.Context(), id)
	})
}

func (h *Handler) handleQuestionByIndex(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			return nil, errors.Join(errBadRequest, err)
		}
		return h.requester.FetchQuestionByIndex(r.Context(), id, index)
	})
}

func (h *Handler) handleQuestionByID(w http.ResponseWriter, r *http.Request) {
	qid, err := pathID(r, "qid")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.requester.FetchQuestionByID(r.Context(), qid)
	respond(w, r, q, err)
}

func (h *Handler) handleParticipants(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		return h.requester.FetchParticipants(r.Context(), id)
	})
}

func (h *Handler) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	if h.register == nil {
		http.Error(w, "joining is not supported by this backend", http.StatusNotImplemented)
		return
	}
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var body struct {
			UserID      uuid.UUID `json:"user_id"`
			DisplayName string    `json:"display_name"`
		}
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		if body.UserID == uuid.Nil {
			return nil, errors.Join(errBadRequest, errors.New("user_id is required"))
		}
		if err := h.register(r.Context(), id, body.UserID, body.DisplayName); err != nil {
			return nil, err
		}
		return struct {
			Joined bool `json:"joined"`
		}{true}, nil
	})
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		return h.requester.FetchLeaderboard(r.Context(), id)
	})
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var sub backend.AnswerSubmission
		if err := decode(r, &sub); err != nil {
			return nil, err
		}
		sub.SessionID = id
		return h.requester.SubmitAnswer(r.Context(), sub)
	})
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		qid, err := pathID(r, "qid")
		if err != nil {
			return nil, err
		}
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			return nil, errors.Join(errBadRequest, err)
		}
		return h.requester.FetchReveal(r.Context(), id, qid, userID)
	})
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		return h.requester.FetchBoard(r.Context(), id)
	})
}

func (h *Handler) handleBoardComplete(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		done, err := h.requester.CheckBoardComplete(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"complete": done}, nil
	})
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var body struct {
			QuestionID uuid.UUID `json:"question_id"`
		}
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return h.requester.SelectQuestion(r.Context(), id, body.QuestionID)
	})
}

func (h *Handler) handleReturnToBoard(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var body struct {
			QuestionID uuid.UUID `json:"question_id"`
			NextPlayer uuid.UUID `json:"next_player"`
		}
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return h.requester.ReturnToBoard(r.Context(), id, body.QuestionID, body.NextPlayer)
	})
}

func (h *Handler) handleSetCurrentPlayer(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var body struct {
			UserID *uuid.UUID `json:"user_id"`
		}
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return h.requester.SetCurrentPlayer(r.Context(), id, body.UserID)
	})
}

func (h *Handler) handleClaimBuzzer(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var body struct {
			UserID uuid.UUID `json:"user_id"`
		}
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return h.requester.ClaimBuzzer(r.Context(), id, body.UserID)
	})
}

func (h *Handler) handleLowestScorer(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		userID, err := h.requester.GetLowestScoringPlayer(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return map[string]uuid.UUID{"user_id": userID}, nil
	})
}

func (h *Handler) handleFinalRound(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		return h.requester.AdvanceToFinalRound(r.Context(), id)
	})
}

func (h *Handler) handleTeamTimer(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, func(id uuid.UUID) (any, error) {
		var body struct {
			RemainingMs int64 `json:"remaining_ms"`
		}
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return h.requester.UpdateTeamTimer(r.Context(), id, body.RemainingMs)
	})
}
