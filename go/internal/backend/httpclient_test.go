package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func TestHTTPClientMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, func(err error) bool { return errors.Is(err, ErrNotFound) }},
		{"conflict", http.StatusConflict, func(err error) bool { return errors.Is(err, ErrConflict) }},
		{"server error", http.StatusServiceUnavailable, IsTransient},
		{"bad request", http.StatusBadRequest, func(err error) bool { return err != nil && !IsTransient(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL).FetchSession(context.Background(), uuid.New())
			if !tt.check(err) {
				t.Fatalf("unexpected error mapping: %v", err)
			}
		})
	}
}

func TestHTTPClientAdvanceSendsExpectedIndex(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions/"+id.String()+"/advance" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			ExpectedIndex int `json:"expected_index"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(models.GameSession{
			ID:                   id,
			Status:               models.GameStatusInProgress,
			CurrentQuestionIndex: body.ExpectedIndex + 1,
		})
	}))
	defer srv.Close()

	s, err := NewHTTPClient(srv.URL).AdvanceQuestion(context.Background(), id, 3)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.CurrentQuestionIndex != 4 {
		t.Fatalf("index = %d, want 4", s.CurrentQuestionIndex)
	}
}

func TestHTTPClientDuplicateSubmission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).SubmitAnswer(context.Background(), AnswerSubmission{SessionID: uuid.New()})
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("err = %v, want ErrDuplicateSubmission", err)
	}
}
