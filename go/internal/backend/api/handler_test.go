package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/memstore"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func serve(t *testing.T) (*backend.HTTPClient, *memstore.Store, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New(fc)
	mux := http.NewServeMux()
	NewHandler(store, fc).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return backend.NewHTTPClient(srv.URL), store, fc
}

func TestClientRoundTripsThroughHandler(t *testing.T) {
	client, _, fc := serve(t)
	ctx := context.Background()

	now, err := client.ServerTime(ctx)
	if err != nil || !now.Equal(fc.Now()) {
		t.Fatalf("server time = %v, %v", now, err)
	}

	host := uuid.New()
	qs := []models.GameQuestion{
		{ID: uuid.New(), QuestionIndex: 0, QuestionData: models.QuestionData{Prompt: "capital of France"}, CorrectAnswer: "Paris", Explanation: "it is", Points: 100, TimeLimitSeconds: 30},
		{ID: uuid.New(), QuestionIndex: 1, CorrectAnswer: "Rome", Points: 100, TimeLimitSeconds: 30},
	}
	sess, err := client.CreateSession(ctx, backend.CreateSessionRequest{
		RoomID: uuid.New(), HostID: host, GameType: models.GameTypeSpeedQuiz, Questions: qs,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.StartSession(ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	q, err := client.FetchQuestionByIndex(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("fetch question: %v", err)
	}
	if q.CorrectAnswer != "" || q.QuestionData.Prompt != "capital of France" {
		t.Fatalf("question = %+v", q)
	}

	if _, err := client.FetchReveal(ctx, sess.ID, q.ID, host); !errors.Is(err, backend.ErrForbidden) {
		t.Fatalf("reveal before answering err = %v", err)
	}

	sub := backend.AnswerSubmission{SessionID: sess.ID, QuestionID: q.ID, UserID: host, Answer: "paris", PointsIfCorrect: 100}
	res, err := client.SubmitAnswer(ctx, sub)
	if err != nil || !res.IsCorrect || res.PointsAwarded != 100 {
		t.Fatalf("submit = %+v, %v", res, err)
	}
	if res, err := client.SubmitAnswer(ctx, sub); err != nil || !res.Duplicate {
		t.Fatalf("resubmit = %+v, %v", res, err)
	}

	reveal, err := client.FetchReveal(ctx, sess.ID, q.ID, host)
	if err != nil || reveal.CorrectAnswer != "Paris" || reveal.Explanation != "it is" {
		t.Fatalf("reveal = %+v, %v", reveal, err)
	}

	board, err := client.FetchLeaderboard(ctx, sess.ID)
	if err != nil || len(board) != 1 || board[0].TotalScore != 100 {
		t.Fatalf("leaderboard = %+v, %v", board, err)
	}

	next, err := client.AdvanceQuestion(ctx, sess.ID, 0)
	if err != nil || next.CurrentQuestionIndex != 1 {
		t.Fatalf("advance = %+v, %v", next, err)
	}
	if _, err := client.AdvanceQuestion(ctx, sess.ID, 0); !errors.Is(err, backend.ErrConflict) {
		t.Fatalf("stale advance err = %v", err)
	}

	done, err := client.CompleteSession(ctx, sess.ID, models.GameOutcome{})
	if err != nil || done.Status != models.GameStatusCompleted {
		t.Fatalf("complete = %+v, %v", done, err)
	}
}

func TestHandlerErrorStatuses(t *testing.T) {
	client, _, _ := serve(t)
	ctx := context.Background()

	if _, err := client.FetchSession(ctx, uuid.New()); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("unknown session err = %v", err)
	}
	if _, err := client.CreateSession(ctx, backend.CreateSessionRequest{GameType: "CHESS"}); err == nil || backend.IsTransient(err) {
		t.Fatalf("invalid game type err = %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.Join(errBadRequest, errors.New("eof")), http.StatusBadRequest},
		{backend.ErrNotFound, http.StatusNotFound},
		{backend.ErrConflict, http.StatusConflict},
		{backend.ErrDuplicateSubmission, http.StatusConflict},
		{backend.ErrForbidden, http.StatusForbidden},
		{backend.Transient(errors.New("pool exhausted")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAddParticipant(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := memstore.New(fc)
	mux := http.NewServeMux()
	h := NewHandler(store, fc)
	h.SetRegistrar(func(_ context.Context, sessionID, userID uuid.UUID, name string) error {
		return store.AddParticipant(sessionID, userID, name)
	})
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := backend.NewHTTPClient(srv.URL)
	ctx := context.Background()

	sess, err := client.CreateSession(ctx, backend.CreateSessionRequest{
		RoomID: uuid.New(), HostID: uuid.New(), GameType: models.GameTypeSpeedQuiz,
		Questions: []models.GameQuestion{{ID: uuid.New(), CorrectAnswer: "a", TimeLimitSeconds: 10}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	guest := uuid.New()
	if err := client.AddParticipant(ctx, sess.ID, guest, "guest"); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := client.AddParticipant(ctx, uuid.New(), guest, "guest"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("unknown session err = %v", err)
	}

	ps, err := client.FetchParticipants(ctx, sess.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	var found bool
	for _, p := range ps {
		found = found || p.UserID == guest
	}
	if !found {
		t.Fatalf("guest missing from %+v", ps)
	}
}

func TestAddParticipantWithoutRegistrar(t *testing.T) {
	client, _, _ := serve(t)
	if err := client.AddParticipant(context.Background(), uuid.New(), uuid.New(), "x"); err == nil {
		t.Fatal("expected an error without a registrar")
	}
}
