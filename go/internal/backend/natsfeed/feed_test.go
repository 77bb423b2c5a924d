package natsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/memstore"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func encode(t *testing.T, kind string, sessionID uuid.UUID, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(envelope{EventID: uuid.New(), Kind: kind, SessionID: sessionID, Payload: body})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSubjectIsScopedBySessionAndKind(t *testing.T) {
	id := uuid.MustParse("8a0b3c1e-6b8f-4f7e-9a55-3f1c2d4e5a6b")
	got := DefaultConfig().Subject(KindScores, id)
	if want := "quiz.scores.8a0b3c1e-6b8f-4f7e-9a55-3f1c2d4e5a6b"; got != want {
		t.Fatalf("Subject() = %q, want %q", got, want)
	}
}

func TestDecodeStripsAnswerFromQuestions(t *testing.T) {
	sessionID := uuid.New()
	q := models.GameQuestion{ID: uuid.New(), GameSessionID: sessionID, QuestionIndex: 3, CorrectAnswer: "Paris", Explanation: "capital"}

	ev, err := decode(KindQuestions, encode(t, KindQuestions, sessionID, q))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := ev.(backend.QuestionInsert).Question
	want := models.GameQuestion{ID: q.ID, GameSessionID: sessionID, QuestionIndex: 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("question mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsMismatchedKind(t *testing.T) {
	data := encode(t, KindScores, uuid.New(), models.PlayerScore{Points: 100})
	if _, err := decode(KindSession, data); err == nil {
		t.Fatal("decoded a score event as a session change")
	}
	if _, err := decode(KindSession, []byte("{")); err == nil {
		t.Fatal("decoded a truncated envelope")
	}
}

func TestHandleSkipsMalformedEvents(t *testing.T) {
	f := newFeed(DefaultConfig())
	var got []backend.SessionChange
	sub := f.register(KindSession, uuid.New(), func(v any) { got = append(got, v.(backend.SessionChange)) })

	sub.handle([]byte("garbage"))
	sub.handle(encode(t, KindSession, uuid.New(), models.GameSession{CurrentQuestionIndex: 4}))

	if len(got) != 1 || got[0].Session.CurrentQuestionIndex != 4 {
		t.Fatalf("delivered = %+v", got)
	}
}

func TestDisconnectFailsEverySubscription(t *testing.T) {
	f := newFeed(DefaultConfig())
	id := uuid.New()
	a := f.register(KindSession, id, func(any) {})
	b := f.register(KindScores, id, func(any) {})

	f.dropAll(lossReason(errors.New("read tcp: connection reset")))

	for _, sub := range []*subscription{a, b} {
		select {
		case err := <-sub.Lost():
			if !errors.Is(err, ErrDisconnected) {
				t.Fatalf("loss reason = %v", err)
			}
		default:
			t.Fatal("subscription not told about the disconnect")
		}
	}
	if len(f.subs) != 0 {
		t.Fatal("dropped subscriptions still registered")
	}
}

type event struct {
	Kind    string
	Session uuid.UUID
}

type recorder struct {
	events []event
	fail   error
}

func (r *recorder) Publish(_ context.Context, kind string, sessionID uuid.UUID, payload any) error {
	r.events = append(r.events, event{Kind: kind, Session: sessionID})
	return r.fail
}

func TestRelayPublishesCommittedWrites(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(clockwork.NewFakeClock())
	pub := &recorder{}
	r := WithRelay(store, pub)

	qs := []models.GameQuestion{
		{ID: uuid.New(), QuestionIndex: 0, CorrectAnswer: "a", Points: 100, TimeLimitSeconds: 30},
		{ID: uuid.New(), QuestionIndex: 1, CorrectAnswer: "b", Points: 100, TimeLimitSeconds: 30},
	}
	sess, err := r.CreateSession(ctx, backend.CreateSessionRequest{
		RoomID: uuid.New(), HostID: uuid.New(), GameType: models.GameTypeSpeedQuiz, Questions: qs,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.StartSession(ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub := backend.AnswerSubmission{SessionID: sess.ID, QuestionID: qs[0].ID, UserID: sess.HostID, Answer: "a", PointsIfCorrect: 100}
	if _, err := r.SubmitAnswer(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res, err := r.SubmitAnswer(ctx, sub); err != nil || !res.Duplicate {
		t.Fatalf("resubmit = %+v, %v", res, err)
	}
	// a lost conditional write publishes nothing
	if _, err := r.AdvanceQuestion(ctx, sess.ID, 5); !errors.Is(err, backend.ErrConflict) {
		t.Fatalf("stale advance err = %v", err)
	}

	want := []event{
		{KindSession, sess.ID},
		{KindQuestions, sess.ID},
		{KindQuestions, sess.ID},
		{KindSession, sess.ID},
		{KindScores, sess.ID},
	}
	if diff := cmp.Diff(want, pub.events); diff != "" {
		t.Fatalf("published (-want +got):\n%s", diff)
	}
}

func TestRelayPublishFailureDoesNotFailTheWrite(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(clockwork.NewFakeClock())
	r := WithRelay(store, &recorder{fail: backend.Transient(errors.New("no responders"))})

	sess, err := r.CreateSession(ctx, backend.CreateSessionRequest{
		RoomID: uuid.New(), HostID: uuid.New(), GameType: models.GameTypeSpeedQuiz,
		Questions: []models.GameQuestion{{ID: uuid.New(), CorrectAnswer: "a", Points: 100, TimeLimitSeconds: 30}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.CancelSession(ctx, sess.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}
