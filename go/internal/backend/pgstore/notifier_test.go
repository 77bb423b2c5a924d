package pgstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

type fakeRows struct {
	sessions map[uuid.UUID]models.GameSession
	reads    int
}

func (f *fakeRows) FetchSession(_ context.Context, id uuid.UUID) (*models.GameSession, error) {
	f.reads++
	s, ok := f.sessions[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return &s, nil
}

func (f *fakeRows) FetchQuestionByID(_ context.Context, id uuid.UUID) (*models.GameQuestion, error) {
	f.reads++
	return &models.GameQuestion{ID: id}, nil
}

func (f *fakeRows) FetchScore(_ context.Context, id uuid.UUID) (*models.PlayerScore, error) {
	f.reads++
	return &models.PlayerScore{ID: id, Points: 100}, nil
}

func note(sessionID, id uuid.UUID) string {
	return fmt.Sprintf(`{"session_id":%q,"id":%q}`, sessionID, id)
}

func TestDispatchRoutesBySessionAndChannel(t *testing.T) {
	mine, other := uuid.New(), uuid.New()
	rows := &fakeRows{sessions: map[uuid.UUID]models.GameSession{
		mine: {ID: mine, Status: models.GameStatusInProgress, CurrentQuestionIndex: 2},
	}}
	n := newNotifier(rows, clockwork.NewFakeClock(), DefaultListenerConfig())
	ctx := context.Background()

	var changes []backend.SessionChange
	var scores []backend.ScoreInsert
	if _, err := n.SubscribeSession(ctx, mine, func(c backend.SessionChange) { changes = append(changes, c) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := n.SubscribeSession(ctx, mine, func(c backend.SessionChange) { changes = append(changes, c) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	scoreSub, err := n.SubscribeScores(ctx, mine, func(s backend.ScoreInsert) { scores = append(scores, s) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := n.dispatch(ctx, channelSessions, note(mine, mine)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(changes) != 2 || changes[0].Session.CurrentQuestionIndex != 2 {
		t.Fatalf("changes = %+v", changes)
	}
	if rows.reads != 1 {
		t.Fatalf("row read %d times for one notification", rows.reads)
	}

	// other sessions are not read at all
	if err := n.dispatch(ctx, channelSessions, note(other, other)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rows.reads != 1 || len(changes) != 2 {
		t.Fatal("notification for another session was delivered")
	}

	scoreID := uuid.New()
	if err := n.dispatch(ctx, channelScores, note(mine, scoreID)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(scores) != 1 || scores[0].Score.ID != scoreID {
		t.Fatalf("scores = %+v", scores)
	}

	if err := scoreSub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := n.dispatch(ctx, channelScores, note(mine, uuid.New())); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(scores) != 1 {
		t.Fatal("delivered after unsubscribe")
	}
}

func TestDispatchRejectsBadPayload(t *testing.T) {
	n := newNotifier(&fakeRows{}, clockwork.NewFakeClock(), DefaultListenerConfig())
	if err := n.dispatch(context.Background(), channelSessions, "not json"); err == nil {
		t.Fatal("accepted a malformed payload")
	}
}

func TestDisconnectFailsEverySubscription(t *testing.T) {
	n := newNotifier(&fakeRows{}, clockwork.NewFakeClock(), DefaultListenerConfig())
	ctx := context.Background()
	id := uuid.New()

	a, _ := n.SubscribeSession(ctx, id, func(backend.SessionChange) {})
	b, _ := n.SubscribeQuestions(ctx, id, func(backend.QuestionInsert) {})

	n.onListenerEvent(pq.ListenerEventDisconnected, errors.New("read tcp: connection reset"))

	for _, sub := range []backend.Subscription{a, b} {
		select {
		case err := <-sub.Lost():
			if !errors.Is(err, ErrListenerLost) {
				t.Fatalf("loss reason = %v", err)
			}
		default:
			t.Fatal("subscription not told about the disconnect")
		}
	}
	if len(n.matching(channelSessions, id)) != 0 {
		t.Fatal("dropped subscriptions still registered")
	}
}
