package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/memstore"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func TestManagerAllowsOneActiveController(t *testing.T) {
	clock := clockwork.NewRealClock()
	store := memstore.New(clock)
	s, users := newGame(t, store, models.GameTypeSpeedQuiz, questions(2, 30), 2)
	m := NewManager(Deps{Gateway: store, Clock: clock}, testConfig())

	c, err := m.Join(context.Background(), users[1], s.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	t.Cleanup(c.Close)
	if m.Active() != c {
		t.Fatal("joined controller is not active")
	}
	if _, err := m.Start(context.Background(), users[0], s.ID); !errors.Is(err, ErrControllerActive) {
		t.Fatalf("second open err = %v", err)
	}

	c.Close()
	if m.Active() != nil {
		t.Fatal("closed controller still active")
	}
	host, err := m.Start(context.Background(), users[0], s.ID)
	if err != nil {
		t.Fatalf("start after close: %v", err)
	}
	t.Cleanup(host.Close)
	if got, _ := store.Session(s.ID); got.Status != models.GameStatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestManagerReleasesFailedOpen(t *testing.T) {
	clock := clockwork.NewRealClock()
	store := memstore.New(clock)
	m := NewManager(Deps{Gateway: store, Clock: clock}, testConfig())

	if _, err := m.Join(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("joined a session that does not exist")
	}
	if m.Active() != nil {
		t.Fatal("failed open left a controller active")
	}
}

func TestCreateGameBoard(t *testing.T) {
	clock := clockwork.NewRealClock()
	store := memstore.New(clock)
	m := NewManager(Deps{Gateway: store, Clock: clock}, testConfig())

	var qs []models.GameQuestion
	for col := 0; col < 3; col++ {
		for _, pts := range []int{200, 400, 600, 800} {
			qs = append(qs, models.GameQuestion{ColumnPosition: col, Points: pts, CorrectAnswer: "x"})
		}
	}
	qs = append(qs, models.GameQuestion{Points: 1000, CorrectAnswer: "y", IsFinalJeopardy: true})

	s, err := m.CreateGame(context.Background(), CreateGameRequest{
		RoomID:    uuid.New(),
		HostID:    uuid.New(),
		GameType:  models.GameTypeBoard,
		Config:    models.GameConfig{TimeLimitSeconds: 20},
		Questions: qs,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status != models.GameStatusWaiting || s.Config.QuestionCount != len(qs) {
		t.Fatalf("session = %+v", s)
	}

	cells, err := store.FetchBoard(context.Background(), s.ID)
	if err != nil || len(cells) != len(qs) {
		t.Fatalf("board = %d cells, err %v", len(cells), err)
	}
	doubles := 0
	seen := make(map[int]bool)
	for _, cell := range cells {
		q, err := store.FetchQuestionByID(context.Background(), cell.QuestionID)
		if err != nil {
			t.Fatalf("fetch %s: %v", cell.QuestionID, err)
		}
		seen[q.QuestionIndex] = true
		if q.IsDailyDouble {
			doubles++
			if q.QuestionIndex == 0 || q.Points == 200 || q.IsFinalJeopardy {
				t.Fatalf("daily double on question %d (%d points)", q.QuestionIndex, q.Points)
			}
		}
		want := 20
		if q.IsFinalJeopardy {
			want = 60
		}
		if q.TimeLimitSeconds != want {
			t.Fatalf("question %d time limit = %d, want %d", q.QuestionIndex, q.TimeLimitSeconds, want)
		}
	}
	for i := range qs {
		if !seen[i] {
			t.Fatalf("no question at index %d", i)
		}
	}
	if doubles == 0 || doubles > 2 {
		t.Fatalf("daily doubles = %d, want 1 or 2", doubles)
	}
}

func TestCreateGameRejectsBadInput(t *testing.T) {
	store := memstore.New(clockwork.NewRealClock())
	m := NewManager(Deps{Gateway: store}, testConfig())

	if _, err := m.CreateGame(context.Background(), CreateGameRequest{GameType: "trivia_night", Questions: questions(1, 30)}); err == nil {
		t.Fatal("accepted an unknown game type")
	}
	if _, err := m.CreateGame(context.Background(), CreateGameRequest{GameType: models.GameTypeSpeedQuiz}); err == nil {
		t.Fatal("accepted a game without questions")
	}
	if n := store.Calls("CreateSession"); n != 0 {
		t.Fatalf("create calls = %d", n)
	}
}
