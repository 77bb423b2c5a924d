package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/game"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := defaultConfig()
	if diff := cmp.Diff(want.Backend.Kind, cfg.Backend.Kind); diff != "" {
		t.Errorf("backend kind (-want +got):\n%s", diff)
	}
	if cfg.Feed.Kind != feedBuiltin || cfg.Port != "8080" || cfg.Session.SettleDelay != want.Session.SettleDelay {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeFile(t, "quizsync.yaml", `
log_level: debug
backend:
  kind: http
  url: http://backend:8080
  redis:
    submit_ttl: 1h
feed:
  kind: websocket
session:
  settle_delay: 250ms
  reconnect:
    max_attempts: 3
clock_sync:
  samples_per_probe: 5
play:
  user_id: 5b0c3a2e-3f38-4d0a-9d4e-8a8b3a1f6c11
`)
	t.Setenv("PORT", "9090")
	t.Setenv("QUIZSYNC_HOST", "true")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Port != "9090" || !cfg.Play.Host {
		t.Errorf("top level = %q %q %v", cfg.LogLevel, cfg.Port, cfg.Play.Host)
	}
	if cfg.Backend.Kind != backendHTTP || cfg.Backend.URL != "http://backend:8080" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.Redis.SubmitTTL != time.Hour {
		t.Errorf("submit ttl = %v", cfg.Backend.Redis.SubmitTTL)
	}
	if cfg.Session.SettleDelay != 250*time.Millisecond || cfg.Session.Reconnect.MaxAttempts != 3 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.ClockSync.SamplesPerProbe != 5 || cfg.ClockSync.MaxSamples != 16 {
		t.Errorf("clock sync = %+v", cfg.ClockSync)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "backend:\n  kind: sqlite\n"},
		{"http without url", "backend:\n  kind: http\nfeed:\n  kind: nats\n"},
		{"http with builtin feed", "backend:\n  kind: http\n  url: http://x\n"},
		{"unknown feed", "feed:\n  kind: kafka\n"},
		{"bad game type", "play:\n  create:\n    game_type: CHESS\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeFile(t, "c.yaml", tt.yaml)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadQuestions(t *testing.T) {
	path := writeFile(t, "questions.yaml", `
questions:
  - prompt: Capital of France?
    options: [Paris, Rome]
    category: Geography
    answer: Paris
    points: 200
    column: 1
  - prompt: Largest planet?
    answer: Jupiter
    final: true
`)
	qs, err := loadQuestions(path)
	if err != nil {
		t.Fatalf("loadQuestions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("got %d questions", len(qs))
	}
	want := models.QuestionData{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, Category: "Geography"}
	if diff := cmp.Diff(want, qs[0].QuestionData); diff != "" {
		t.Errorf("question data (-want +got):\n%s", diff)
	}
	if qs[0].CorrectAnswer != "Paris" || qs[0].Points != 200 || qs[0].ColumnPosition != 1 {
		t.Errorf("first question = %+v", qs[0])
	}
	if !qs[1].IsFinalJeopardy || qs[0].ID == qs[1].ID {
		t.Errorf("second question = %+v", qs[1])
	}

	if _, err := loadQuestions(writeFile(t, "bad.yaml", "questions:\n  - prompt: no answer\n")); err == nil {
		t.Error("expected an error for a question without an answer")
	}
}

func TestParseID(t *testing.T) {
	id := uuid.New()
	if got, err := parseID("x", id.String()); err != nil || got != id {
		t.Errorf("parseID = %v, %v", got, err)
	}
	if _, err := parseID("x", ""); err == nil {
		t.Error("expected an error for an empty id")
	}
	if _, err := parseID("x", "nope"); err == nil {
		t.Error("expected an error for a malformed id")
	}
}

func TestNewStateResponse(t *testing.T) {
	sessionID := uuid.New()
	q := &models.GameQuestion{ID: uuid.New(), QuestionData: models.QuestionData{Prompt: "p"}}
	cells := []models.BoardCell{{QuestionID: q.ID, Points: 100}}
	view := game.View{
		State: game.State{
			Session:         models.GameSession{ID: sessionID, GameType: models.GameTypeBoard, Status: models.GameStatusInProgress},
			CurrentQuestion: q,
			Board:           cells,
		},
		Phase:         game.PhaseWaitingForInput,
		TimeRemaining: 1500 * time.Millisecond,
		Board:         &game.BoardView{BuzzerOpen: true},
	}

	got := newStateResponse(view)
	if got.SessionID != sessionID || got.Phase != game.PhaseWaitingForInput || got.TimeRemainingMs != 1500 {
		t.Errorf("state = %+v", got)
	}
	if diff := cmp.Diff(cells, got.Board); diff != "" {
		t.Errorf("board (-want +got):\n%s", diff)
	}
	if got.BoardTurn == nil || !got.BoardTurn.BuzzerOpen || got.Speed != nil {
		t.Errorf("mode views = %+v %+v", got.BoardTurn, got.Speed)
	}
}
