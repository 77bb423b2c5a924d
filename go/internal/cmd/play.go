package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/clocksync"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/session"
)

// runPlay joins or hosts one session and drives it from commands read on in.
func runPlay(ctx context.Context, cfg *Config, clock clockwork.Clock, in io.Reader) error {
	userID, err := parseID("play.user_id", cfg.Play.UserID)
	if err != nil {
		return err
	}

	svc, err := setupServices(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer svc.Close()

	gw, err := setupGateway(ctx, cfg, svc)
	if err != nil {
		return err
	}
	svc.Run(ctx)

	syncer := clocksync.NewService(clock, gw, cfg.ClockSync)
	if err := syncer.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("clock sync failed, using the local clock")
	}
	go syncer.Run(ctx)

	bus := eventbus.New()
	manager := session.NewManager(session.Deps{
		Gateway:  gw,
		Bus:      bus,
		Clock:    clock,
		Time:     syncer,
		Renderer: &logRenderer{},
	}, cfg.Session)

	sessionID, err := resolveSession(ctx, cfg, manager, userID)
	if err != nil {
		return err
	}

	name := cfg.Play.DisplayName
	if name == "" {
		name = userID.String()[:8]
	}
	var ctrl *session.Controller
	if cfg.Play.Host {
		ctrl, err = manager.Start(ctx, userID, sessionID)
	} else {
		if err = svc.AddParticipant(ctx, sessionID, userID, name); err != nil {
			return fmt.Errorf("failed to join room: %w", err)
		}
		ctrl, err = manager.Join(ctx, userID, sessionID)
	}
	if err != nil {
		return err
	}
	defer ctrl.Close()

	server := setupServer(cfg.Port, registerState(manager))
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("state server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID.String()).
		Bool("host", cfg.Play.Host).
		Msg("playing; commands: answer <text>, buzz, challenge <text>, select <cell>, exit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ctrl.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := runCommand(ctx, ctrl, line)
			if err != nil {
				log.Warn().Err(err).Str("command", line).Msg("command rejected")
			}
			if quit {
				return nil
			}
		}
	}
}

// resolveSession returns the configured session, creating it first when the host has a create block.
func resolveSession(ctx context.Context, cfg *Config, manager *session.Manager, userID uuid.UUID) (uuid.UUID, error) {
	create := cfg.Play.Create
	if create == nil {
		return parseID("play.session_id", cfg.Play.SessionID)
	}
	if !cfg.Play.Host {
		return uuid.Nil, errors.New("only the host can create a session")
	}

	questions, err := loadQuestions(create.QuestionsFile)
	if err != nil {
		return uuid.Nil, err
	}
	roomID := uuid.New()
	if create.RoomID != "" {
		if roomID, err = parseID("play.create.room_id", create.RoomID); err != nil {
			return uuid.Nil, err
		}
	}
	s, err := manager.CreateGame(ctx, session.CreateGameRequest{
		RoomID:    roomID,
		HostID:    userID,
		GameType:  models.GameType(create.GameType),
		Config:    models.GameConfig{TimeLimitSeconds: create.TimeLimitSeconds},
		Questions: questions,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return s.ID, nil
}

// runCommand applies one input line to the controller. quit is true once the player has left.
func runCommand(ctx context.Context, ctrl *session.Controller, line string) (quit bool, err error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "":
		return false, nil
	case "answer", "a":
		return false, ctrl.SubmitAnswer(arg)
	case "buzz", "b":
		return false, ctrl.Buzz()
	case "challenge", "c":
		return false, ctrl.Challenge(arg)
	case "select", "s":
		id, err := cellID(ctrl, arg)
		if err != nil {
			return false, err
		}
		return false, ctrl.SelectCell(id)
	case "exit", "quit":
		return true, ctrl.Exit(ctx)
	}
	return false, fmt.Errorf("unknown command %q", verb)
}

// cellID accepts a question id or a 1-based position among the unanswered cells.
func cellID(ctrl *session.Controller, arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return uuid.Nil, fmt.Errorf("invalid cell %q", arg)
	}
	view, ok := ctrl.Snapshot()
	if !ok {
		return uuid.Nil, errors.New("board not loaded yet")
	}
	var open []models.BoardCell
	for _, cell := range view.State.Board {
		if !cell.Answered {
			open = append(open, cell)
		}
	}
	if n > len(open) {
		return uuid.Nil, fmt.Errorf("only %d cells are open", len(open))
	}
	return open[n-1].QuestionID, nil
}
