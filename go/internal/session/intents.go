package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/eventbus"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/game"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// registerListeners subscribes the intent handlers. It runs before any notification
// subscription exists so no intent produced by a notification can go unheard. Loop only.
func (c *Controller) registerListeners() {
	handlers := []struct {
		name eventbus.Name
		fn   func(eventbus.Event)
	}{
		{eventbus.AnswerSubmit, c.onAnswerSubmit},
		{eventbus.Challenge, c.onAnswerSubmit},
		{eventbus.Timeout, c.onTimeout},
		{eventbus.NextQuestion, c.onNextQuestion},
		{eventbus.Buzz, c.onBuzz},
		{eventbus.SelectCell, c.onSelectCell},
		{eventbus.TurnResolved, c.onTurnResolved},
		{eventbus.TimerUpdate, c.onTimerUpdate},
		{eventbus.GameOver, c.onGameOver},
	}
	for _, h := range handlers {
		fn := h.fn
		c.listeners = append(c.listeners, c.bus.Subscribe(h.name, func(ev eventbus.Event) {
			if ev.SessionID != c.sessionID {
				return
			}
			c.post(func() {
				if !c.closed {
					fn(ev)
				}
			})
		}))
	}
}

// usable rejects input once the controller is closed or the connection is gone. Loop only.
func (c *Controller) usable() error {
	switch {
	case c.closed || c.mode == nil:
		return ErrClosed
	case c.st.ConnectionLost:
		return ErrConnectionLost
	}
	return nil
}

// act runs a user action against the mode on the loop and re-renders.
func (c *Controller) act(what string, fn func() error) error {
	return c.call(func() error {
		if err := c.usable(); err != nil {
			return err
		}
		var err error
		if perr := c.guard(what, func() { err = fn() }); perr != nil {
			return perr
		}
		c.render()
		return err
	})
}

// SubmitAnswer answers the current question.
func (c *Controller) SubmitAnswer(answer string) error {
	return c.act("answer", func() error { return c.mode.HandleAnswer(answer) })
}

// Buzz claims the buzzer in modes that have one.
func (c *Controller) Buzz() error {
	return c.act("buzz", func() error {
		b, ok := c.mode.(game.Buzzer)
		if !ok {
			return game.ErrNotAllowed
		}
		return b.Buzz()
	})
}

// Challenge submits a spectator challenge in hot seat mode.
func (c *Controller) Challenge(answer string) error {
	return c.act("challenge", func() error {
		ch, ok := c.mode.(game.Challenger)
		if !ok {
			return game.ErrNotAllowed
		}
		return ch.Challenge(answer)
	})
}

// SelectCell opens a board cell.
func (c *Controller) SelectCell(questionID uuid.UUID) error {
	return c.act("select cell", func() error {
		s, ok := c.mode.(game.CellSelector)
		if !ok {
			return game.ErrNotAllowed
		}
		return s.SelectCell(questionID)
	})
}

// deliver hands a controller-originated event to the mode and to bus observers. Loop only.
func (c *Controller) deliver(ev eventbus.Event) {
	if c.closed {
		return
	}
	if ev.UserID == uuid.Nil {
		ev.UserID = c.userID
	}
	ev.SessionID = c.sessionID
	ev.At = c.now.Now()
	_ = c.guard("handle event", func() { c.mode.HandleEvent(ev) })
	c.publish(ev)
	c.render()
}

// onAnswerSubmit sends an answer or challenge exactly once, then asks for the reveal.
func (c *Controller) onAnswerSubmit(ev eventbus.Event) {
	if ev.QuestionID == uuid.Nil {
		return
	}
	if c.submitted[ev.QuestionID] {
		c.logger.Debug().Str("question_id", ev.QuestionID.String()).Msg("ignoring repeat submission")
		return
	}
	if err := c.usable(); err != nil {
		c.deliver(eventbus.Event{Name: eventbus.AnswerFailed, QuestionID: ev.QuestionID, Message: err.Error()})
		return
	}
	c.submitted[ev.QuestionID] = true
	c.commit()

	sub := backend.AnswerSubmission{
		SessionID:         c.sessionID,
		QuestionID:        ev.QuestionID,
		UserID:            c.userID,
		Answer:            ev.Answer,
		TimeTakenMs:       ev.Value,
		IsChallenge:       ev.Flag,
		PointsIfCorrect:   ev.Points,
		PointsIfIncorrect: ev.Penalty,
	}
	c.write("submit answer", func(ctx context.Context) error {
		res, err := c.gw.SubmitAnswer(ctx, sub)
		switch {
		case errors.Is(err, backend.ErrDuplicateSubmission):
			c.post(func() { c.banner("Answer already recorded") })
			return nil
		case err != nil:
			c.post(func() {
				c.deliver(eventbus.Event{Name: eventbus.AnswerFailed, QuestionID: sub.QuestionID, Message: err.Error()})
				c.banner("Your answer could not be sent")
			})
			return fmt.Errorf("submit answer: %w", err)
		}

		c.logger.Info().
			Str("question_id", sub.QuestionID.String()).
			Bool("correct", res.IsCorrect).
			Int("points", res.PointsAwarded).
			Bool("challenge", sub.IsChallenge).
			Msg("answer judged")
		c.post(func() {
			c.deliver(eventbus.Event{
				Name:       eventbus.AnswerResult,
				QuestionID: sub.QuestionID,
				Answer:     sub.Answer,
				Flag:       res.IsCorrect,
				Value:      int64(res.PointsAwarded),
			})
			c.refreshLeaderboard()
			c.fetchReveal(sub.QuestionID)
		})
		return nil
	})
}

// onTimeout asks for the reveal of an expired question.
func (c *Controller) onTimeout(ev eventbus.Event) {
	c.fetchReveal(ev.QuestionID)
}

// fetchReveal reads the correct answer and hands it to the mode. The backend may refuse a
// reveal that arrives a little before it considers the question expired; that gets one more
// try after the settle delay. Loop only.
func (c *Controller) fetchReveal(questionID uuid.UUID) {
	if questionID == uuid.Nil {
		return
	}
	c.goRun(func() {
		read := func() (*backend.Reveal, error) {
			return backend.RetryRead(c.ctx, c.clock, c.cfg.Read, "fetch reveal", func(ctx context.Context) (*backend.Reveal, error) {
				return c.gw.FetchReveal(ctx, c.sessionID, questionID, c.userID)
			})
		}
		r, err := read()
		if errors.Is(err, backend.ErrForbidden) || errors.Is(err, backend.ErrNotFound) {
			if c.sleep(c.ctx, c.cfg.SettleDelay) != nil {
				return
			}
			r, err = read()
		}
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn().Err(err).Str("question_id", questionID.String()).Msg("reveal unavailable")
			}
			return
		}
		c.post(func() {
			c.deliver(eventbus.Event{
				Name:       eventbus.Reveal,
				QuestionID: questionID,
				Answer:     r.CorrectAnswer,
				Message:    r.Explanation,
			})
		})
	})
}

// onNextQuestion advances a sequential session, or completes it after the last question.
func (c *Controller) onNextQuestion(ev eventbus.Event) {
	s := c.st.Session
	if s.Status != models.GameStatusInProgress || ev.Index != s.CurrentQuestionIndex {
		c.logger.Debug().Int("index", ev.Index).Int("current", s.CurrentQuestionIndex).Msg("ignoring stale advance")
		return
	}
	if ev.Index+1 >= s.Config.QuestionCount {
		c.complete(models.GameOutcome{})
		return
	}

	index := ev.Index
	c.write("advance question", func(ctx context.Context) error {
		next, err := c.gw.AdvanceQuestion(ctx, c.sessionID, index)
		if errors.Is(err, backend.ErrConflict) {
			c.logger.Debug().Int("index", index).Msg("question already advanced")
			c.post(c.refreshSession)
			return nil
		}
		if err != nil {
			return fmt.Errorf("advance question: %w", err)
		}
		c.post(func() { c.reconcile(*next, "advance") })
		return nil
	})
}

func (c *Controller) complete(outcome models.GameOutcome) {
	c.write("complete session", func(ctx context.Context) error {
		s, err := c.gw.CompleteSession(ctx, c.sessionID, outcome)
		if errors.Is(err, backend.ErrConflict) {
			c.post(c.refreshSession)
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		c.post(func() { c.reconcile(*s, "complete") })
		return nil
	})
}

// onBuzz claims the buzzer. Losing the race is normal and only shows a banner.
func (c *Controller) onBuzz(ev eventbus.Event) {
	c.write("claim buzzer", func(ctx context.Context) error {
		s, err := c.gw.ClaimBuzzer(ctx, c.sessionID, c.userID)
		if errors.Is(err, backend.ErrConflict) {
			c.post(func() {
				c.banner("Someone else buzzed first")
				c.refreshSession()
			})
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim buzzer: %w", err)
		}
		c.post(func() { c.reconcile(*s, "buzz") })
		return nil
	})
}

func (c *Controller) onSelectCell(ev eventbus.Event) {
	qid := ev.QuestionID
	c.write("select question", func(ctx context.Context) error {
		s, err := c.gw.SelectQuestion(ctx, c.sessionID, qid)
		if errors.Is(err, backend.ErrConflict) {
			c.post(func() {
				c.banner("A question is already open")
				c.refreshSession()
			})
			return nil
		}
		if err != nil {
			return fmt.Errorf("select question: %w", err)
		}
		c.post(func() { c.reconcile(*s, "select") })
		return nil
	})
}

// onTurnResolved passes the turn. Board mode returns to the grid with the next player picked by
// the turn policy; hot seat mode records the new seat holder.
func (c *Controller) onTurnResolved(ev eventbus.Event) {
	switch c.st.Session.GameType {
	case models.GameTypeHotSeat:
		player := ev.UserID
		c.write("set hot seat player", func(ctx context.Context) error {
			s, err := c.gw.SetCurrentPlayer(ctx, c.sessionID, &player)
			if err != nil {
				return fmt.Errorf("set current player: %w", err)
			}
			c.post(func() { c.reconcile(*s, "turn") })
			return nil
		})
	case models.GameTypeBoard:
		c.returnToBoard(ev)
	}
}

func (c *Controller) returnToBoard(ev eventbus.Event) {
	qid := ev.QuestionID
	outcome := game.TurnOutcome{
		Answerer:     ev.UserID,
		Correct:      ev.Flag,
		Participants: append([]models.Participant(nil), c.st.Participants...),
	}
	policy := c.cfg.Game.Turn

	c.write("return to board", func(ctx context.Context) error {
		entries, _, err := c.scores.Refresh(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("leaderboard refresh before turn change failed")
			entries = c.scores.Entries()
		}
		outcome.Leaderboard = entries

		next := policy(outcome)
		if next == uuid.Nil {
			if next, err = c.gw.GetLowestScoringPlayer(ctx, c.sessionID); err != nil {
				return fmt.Errorf("lowest scoring player: %w", err)
			}
		}

		s, err := c.gw.ReturnToBoard(ctx, c.sessionID, qid, next)
		switch {
		case errors.Is(err, backend.ErrConflict):
			c.logger.Debug().Str("question_id", qid.String()).Msg("cell already returned to board")
		case err != nil:
			return fmt.Errorf("return to board: %w", err)
		default:
			c.logger.Info().Str("question_id", qid.String()).Str("next_player", next.String()).Msg("returned to board")
			c.post(func() {
				c.reconcile(*s, "return to board")
				c.st.Leaderboard = entries
				c.commit()
			})
		}

		done, err := c.gw.CheckBoardComplete(ctx, c.sessionID)
		if err != nil {
			return fmt.Errorf("check board complete: %w", err)
		}
		if done {
			c.post(c.onBoardComplete)
		}
		return nil
	})
}

// onBoardComplete moves to the final round once. Without a final question the game simply
// completes. Loop only.
func (c *Controller) onBoardComplete() {
	if c.closed || c.finalRequested || c.st.Session.FinalRound {
		return
	}
	c.finalRequested = true
	c.publish(eventbus.Event{Name: eventbus.BoardComplete})

	c.write("advance to final round", func(ctx context.Context) error {
		s, err := c.gw.AdvanceToFinalRound(ctx, c.sessionID)
		if err != nil {
			c.post(func() { c.finalRequested = false })
			return fmt.Errorf("advance to final round: %w", err)
		}
		c.post(func() {
			c.reconcile(*s, "final round")
			if s.SelectedQuestionID == nil && s.Status == models.GameStatusInProgress {
				c.complete(models.GameOutcome{})
			}
		})
		return nil
	})
}

func (c *Controller) onTimerUpdate(ev eventbus.Event) {
	remaining := ev.Value
	c.write("update team timer", func(ctx context.Context) error {
		s, err := c.gw.UpdateTeamTimer(ctx, c.sessionID, remaining)
		if err != nil {
			return fmt.Errorf("update team timer: %w", err)
		}
		c.post(func() { c.reconcile(*s, "team timer") })
		return nil
	})
}

func (c *Controller) onGameOver(ev eventbus.Event) {
	if c.st.Session.Status.Terminal() {
		return
	}
	var outcome models.GameOutcome
	if c.st.Session.GameType == models.GameTypeTeamTimer {
		won := ev.Flag
		outcome.TeamWon = &won
	}
	c.complete(outcome)
}
