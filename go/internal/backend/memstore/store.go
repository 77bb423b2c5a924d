// Package memstore is an in-process implementation of the backend gateway. It backs local
// single-process play and the session tests; failure injection hooks simulate an unreliable backend.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/leaderboard"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

type sessionRecord struct {
	session      models.GameSession
	questions    []uuid.UUID
	participants []models.Participant
	scores       []models.PlayerScore
	played       map[uuid.UUID]bool
}

// Store implements backend.Gateway in memory.
type Store struct {
	clock clockwork.Clock

	mu        sync.Mutex
	sessions  map[uuid.UUID]*sessionRecord
	questions map[uuid.UUID]models.GameQuestion
	subs      map[int]*subscription
	nextSubID int

	failures    map[string][]error
	calls       map[string]int
	dropPush    bool
	onSubscribe func(kind string, sessionID uuid.UUID)
	serverSkew  time.Duration

	// serializes notification delivery so subscribers see writes in commit order
	notifyMu sync.Mutex
}

var _ backend.Gateway = (*Store)(nil)

func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:     clock,
		sessions:  make(map[uuid.UUID]*sessionRecord),
		questions: make(map[uuid.UUID]models.GameQuestion),
		subs:      make(map[int]*subscription),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
	}
}

// FailNext queues errors returned by the next calls to op (a method name such as "FetchSession"
// or "Subscribe").
func (s *Store) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// Calls reports how many times op was invoked, including failed calls.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// DropNotifications makes writes stop pushing to subscribers while on.
func (s *Store) DropNotifications(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPush = on
}

// OnSubscribe installs a hook that runs inside every successful subscription call.
func (s *Store) OnSubscribe(fn func(kind string, sessionID uuid.UUID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubscribe = fn
}

// SetServerSkew shifts ServerTime relative to the store clock.
func (s *Store) SetServerSkew(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverSkew = d
}

// AddParticipant simulates a user joining the room that hosts the session.
func (s *Store) AddParticipant(sessionID uuid.UUID, userID uuid.UUID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return backend.ErrNotFound
	}
	for _, p := range rec.participants {
		if p.UserID == userID {
			return nil
		}
	}
	rec.participants = append(rec.participants, models.Participant{
		UserID:      userID,
		DisplayName: displayName,
		IsHost:      userID == rec.session.HostID,
		JoinOrder:   len(rec.participants),
		JoinedAt:    s.clock.Now(),
	})
	return nil
}

// Scores returns the persisted score rows of a session.
func (s *Store) Scores(sessionID uuid.UUID) []models.PlayerScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]models.PlayerScore, len(rec.scores))
	copy(out, rec.scores)
	return out
}

// Session returns the stored session row without going through the request path.
func (s *Store) Session(sessionID uuid.UUID) (models.GameSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return models.GameSession{}, false
	}
	return rec.session, true
}

// enter counts the call and pops an injected failure. Caller holds s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	queued := s.failures[op]
	if len(queued) == 0 {
		return nil
	}
	s.failures[op] = queued[1:]
	return queued[0]
}

func (s *Store) record(sessionID uuid.UUID) (*sessionRecord, error) {
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, backend.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ServerTime"); err != nil {
		return time.Time{}, err
	}
	return s.clock.Now().Add(s.serverSkew), nil
}

func (s *Store) CreateSession(ctx context.Context, req backend.CreateSessionRequest) (*models.GameSession, error) {
	if !req.GameType.Valid() {
		return nil, fmt.Errorf("invalid game type %q", req.GameType)
	}

	s.mu.Lock()
	if err := s.enter("CreateSession"); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := s.clock.Now()
	id := uuid.New()
	rec := &sessionRecord{
		session: models.GameSession{
			ID:        id,
			RoomID:    req.RoomID,
			HostID:    req.HostID,
			GameType:  req.GameType,
			Status:    models.GameStatusWaiting,
			Config:    req.Config,
			CreatedAt: now,
			UpdatedAt: now,
		},
		participants: []models.Participant{{
			UserID:    req.HostID,
			IsHost:    true,
			JoinOrder: 0,
			JoinedAt:  now,
		}},
		played: make(map[uuid.UUID]bool),
	}

	inserted := make([]models.GameQuestion, 0, len(req.Questions))
	for _, q := range req.Questions {
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.GameSessionID = id
		q.CreatedAt = now
		s.questions[q.ID] = q
		rec.questions = append(rec.questions, q.ID)
		inserted = append(inserted, q)
	}
	if rec.session.Config.QuestionCount == 0 {
		rec.session.Config.QuestionCount = len(inserted)
	}
	s.sessions[id] = rec
	out := rec.session

	deliveries := s.collect(id, kindQuestions)
	s.notifyMu.Lock()
	s.mu.Unlock()
	for _, q := range inserted {
		deliver(deliveries, backend.QuestionInsert{Question: stripAnswer(q)})
	}
	s.notifyMu.Unlock()

	return &out, nil
}

func (s *Store) FetchSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FetchSession"); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	out := rec.session
	return &out, nil
}

// update applies fn to a session under the lock and pushes the new row to session subscribers.
func (s *Store) update(op string, sessionID uuid.UUID, fn func(rec *sessionRecord, now time.Time) error) (*models.GameSession, error) {
	s.mu.Lock()
	if err := s.enter(op); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := s.clock.Now()
	before := rec.session
	if err := fn(rec, now); err != nil {
		rec.session = before
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rec.session.UpdatedAt = now
	out := rec.session

	deliveries := s.collect(sessionID, kindSession)
	s.notifyMu.Lock()
	s.mu.Unlock()
	deliver(deliveries, backend.SessionChange{Session: out})
	s.notifyMu.Unlock()

	log.Debug().Str("op", op).Str("session_id", sessionID.String()).Str("status", string(out.Status)).Msg("memstore session updated")
	return &out, nil
}

func transition(rec *sessionRecord, next models.GameStatus) error {
	if err := rec.session.Status.Transition(next); err != nil {
		return fmt.Errorf("%w: %w", backend.ErrConflict, err)
	}
	rec.session.Status = next
	return nil
}

func requireInProgress(rec *sessionRecord) error {
	if rec.session.Status != models.GameStatusInProgress {
		return fmt.Errorf("session is %s: %w", rec.session.Status, backend.ErrConflict)
	}
	return nil
}

func (s *Store) StartSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return s.update("StartSession", sessionID, func(rec *sessionRecord, now time.Time) error {
		if err := transition(rec, models.GameStatusInProgress); err != nil {
			return err
		}
		rec.session.CurrentQuestionIndex = 0
		rec.session.QuestionStartedAt = &now
		switch rec.session.GameType {
		case models.GameTypeBoard, models.GameTypeHotSeat:
			host := rec.session.HostID
			rec.session.CurrentPlayerID = &host
		}
		if rec.session.GameType == models.GameTypeBoard {
			rec.session.QuestionStartedAt = nil
		}
		return nil
	})
}

func (s *Store) AdvanceQuestion(ctx context.Context, sessionID uuid.UUID, expectedIndex int) (*models.GameSession, error) {
	return s.update("AdvanceQuestion", sessionID, func(rec *sessionRecord, now time.Time) error {
		if err := requireInProgress(rec); err != nil {
			return err
		}
		if !rec.session.GameType.Sequential() {
			return fmt.Errorf("board sessions do not advance by index: %w", backend.ErrConflict)
		}
		if rec.session.CurrentQuestionIndex != expectedIndex {
			return fmt.Errorf("index is %d, expected %d: %w", rec.session.CurrentQuestionIndex, expectedIndex, backend.ErrConflict)
		}
		if expectedIndex+1 >= rec.session.Config.QuestionCount {
			return fmt.Errorf("no question after index %d: %w", expectedIndex, backend.ErrConflict)
		}
		rec.session.CurrentQuestionIndex = expectedIndex + 1
		rec.session.QuestionStartedAt = &now
		if rec.session.GameType != models.GameTypeHotSeat {
			rec.session.CurrentPlayerID = nil
		}
		return nil
	})
}

func (s *Store) CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome models.GameOutcome) (*models.GameSession, error) {
	return s.update("CompleteSession", sessionID, func(rec *sessionRecord, now time.Time) error {
		if rec.session.Status == models.GameStatusCompleted {
			return nil
		}
		if err := transition(rec, models.GameStatusCompleted); err != nil {
			return err
		}
		rec.session.Outcome = outcome
		return nil
	})
}

func (s *Store) CancelSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return s.update("CancelSession", sessionID, func(rec *sessionRecord, now time.Time) error {
		if rec.session.Status == models.GameStatusCancelled {
			return nil
		}
		return transition(rec, models.GameStatusCancelled)
	})
}

func stripAnswer(q models.GameQuestion) models.GameQuestion {
	q.CorrectAnswer = ""
	q.Explanation = ""
	return q
}

func (s *Store) FetchQuestionByIndex(ctx context.Context, sessionID uuid.UUID, index int) (*models.GameQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FetchQuestionByIndex"); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	for _, id := range rec.questions {
		q := s.questions[id]
		if q.QuestionIndex == index && !q.IsFinalJeopardy {
			out := stripAnswer(q)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("question %d of session %s: %w", index, sessionID, backend.ErrNotFound)
}

func (s *Store) FetchQuestionByID(ctx context.Context, questionID uuid.UUID) (*models.GameQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FetchQuestionByID"); err != nil {
		return nil, err
	}
	q, ok := s.questions[questionID]
	if !ok {
		return nil, fmt.Errorf("question %s: %w", questionID, backend.ErrNotFound)
	}
	out := stripAnswer(q)
	return &out, nil
}

func (s *Store) FetchParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FetchParticipants"); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Participant, len(rec.participants))
	copy(out, rec.participants)
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out, nil
}

func (s *Store) FetchLeaderboard(ctx context.Context, sessionID uuid.UUID) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FetchLeaderboard"); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	return leaderboard.Build(rec.participants, rec.scores), nil
}

func (s *Store) SubmitAnswer(ctx context.Context, sub backend.AnswerSubmission) (*backend.SubmissionResult, error) {
	s.mu.Lock()
	if err := s.enter("SubmitAnswer"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec, err := s.record(sub.SessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := requireInProgress(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	q, ok := s.questions[sub.QuestionID]
	if !ok || q.GameSessionID != sub.SessionID {
		s.mu.Unlock()
		return nil, fmt.Errorf("question %s: %w", sub.QuestionID, backend.ErrNotFound)
	}

	for _, existing := range rec.scores {
		if existing.QuestionID == sub.QuestionID && existing.UserID == sub.UserID {
			s.mu.Unlock()
			return &backend.SubmissionResult{IsCorrect: existing.IsCorrect, PointsAwarded: existing.Points, Duplicate: true}, nil
		}
	}

	correct := backend.Judge(q.CorrectAnswer, sub.Answer)
	points := sub.PointsIfIncorrect
	if correct {
		points = sub.PointsIfCorrect
	}
	score := models.PlayerScore{
		ID:            uuid.New(),
		GameSessionID: sub.SessionID,
		QuestionID:    sub.QuestionID,
		UserID:        sub.UserID,
		Answer:        sub.Answer,
		IsCorrect:     correct,
		IsChallenge:   sub.IsChallenge,
		Points:        points,
		TimeTakenMs:   sub.TimeTakenMs,
		AnsweredAt:    s.clock.Now(),
	}
	rec.scores = append(rec.scores, score)

	deliveries := s.collect(sub.SessionID, kindScores)
	s.notifyMu.Lock()
	s.mu.Unlock()
	deliver(deliveries, backend.ScoreInsert{Score: score})
	s.notifyMu.Unlock()

	return &backend.SubmissionResult{IsCorrect: correct, PointsAwarded: points}, nil
}

func (s *Store) FetchReveal(ctx context.Context, sessionID, questionID, userID uuid.UUID) (*backend.Reveal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FetchReveal"); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	q, ok := s.questions[questionID]
	if !ok || q.GameSessionID != sessionID {
		return nil, fmt.Errorf("question %s: %w", questionID, backend.ErrNotFound)
	}
	if !s.revealAllowed(rec, q, userID) {
		return nil, fmt.Errorf("reveal of %s before answer or expiry: %w", questionID, backend.ErrForbidden)
	}
	return &backend.Reveal{QuestionID: q.ID, CorrectAnswer: q.CorrectAnswer, Explanation: q.Explanation}, nil
}

func (s *Store) revealAllowed(rec *sessionRecord, q models.GameQuestion, userID uuid.UUID) bool {
	if rec.session.Status.Terminal() {
		return true
	}
	for _, sc := range rec.scores {
		if sc.QuestionID == q.ID && sc.UserID == userID {
			return true
		}
	}
	if rec.session.GameType.Sequential() {
		if q.QuestionIndex < rec.session.CurrentQuestionIndex {
			return true
		}
	} else if rec.played[q.ID] && (rec.session.SelectedQuestionID == nil || *rec.session.SelectedQuestionID != q.ID) {
		return true
	}
	started := rec.session.QuestionStartedAt
	return started != nil && !s.clock.Now().Before(started.Add(q.TimeLimit()))
}

func (s *Store) FetchBoard(ctx context.Context, sessionID uuid.UUID) ([]models.BoardCell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FetchBoard"); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	cells := make([]models.BoardCell, 0, len(rec.questions))
	for _, id := range rec.questions {
		q := s.questions[id]
		cells = append(cells, models.BoardCell{
			QuestionID:     q.ID,
			Category:       q.QuestionData.Category,
			ColumnPosition: q.ColumnPosition,
			Points:         q.Points,
			Answered:       rec.played[q.ID],
			IsFinal:        q.IsFinalJeopardy,
		})
	}
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].ColumnPosition != cells[j].ColumnPosition {
			return cells[i].ColumnPosition < cells[j].ColumnPosition
		}
		return cells[i].Points < cells[j].Points
	})
	return cells, nil
}

func (s *Store) SelectQuestion(ctx context.Context, sessionID, questionID uuid.UUID) (*models.GameSession, error) {
	return s.update("SelectQuestion", sessionID, func(rec *sessionRecord, now time.Time) error {
		if err := requireInProgress(rec); err != nil {
			return err
		}
		if rec.session.SelectedQuestionID != nil {
			return fmt.Errorf("question %s already open: %w", *rec.session.SelectedQuestionID, backend.ErrConflict)
		}
		q, ok := s.questions[questionID]
		if !ok || q.GameSessionID != sessionID {
			return fmt.Errorf("question %s: %w", questionID, backend.ErrNotFound)
		}
		if rec.played[questionID] {
			return fmt.Errorf("question %s already played: %w", questionID, backend.ErrConflict)
		}
		rec.played[questionID] = true
		rec.session.SelectedQuestionID = &questionID
		rec.session.CurrentPlayerID = nil
		rec.session.QuestionStartedAt = &now
		return nil
	})
}

func (s *Store) ReturnToBoard(ctx context.Context, sessionID, questionID, nextPlayer uuid.UUID) (*models.GameSession, error) {
	return s.update("ReturnToBoard", sessionID, func(rec *sessionRecord, now time.Time) error {
		if err := requireInProgress(rec); err != nil {
			return err
		}
		sel := rec.session.SelectedQuestionID
		if sel == nil || *sel != questionID {
			return fmt.Errorf("question %s is not open: %w", questionID, backend.ErrConflict)
		}
		rec.session.SelectedQuestionID = nil
		rec.session.QuestionStartedAt = nil
		rec.session.CurrentPlayerID = &nextPlayer
		return nil
	})
}

func (s *Store) SetCurrentPlayer(ctx context.Context, sessionID uuid.UUID, userID *uuid.UUID) (*models.GameSession, error) {
	return s.update("SetCurrentPlayer", sessionID, func(rec *sessionRecord, now time.Time) error {
		if userID == nil {
			rec.session.CurrentPlayerID = nil
			return nil
		}
		id := *userID
		rec.session.CurrentPlayerID = &id
		return nil
	})
}

func (s *Store) ClaimBuzzer(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error) {
	return s.update("ClaimBuzzer", sessionID, func(rec *sessionRecord, now time.Time) error {
		if err := requireInProgress(rec); err != nil {
			return err
		}
		if rec.session.GameType == models.GameTypeBoard && rec.session.SelectedQuestionID == nil {
			return fmt.Errorf("no open question: %w", backend.ErrConflict)
		}
		if cur := rec.session.CurrentPlayerID; cur != nil {
			if *cur == userID {
				return nil
			}
			return fmt.Errorf("buzzer held by %s: %w", *cur, backend.ErrConflict)
		}
		rec.session.CurrentPlayerID = &userID
		return nil
	})
}

func (s *Store) GetLowestScoringPlayer(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetLowestScoringPlayer"); err != nil {
		return uuid.Nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return uuid.Nil, err
	}
	id, ok := leaderboard.LowestScorer(leaderboard.Build(rec.participants, rec.scores))
	if !ok {
		return uuid.Nil, fmt.Errorf("session %s has no participants: %w", sessionID, backend.ErrNotFound)
	}
	return id, nil
}

func (s *Store) CheckBoardComplete(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CheckBoardComplete"); err != nil {
		return false, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return false, err
	}
	for _, id := range rec.questions {
		if !s.questions[id].IsFinalJeopardy && !rec.played[id] {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) AdvanceToFinalRound(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return s.update("AdvanceToFinalRound", sessionID, func(rec *sessionRecord, now time.Time) error {
		if err := requireInProgress(rec); err != nil {
			return err
		}
		if rec.session.FinalRound {
			return nil
		}
		rec.session.FinalRound = true
		rec.session.CurrentPlayerID = nil
		rec.session.SelectedQuestionID = nil
		rec.session.QuestionStartedAt = nil
		for _, id := range rec.questions {
			if s.questions[id].IsFinalJeopardy {
				final := id
				rec.played[id] = true
				rec.session.SelectedQuestionID = &final
				rec.session.QuestionStartedAt = &now
				break
			}
		}
		return nil
	})
}

func (s *Store) UpdateTeamTimer(ctx context.Context, sessionID uuid.UUID, remainingMs int64) (*models.GameSession, error) {
	return s.update("UpdateTeamTimer", sessionID, func(rec *sessionRecord, now time.Time) error {
		if rec.session.GameType != models.GameTypeTeamTimer {
			return errors.New("team timer on a non team-timer session")
		}
		if remainingMs < 0 {
			remainingMs = 0
		}
		rec.session.TeamTimerRemainingMs = &remainingMs
		rec.session.TeamTimerUpdatedAt = &now
		return nil
	})
}
