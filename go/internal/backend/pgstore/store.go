// Package pgstore is the Postgres backend: conditional writes through a pgx pool and
// LISTEN/NOTIFY change feeds through lib/pq.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/leaderboard"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/sqlutil"
)

//go:embed schema.sql
var schema string

// Store implements backend.Requester on Postgres. Every state change is a single conditional
// statement or transaction, so racing clients converge on the row.
type Store struct {
	pool *pgxpool.Pool
	q    *queries
}

var _ backend.Requester = (*Store)(nil)

// New connects a pool to dsn and pings it.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewWithPool(pool), nil
}

func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: newQueries(pool)}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Conn().PgConn().Exec(ctx, schema).ReadAll(); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("quiz schema applied")
	return nil
}

// resolve turns a conditional write that matched no row into ErrNotFound or ErrConflict.
func (s *Store) resolve(ctx context.Context, op string, sessionID uuid.UUID, err error) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM game_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	if !exists {
		return fmt.Errorf("%s: session %s: %w", op, sessionID, backend.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, backend.ErrConflict)
}

// conditional runs an UPDATE ... RETURNING on the session row.
func (s *Store) conditional(ctx context.Context, op string, sessionID uuid.UUID, query string, args ...any) (*models.GameSession, error) {
	sess, err := s.q.session(ctx, query, args...)
	if err != nil {
		return nil, s.resolve(ctx, op, sessionID, err)
	}
	log.Debug().Str("op", op).Str("session_id", sessionID.String()).Str("status", string(sess.Status)).Msg("session updated")
	return sess, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, backend.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, classify(err))
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", classify(err))
	}
	return now, nil
}

func (s *Store) CreateSession(ctx context.Context, req backend.CreateSessionRequest) (*models.GameSession, error) {
	if !req.GameType.Valid() {
		return nil, fmt.Errorf("invalid game type %q", req.GameType)
	}
	cfg := req.Config
	if cfg.QuestionCount == 0 {
		cfg.QuestionCount = len(req.Questions)
	}
	config, err := sqlutil.ToNullJSON(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal game config: %w", err)
	}

	id := uuid.New()
	var created *models.GameSession
	err = sqlutil.Run(ctx, s.pool, withTx, func(q *queries) error {
		sess, err := q.session(ctx, `
			INSERT INTO game_sessions (id, room_id, host_id, game_type, config)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+sessionColumns,
			id, req.RoomID, req.HostID, string(req.GameType), sqlutil.JSONArg(config))
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		if _, err := q.db.Exec(ctx, `
			INSERT INTO game_participants (game_session_id, user_id, join_order)
			VALUES ($1, $2, 0)`, id, req.HostID); err != nil {
			return fmt.Errorf("failed to insert host: %w", err)
		}
		for _, qn := range req.Questions {
			if err := q.insertQuestion(ctx, id, qn); err != nil {
				return fmt.Errorf("failed to insert question %d: %w", qn.QuestionIndex, err)
			}
		}
		created = sess
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", classify(err))
	}

	log.Info().
		Str("session_id", id.String()).
		Str("game_type", string(req.GameType)).
		Int("questions", len(req.Questions)).
		Msg("session created")
	return created, nil
}

// AddParticipant appends userID to the session's join order. Rejoining is a no-op.
func (s *Store) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, displayName string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO game_participants (game_session_id, user_id, display_name, join_order)
		SELECT $1, $2, $3, COALESCE(MAX(join_order), -1) + 1
		FROM game_participants
		WHERE game_session_id = $1
		ON CONFLICT (game_session_id, user_id) DO NOTHING`,
		sessionID, userID, displayName)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", classify(err))
	}
	if tag.RowsAffected() == 1 {
		log.Info().Str("session_id", sessionID.String()).Str("user_id", userID.String()).Msg("participant joined")
	}
	return nil
}

func (s *Store) FetchSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	sess, err := s.q.session(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return nil, notFound("session "+sessionID.String(), err)
	}
	return sess, nil
}

func (s *Store) StartSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return s.conditional(ctx, "StartSession", sessionID, `
		UPDATE game_sessions SET
		  status = 'in_progress',
		  current_question_index = 0,
		  question_started_at = CASE WHEN game_type = 'BOARD' THEN NULL ELSE clock_timestamp() END,
		  current_player_id = CASE WHEN game_type IN ('BOARD', 'HOT_SEAT') THEN host_id ELSE NULL END,
		  updated_at = clock_timestamp()
		WHERE id = $1 AND status = 'waiting'
		RETURNING `+sessionColumns, sessionID)
}

func (s *Store) AdvanceQuestion(ctx context.Context, sessionID uuid.UUID, expectedIndex int) (*models.GameSession, error) {
	return s.conditional(ctx, "AdvanceQuestion", sessionID, `
		UPDATE game_sessions SET
		  current_question_index = current_question_index + 1,
		  question_started_at = clock_timestamp(),
		  current_player_id = CASE WHEN game_type = 'HOT_SEAT' THEN current_player_id ELSE NULL END,
		  updated_at = clock_timestamp()
		WHERE id = $1
		  AND status = 'in_progress'
		  AND game_type <> 'BOARD'
		  AND current_question_index = $2
		  AND $2 + 1 < (config->>'question_count')::int
		RETURNING `+sessionColumns, sessionID, expectedIndex)
}

func (s *Store) CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome models.GameOutcome) (*models.GameSession, error) {
	raw, err := sqlutil.ToNullJSON(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return s.conditional(ctx, "CompleteSession", sessionID, `
		UPDATE game_sessions SET status = 'completed', outcome = $2, updated_at = clock_timestamp()
		WHERE id = $1 AND status IN ('waiting', 'in_progress')
		RETURNING `+sessionColumns, sessionID, sqlutil.JSONArg(raw))
}

func (s *Store) CancelSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return s.conditional(ctx, "CancelSession", sessionID, `
		UPDATE game_sessions SET status = 'cancelled', updated_at = clock_timestamp()
		WHERE id = $1 AND status IN ('waiting', 'in_progress')
		RETURNING `+sessionColumns, sessionID)
}

func (s *Store) FetchQuestionByIndex(ctx context.Context, sessionID uuid.UUID, index int) (*models.GameQuestion, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx, `
		SELECT `+questionColumns+` FROM game_questions
		WHERE game_session_id = $1 AND question_index = $2 AND NOT is_final_jeopardy`, sessionID, index))
	if err != nil {
		return nil, notFound(fmt.Sprintf("question %d of session %s", index, sessionID), err)
	}
	return q, nil
}

func (s *Store) FetchQuestionByID(ctx context.Context, questionID uuid.UUID) (*models.GameQuestion, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM game_questions WHERE id = $1`, questionID))
	if err != nil {
		return nil, notFound("question "+questionID.String(), err)
	}
	return q, nil
}

// FetchScore reads one score row back for the notification feed.
func (s *Store) FetchScore(ctx context.Context, scoreID uuid.UUID) (*models.PlayerScore, error) {
	sc, err := scanScore(s.pool.QueryRow(ctx, `SELECT `+scoreColumns+` FROM player_scores WHERE id = $1`, scoreID))
	if err != nil {
		return nil, notFound("score "+scoreID.String(), err)
	}
	return sc, nil
}

func (s *Store) FetchParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	out, err := s.q.participants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch participants: %w", classify(err))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("participants of session %s: %w", sessionID, backend.ErrNotFound)
	}
	return out, nil
}

func (s *Store) FetchLeaderboard(ctx context.Context, sessionID uuid.UUID) ([]models.LeaderboardEntry, error) {
	participants, err := s.FetchParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	scores, err := s.q.scores(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scores: %w", classify(err))
	}
	return leaderboard.Build(participants, scores), nil
}

// SubmitAnswer judges and records the answer. The unique (session, question, user) key makes a
// repeat return the stored verdict instead of a second row.
func (s *Store) SubmitAnswer(ctx context.Context, sub backend.AnswerSubmission) (*backend.SubmissionResult, error) {
	var result backend.SubmissionResult
	err := sqlutil.Run(ctx, s.pool, withTx, func(q *queries) error {
		var correctAnswer, status string
		err := q.db.QueryRow(ctx, `
			SELECT q.correct_answer, s.status
			FROM game_questions q
			JOIN game_sessions s ON s.id = q.game_session_id
			WHERE q.id = $1 AND q.game_session_id = $2`, sub.QuestionID, sub.SessionID).Scan(&correctAnswer, &status)
		if err != nil {
			return notFound("question "+sub.QuestionID.String(), err)
		}
		if models.GameStatus(status) != models.GameStatusInProgress {
			return fmt.Errorf("session is %s: %w", status, backend.ErrConflict)
		}

		correct := backend.Judge(correctAnswer, sub.Answer)
		points := sub.PointsIfIncorrect
		if correct {
			points = sub.PointsIfCorrect
		}
		tag, err := q.db.Exec(ctx, `
			INSERT INTO player_scores (
			  id, game_session_id, question_id, user_id, answer, is_correct, is_challenge, points, time_taken_ms
			) VALUES (
			  $1,$2,$3,$4,$5,$6,$7,$8,$9
			)
			ON CONFLICT (game_session_id, question_id, user_id) DO NOTHING`,
			uuid.New(), sub.SessionID, sub.QuestionID, sub.UserID, sub.Answer, correct, sub.IsChallenge, points, sub.TimeTakenMs)
		if err != nil {
			return fmt.Errorf("failed to insert score: %w", classify(err))
		}
		if tag.RowsAffected() == 1 {
			result = backend.SubmissionResult{IsCorrect: correct, PointsAwarded: points}
			return nil
		}

		result.Duplicate = true
		return q.db.QueryRow(ctx, `
			SELECT is_correct, points FROM player_scores
			WHERE game_session_id = $1 AND question_id = $2 AND user_id = $3`,
			sub.SessionID, sub.QuestionID, sub.UserID).Scan(&result.IsCorrect, &result.PointsAwarded)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit answer: %w", classify(err))
	}
	return &result, nil
}

// FetchReveal releases the answer once the user submitted, the question moved on, the timer ran
// out or the game ended.
func (s *Store) FetchReveal(ctx context.Context, sessionID, questionID, userID uuid.UUID) (*backend.Reveal, error) {
	var (
		r       = backend.Reveal{QuestionID: questionID}
		allowed bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT q.correct_answer, COALESCE(q.explanation, ''),
		  s.status IN ('completed', 'cancelled')
		  OR EXISTS (SELECT 1 FROM player_scores p WHERE p.question_id = q.id AND p.user_id = $3)
		  OR (s.game_type <> 'BOARD' AND q.question_index < s.current_question_index)
		  OR (s.game_type = 'BOARD' AND q.played AND s.selected_question_id IS DISTINCT FROM q.id)
		  OR (s.question_started_at IS NOT NULL
		      AND clock_timestamp() >= s.question_started_at + make_interval(secs => q.time_limit_seconds))
		FROM game_questions q
		JOIN game_sessions s ON s.id = q.game_session_id
		WHERE q.id = $2 AND s.id = $1`, sessionID, questionID, userID).Scan(&r.CorrectAnswer, &r.Explanation, &allowed)
	if err != nil {
		return nil, notFound("question "+questionID.String(), err)
	}
	if !allowed {
		return nil, fmt.Errorf("reveal of %s before answer or expiry: %w", questionID, backend.ErrForbidden)
	}
	return &r, nil
}

func (s *Store) FetchBoard(ctx context.Context, sessionID uuid.UUID) ([]models.BoardCell, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(question_data->>'category', ''), column_position, points, played, is_final_jeopardy
		FROM game_questions
		WHERE game_session_id = $1
		ORDER BY column_position, points, question_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch board: %w", classify(err))
	}
	defer rows.Close()

	var cells []models.BoardCell
	for rows.Next() {
		var c models.BoardCell
		if err := rows.Scan(&c.QuestionID, &c.Category, &c.ColumnPosition, &c.Points, &c.Answered, &c.IsFinal); err != nil {
			return nil, fmt.Errorf("failed to scan board cell: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch board: %w", classify(err))
	}
	return cells, nil
}

// SelectQuestion opens a cell and the buzzer. The session and the cell are claimed together.
func (s *Store) SelectQuestion(ctx context.Context, sessionID, questionID uuid.UUID) (*models.GameSession, error) {
	var out *models.GameSession
	err := sqlutil.Run(ctx, s.pool, withTx, func(q *queries) error {
		sess, err := q.session(ctx, `
			UPDATE game_sessions SET
			  selected_question_id = $2,
			  current_player_id = NULL,
			  question_started_at = clock_timestamp(),
			  updated_at = clock_timestamp()
			WHERE id = $1 AND status = 'in_progress' AND selected_question_id IS NULL
			RETURNING `+sessionColumns, sessionID, questionID)
		if err != nil {
			return err
		}
		tag, err := q.db.Exec(ctx, `
			UPDATE game_questions SET played = true
			WHERE id = $1 AND game_session_id = $2 AND NOT played AND NOT is_final_jeopardy`, questionID, sessionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("question %s already played or not on the board: %w", questionID, backend.ErrConflict)
		}
		out = sess
		return nil
	})
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return nil, fmt.Errorf("SelectQuestion: %w", err)
		}
		return nil, s.resolve(ctx, "SelectQuestion", sessionID, err)
	}
	return out, nil
}

func (s *Store) ReturnToBoard(ctx context.Context, sessionID, questionID, nextPlayer uuid.UUID) (*models.GameSession, error) {
	return s.conditional(ctx, "ReturnToBoard", sessionID, `
		UPDATE game_sessions SET
		  selected_question_id = NULL,
		  question_started_at = NULL,
		  current_player_id = $3,
		  updated_at = clock_timestamp()
		WHERE id = $1 AND status = 'in_progress' AND selected_question_id = $2
		RETURNING `+sessionColumns, sessionID, questionID, nextPlayer)
}

func (s *Store) SetCurrentPlayer(ctx context.Context, sessionID uuid.UUID, userID *uuid.UUID) (*models.GameSession, error) {
	return s.conditional(ctx, "SetCurrentPlayer", sessionID, `
		UPDATE game_sessions SET current_player_id = $2, updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING `+sessionColumns, sessionID, sqlutil.ToNullUUID(userID))
}

// ClaimBuzzer succeeds for the first claimant only. Claiming again as the holder is a no-op.
func (s *Store) ClaimBuzzer(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error) {
	sess, err := s.q.session(ctx, `
		UPDATE game_sessions SET current_player_id = $2, updated_at = clock_timestamp()
		WHERE id = $1
		  AND status = 'in_progress'
		  AND current_player_id IS NULL
		  AND (game_type <> 'BOARD' OR selected_question_id IS NOT NULL)
		RETURNING `+sessionColumns, sessionID, userID)
	if err == nil {
		return sess, nil
	}
	err = s.resolve(ctx, "ClaimBuzzer", sessionID, err)
	if !errors.Is(err, backend.ErrConflict) {
		return nil, err
	}
	cur, ferr := s.FetchSession(ctx, sessionID)
	if ferr == nil && cur.CurrentPlayerID != nil && *cur.CurrentPlayerID == userID {
		return cur, nil
	}
	return nil, err
}

func (s *Store) GetLowestScoringPlayer(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	entries, err := s.FetchLeaderboard(ctx, sessionID)
	if err != nil {
		return uuid.Nil, err
	}
	id, ok := leaderboard.LowestScorer(entries)
	if !ok {
		return uuid.Nil, fmt.Errorf("session %s has no participants: %w", sessionID, backend.ErrNotFound)
	}
	return id, nil
}

func (s *Store) CheckBoardComplete(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var complete bool
	err := s.pool.QueryRow(ctx, `
		SELECT NOT EXISTS (
		  SELECT 1 FROM game_questions
		  WHERE game_session_id = $1 AND NOT is_final_jeopardy AND NOT played
		)`, sessionID).Scan(&complete)
	if err != nil {
		return false, fmt.Errorf("failed to check board: %w", classify(err))
	}
	return complete, nil
}

// AdvanceToFinalRound opens the final question for everyone. Repeating it returns the current row.
func (s *Store) AdvanceToFinalRound(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	var out *models.GameSession
	err := sqlutil.Run(ctx, s.pool, withTx, func(q *queries) error {
		sess, err := q.session(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1 FOR UPDATE`, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != models.GameStatusInProgress {
			return fmt.Errorf("session is %s: %w", sess.Status, backend.ErrConflict)
		}
		if sess.FinalRound {
			out = sess
			return nil
		}

		var final uuid.NullUUID
		err = q.db.QueryRow(ctx, `
			UPDATE game_questions SET played = true
			WHERE id = (
			  SELECT id FROM game_questions
			  WHERE game_session_id = $1 AND is_final_jeopardy
			  ORDER BY question_index
			  LIMIT 1
			)
			RETURNING id`, sessionID).Scan(&final)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		out, err = q.session(ctx, `
			UPDATE game_sessions SET
			  final_round = true,
			  current_player_id = NULL,
			  selected_question_id = $2,
			  question_started_at = CASE WHEN $2::uuid IS NULL THEN NULL ELSE clock_timestamp() END,
			  updated_at = clock_timestamp()
			WHERE id = $1
			RETURNING `+sessionColumns, sessionID, final)
		return err
	})
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return nil, fmt.Errorf("AdvanceToFinalRound: %w", err)
		}
		return nil, s.resolve(ctx, "AdvanceToFinalRound", sessionID, err)
	}
	return out, nil
}

func (s *Store) UpdateTeamTimer(ctx context.Context, sessionID uuid.UUID, remainingMs int64) (*models.GameSession, error) {
	return s.conditional(ctx, "UpdateTeamTimer", sessionID, `
		UPDATE game_sessions SET
		  team_timer_remaining_ms = GREATEST($2::bigint, 0),
		  team_timer_updated_at = clock_timestamp(),
		  updated_at = clock_timestamp()
		WHERE id = $1 AND game_type = 'TEAM_TIMER'
		RETURNING `+sessionColumns, sessionID, remainingMs)
}
