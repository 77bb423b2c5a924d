package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/sqlutil"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db DBTX
}

func newQueries(db DBTX) *queries {
	return &queries{db: db}
}

func withTx(tx pgx.Tx) *queries {
	return newQueries(tx)
}

const sessionColumns = `id, room_id, host_id, game_type, status, current_question_index, selected_question_id,
	current_player_id, question_started_at, final_round, team_timer_remaining_ms, team_timer_updated_at,
	outcome, config, created_at, updated_at`

// questionColumns never includes correct_answer; the read path must not leak it.
const questionColumns = `id, game_session_id, question_index, column_position, question_data, difficulty,
	points, time_limit_seconds, is_daily_double, is_final_jeopardy, created_at`

const scoreColumns = `id, game_session_id, question_id, user_id, answer, is_correct, is_challenge, points,
	time_taken_ms, answered_at`

func scanSession(row pgx.Row) (*models.GameSession, error) {
	var (
		s                 models.GameSession
		gameType, status  string
		selected, current uuid.NullUUID
		started, timerAt  *time.Time
		remaining         *int64
		outcome, config   []byte
	)
	err := row.Scan(
		&s.ID, &s.RoomID, &s.HostID, &gameType, &status, &s.CurrentQuestionIndex, &selected,
		&current, &started, &s.FinalRound, &remaining, &timerAt,
		&outcome, &config, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.GameType = models.GameType(gameType)
	s.Status = models.GameStatus(status)
	s.SelectedQuestionID = sqlutil.FromNullUUID(selected)
	s.CurrentPlayerID = sqlutil.FromNullUUID(current)
	s.QuestionStartedAt = sqlutil.FromTimePtr(started)
	s.TeamTimerUpdatedAt = sqlutil.FromTimePtr(timerAt)
	if remaining != nil {
		v := *remaining
		s.TeamTimerRemainingMs = &v
	}
	if err := sqlutil.FromNullJSON(sqlutil.NullJSON(outcome), &s.Outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	if err := sqlutil.FromNullJSON(sqlutil.NullJSON(config), &s.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &s, nil
}

func scanQuestion(row pgx.Row) (*models.GameQuestion, error) {
	var (
		q          models.GameQuestion
		data       []byte
		difficulty *string
	)
	err := row.Scan(
		&q.ID, &q.GameSessionID, &q.QuestionIndex, &q.ColumnPosition, &data, &difficulty,
		&q.Points, &q.TimeLimitSeconds, &q.IsDailyDouble, &q.IsFinalJeopardy, &q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if difficulty != nil {
		q.Difficulty = *difficulty
	}
	if err := sqlutil.FromNullJSON(sqlutil.NullJSON(data), &q.QuestionData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question data: %w", err)
	}
	return &q, nil
}

func scanScore(row pgx.Row) (*models.PlayerScore, error) {
	var sc models.PlayerScore
	err := row.Scan(
		&sc.ID, &sc.GameSessionID, &sc.QuestionID, &sc.UserID, &sc.Answer, &sc.IsCorrect,
		&sc.IsChallenge, &sc.Points, &sc.TimeTakenMs, &sc.AnsweredAt,
	)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (q *queries) session(ctx context.Context, query string, args ...any) (*models.GameSession, error) {
	return scanSession(q.db.QueryRow(ctx, query, args...))
}

func (q *queries) participants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := q.db.Query(ctx, `
		SELECT p.user_id, p.display_name, p.user_id = s.host_id, p.join_order, p.joined_at
		FROM game_participants p
		JOIN game_sessions s ON s.id = p.game_session_id
		WHERE p.game_session_id = $1
		ORDER BY p.join_order`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.IsHost, &p.JoinOrder, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) scores(ctx context.Context, sessionID uuid.UUID) ([]models.PlayerScore, error) {
	rows, err := q.db.Query(ctx, `SELECT `+scoreColumns+` FROM player_scores WHERE game_session_id = $1 ORDER BY answered_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlayerScore
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (q *queries) insertQuestion(ctx context.Context, sessionID uuid.UUID, qn models.GameQuestion) error {
	data, err := sqlutil.ToNullJSON(qn.QuestionData)
	if err != nil {
		return fmt.Errorf("failed to marshal question data: %w", err)
	}
	if qn.ID == uuid.Nil {
		qn.ID = uuid.New()
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO game_questions (
		  id, game_session_id, question_index, column_position, question_data, correct_answer,
		  explanation, difficulty, points, time_limit_seconds, is_daily_double, is_final_jeopardy
		) VALUES (
		  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
		)`,
		qn.ID, sessionID, qn.QuestionIndex, qn.ColumnPosition, sqlutil.JSONArg(data), qn.CorrectAnswer,
		nullText(qn.Explanation), nullText(qn.Difficulty), qn.Points, qn.TimeLimitSeconds, qn.IsDailyDouble, qn.IsFinalJeopardy,
	)
	return err
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// classify marks failures that never reached the server as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, pgx.ErrNoRows):
		return err
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, backend.ErrConflict),
		errors.Is(err, backend.ErrForbidden), errors.Is(err, backend.ErrTransient):
		return err
	}
	return backend.Transient(err)
}
