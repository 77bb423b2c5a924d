package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

// HTTPClient is a Requester backed by a JSON REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

var _ Requester = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *HTTPClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *HTTPClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// do sends body as JSON and decodes the response into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return Transient(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if err := statusError(resp.StatusCode, responseBody); err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	if out == nil || len(responseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return ErrConflict
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusTooManyRequests, code >= 500:
		return Transient(fmt.Errorf("API returned status code: %d, response: %s", code, string(body)))
	default:
		return fmt.Errorf("API returned status code: %d, response: %s", code, string(body))
	}
}

func sessionPath(id uuid.UUID) string {
	return "/sessions/" + id.String()
}

func (c *HTTPClient) ServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		Now time.Time `json:"now"`
	}
	if err := c.do(ctx, http.MethodGet, "/time", nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.Now, nil
}

func (c *HTTPClient) session(ctx context.Context, method, endpoint string, body any) (*models.GameSession, error) {
	var s models.GameSession
	if err := c.do(ctx, method, endpoint, body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.GameSession, error) {
	return c.session(ctx, http.MethodPost, "/sessions", req)
}

func (c *HTTPClient) FetchSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return c.session(ctx, http.MethodGet, sessionPath(sessionID), nil)
}

func (c *HTTPClient) StartSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/start", nil)
}

func (c *HTTPClient) AdvanceQuestion(ctx context.Context, sessionID uuid.UUID, expectedIndex int) (*models.GameSession, error) {
	body := map[string]int{"expected_index": expectedIndex}
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/advance", body)
}

func (c *HTTPClient) CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome models.GameOutcome) (*models.GameSession, error) {
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/complete", outcome)
}

func (c *HTTPClient) CancelSession(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/cancel", nil)
}

func (c *HTTPClient) FetchQuestionByIndex(ctx context.Context, sessionID uuid.UUID, index int) (*models.GameQuestion, error) {
	var q models.GameQuestion
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/questions/"+strconv.Itoa(index), nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *HTTPClient) FetchQuestionByID(ctx context.Context, questionID uuid.UUID) (*models.GameQuestion, error) {
	var q models.GameQuestion
	if err := c.do(ctx, http.MethodGet, "/questions/"+questionID.String(), nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *HTTPClient) FetchParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	var out []models.Participant
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/participants", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddParticipant joins userID to the room behind sessionID.
func (c *HTTPClient) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, displayName string) error {
	body := struct {
		UserID      uuid.UUID `json:"user_id"`
		DisplayName string    `json:"display_name"`
	}{userID, displayName}
	return c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/participants", body, nil)
}

func (c *HTTPClient) FetchLeaderboard(ctx context.Context, sessionID uuid.UUID) ([]models.LeaderboardEntry, error) {
	var out []models.LeaderboardEntry
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/leaderboard", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) SubmitAnswer(ctx context.Context, sub AnswerSubmission) (*SubmissionResult, error) {
	var out SubmissionResult
	err := c.do(ctx, http.MethodPost, sessionPath(sub.SessionID)+"/answers", sub, &out)
	if errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("%w: %w", ErrDuplicateSubmission, err)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FetchReveal(ctx context.Context, sessionID, questionID, userID uuid.UUID) (*Reveal, error) {
	var out Reveal
	endpoint := sessionPath(sessionID) + "/questions/" + questionID.String() + "/reveal?user_id=" + userID.String()
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FetchBoard(ctx context.Context, sessionID uuid.UUID) ([]models.BoardCell, error) {
	var out []models.BoardCell
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/board", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) SelectQuestion(ctx context.Context, sessionID, questionID uuid.UUID) (*models.GameSession, error) {
	body := map[string]uuid.UUID{"question_id": questionID}
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/select", body)
}

func (c *HTTPClient) ReturnToBoard(ctx context.Context, sessionID, questionID, nextPlayer uuid.UUID) (*models.GameSession, error) {
	body := map[string]uuid.UUID{"question_id": questionID, "next_player": nextPlayer}
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/return-to-board", body)
}

func (c *HTTPClient) SetCurrentPlayer(ctx context.Context, sessionID uuid.UUID, userID *uuid.UUID) (*models.GameSession, error) {
	body := map[string]*uuid.UUID{"user_id": userID}
	return c.session(ctx, http.MethodPut, sessionPath(sessionID)+"/current-player", body)
}

func (c *HTTPClient) ClaimBuzzer(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error) {
	body := map[string]uuid.UUID{"user_id": userID}
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/buzzer", body)
}

func (c *HTTPClient) GetLowestScoringPlayer(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	var out struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/lowest-scorer", nil, &out); err != nil {
		return uuid.Nil, err
	}
	return out.UserID, nil
}

func (c *HTTPClient) CheckBoardComplete(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var out struct {
		Complete bool `json:"complete"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/board/complete", nil, &out); err != nil {
		return false, err
	}
	return out.Complete, nil
}

func (c *HTTPClient) AdvanceToFinalRound(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	return c.session(ctx, http.MethodPost, sessionPath(sessionID)+"/final-round", nil)
}

func (c *HTTPClient) UpdateTeamTimer(ctx context.Context, sessionID uuid.UUID, remainingMs int64) (*models.GameSession, error) {
	body := map[string]int64{"remaining_ms": remainingMs}
	return c.session(ctx, http.MethodPut, sessionPath(sessionID)+"/team-timer", body)
}
