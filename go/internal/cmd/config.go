package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/natsfeed"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/pgstore"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/wsfeed"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/clocksync"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/session"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendHTTP     = "http"

	feedBuiltin   = "builtin"
	feedNATS      = "nats"
	feedWebSocket = "websocket"
)

type Config struct {
	LogLevel string `yaml:"log_level"`
	Port     string `yaml:"port"`

	Backend   BackendConfig    `yaml:"backend"`
	Feed      FeedConfig       `yaml:"feed"`
	Session   session.Config   `yaml:"session"`
	ClockSync clocksync.Config `yaml:"clock_sync"`
	Play      PlayConfig       `yaml:"play"`
}

type BackendConfig struct {
	// Kind is memory, postgres or http.
	Kind     string                 `yaml:"kind"`
	URL      string                 `yaml:"url"`
	Migrate  bool                   `yaml:"migrate"`
	Listener pgstore.ListenerConfig `yaml:"listener"`
	Redis    RedisConfig            `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	SubmitTTL time.Duration `yaml:"submit_ttl"`
}

type FeedConfig struct {
	// Kind is builtin, nats or websocket. builtin uses the backend's own notifications.
	Kind      string              `yaml:"kind"`
	NATS      natsfeed.Config     `yaml:"nats"`
	WebSocket WebSocketFeedConfig `yaml:"websocket"`
}

type WebSocketFeedConfig struct {
	// URL defaults to the backend URL plus /ws/session.
	URL    string              `yaml:"url"`
	Client wsfeed.ClientConfig `yaml:"client"`
	Hub    wsfeed.HubConfig    `yaml:"hub"`
}

type PlayConfig struct {
	UserID      string        `yaml:"user_id"`
	DisplayName string        `yaml:"display_name"`
	SessionID   string        `yaml:"session_id"`
	Host        bool          `yaml:"host"`
	Create      *CreateConfig `yaml:"create"`
}

// CreateConfig makes the host create a fresh session before starting it.
type CreateConfig struct {
	RoomID           string `yaml:"room_id"`
	GameType         string `yaml:"game_type"`
	TimeLimitSeconds int    `yaml:"time_limit_seconds"`
	QuestionsFile    string `yaml:"questions_file"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Port:     "8080",
		Backend: BackendConfig{
			Kind:     backendMemory,
			Listener: pgstore.DefaultListenerConfig(),
			Redis:    RedisConfig{SubmitTTL: 24 * time.Hour},
		},
		Feed: FeedConfig{
			Kind: feedBuiltin,
			NATS: natsfeed.DefaultConfig(),
			WebSocket: WebSocketFeedConfig{
				Client: wsfeed.DefaultClientConfig(),
				Hub:    wsfeed.DefaultHubConfig(),
			},
		},
		Session:   session.DefaultConfig(),
		ClockSync: clocksync.DefaultConfig(),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. A missing file leaves the defaults alone.
// Environment variables win over both.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.Port = getEnv("PORT", config.Port)
	config.Backend.Kind = getEnv("QUIZSYNC_BACKEND", config.Backend.Kind)
	config.Backend.URL = getEnv("QUIZSYNC_BACKEND_URL", config.Backend.URL)
	config.Backend.Migrate = getEnvAsBool("QUIZSYNC_MIGRATE", config.Backend.Migrate)
	config.Backend.Redis.Addr = getEnv("REDIS_ADDR", config.Backend.Redis.Addr)
	config.Backend.Redis.Password = getEnv("REDIS_PASSWORD", config.Backend.Redis.Password)
	config.Feed.Kind = getEnv("QUIZSYNC_FEED", config.Feed.Kind)
	config.Feed.NATS.URL = getEnv("NATS_URL", config.Feed.NATS.URL)
	config.Feed.WebSocket.URL = getEnv("QUIZSYNC_WS_URL", config.Feed.WebSocket.URL)
	config.Play.UserID = getEnv("QUIZSYNC_USER_ID", config.Play.UserID)
	config.Play.SessionID = getEnv("QUIZSYNC_SESSION_ID", config.Play.SessionID)
	config.Play.Host = getEnvAsBool("QUIZSYNC_HOST", config.Play.Host)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Backend.Kind {
	case backendMemory, backendPostgres:
	case backendHTTP:
		if c.Backend.URL == "" {
			return errors.New("backend.url is required for the http backend")
		}
		if c.Feed.Kind == feedBuiltin {
			return errors.New("the http backend needs a nats or websocket feed")
		}
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
	switch c.Feed.Kind {
	case feedBuiltin, feedNATS, feedWebSocket:
	default:
		return fmt.Errorf("unknown feed kind %q", c.Feed.Kind)
	}
	if c.Play.Create != nil && !models.GameType(c.Play.Create.GameType).Valid() {
		return fmt.Errorf("invalid game type %q", c.Play.Create.GameType)
	}
	return nil
}

// QuestionFile is the YAML shape of a question set.
type QuestionFile struct {
	Questions []struct {
		Prompt           string   `yaml:"prompt"`
		Options          []string `yaml:"options"`
		Category         string   `yaml:"category"`
		Answer           string   `yaml:"answer"`
		Explanation      string   `yaml:"explanation"`
		Difficulty       string   `yaml:"difficulty"`
		Points           int      `yaml:"points"`
		Column           int      `yaml:"column"`
		TimeLimitSeconds int      `yaml:"time_limit_seconds"`
		Final            bool     `yaml:"final"`
	} `yaml:"questions"`
}

func loadQuestions(path string) ([]models.GameQuestion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read questions file: %w", err)
	}
	var file QuestionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse questions file: %w", err)
	}

	out := make([]models.GameQuestion, 0, len(file.Questions))
	for i, q := range file.Questions {
		if q.Prompt == "" || q.Answer == "" {
			return nil, fmt.Errorf("question %d needs a prompt and an answer", i)
		}
		out = append(out, models.GameQuestion{
			ID:               uuid.New(),
			ColumnPosition:   q.Column,
			QuestionData:     models.QuestionData{Prompt: q.Prompt, Options: q.Options, Category: q.Category},
			CorrectAnswer:    q.Answer,
			Explanation:      q.Explanation,
			Difficulty:       q.Difficulty,
			Points:           q.Points,
			TimeLimitSeconds: q.TimeLimitSeconds,
			IsFinalJeopardy:  q.Final,
		})
	}
	return out, nil
}

func parseID(name, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}
