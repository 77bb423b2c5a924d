package session

import (
	"time"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/game"
)

// ReconnectConfig bounds the reconnection loop.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Config controls one session controller.
type Config struct {
	// SettleDelay is waited before fetching a question named by a notification, and once more
	// when the question is not visible yet. Zero disables the wait.
	SettleDelay         time.Duration `yaml:"settle_delay"`
	WaitingPollInterval time.Duration `yaml:"waiting_poll_interval"`
	ActivePollInterval  time.Duration `yaml:"active_poll_interval"`
	DisablePolling      bool          `yaml:"disable_polling"`

	Reconnect ReconnectConfig     `yaml:"reconnect"`
	Read      backend.RetryConfig `yaml:"read_retry"`
	Game      game.Config         `yaml:"game"`
}

func DefaultConfig() Config {
	return Config{
		SettleDelay:         400 * time.Millisecond,
		WaitingPollInterval: 3 * time.Second,
		ActivePollInterval:  2 * time.Second,
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxDelay:    16 * time.Second,
			MaxAttempts: 5,
		},
		Read: backend.DefaultRetryConfig(),
		Game: game.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.WaitingPollInterval <= 0 {
		c.WaitingPollInterval = d.WaitingPollInterval
	}
	if c.ActivePollInterval <= 0 {
		c.ActivePollInterval = d.ActivePollInterval
	}
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = d.Reconnect.BaseDelay
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		c.Reconnect.MaxDelay = max(d.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = d.Reconnect.MaxAttempts
	}
	if c.Read.MaxAttempts <= 0 {
		c.Read = d.Read
	}
	c.Game = c.Game.WithDefaults()
	return c
}
