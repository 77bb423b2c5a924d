package game

import "time"

// maxDailyDoubles caps BoardConfig.MaxDailyDoubles.
const maxDailyDoubles = 2

// Config holds the rules of every mode. Zero fields fall back to DefaultConfig.
type Config struct {
	RevealDuration time.Duration `yaml:"reveal_duration"`
	DefaultPoints  int           `yaml:"default_points"`

	Board   BoardConfig   `yaml:"board"`
	HotSeat HotSeatConfig `yaml:"hot_seat"`
	Team    TeamConfig    `yaml:"team"`

	Turn     TurnPolicy     `yaml:"-"`
	Rotation RotationPolicy `yaml:"-"`
}

type BoardConfig struct {
	MaxDailyDoubles int           `yaml:"max_daily_doubles"`
	FinalTimeLimit  time.Duration `yaml:"final_time_limit"`
}

type HotSeatConfig struct {
	QuestionsPerTurn int `yaml:"questions_per_turn"`
	CorrectPoints    int `yaml:"correct_points"`
	IncorrectPoints  int `yaml:"incorrect_points"`
	ChallengeBonus   int `yaml:"challenge_bonus"`
	ChallengePenalty int `yaml:"challenge_penalty"`
}

type TeamConfig struct {
	Start        time.Duration `yaml:"start"`
	CorrectBonus time.Duration `yaml:"correct_bonus"`
	WrongPenalty time.Duration `yaml:"wrong_penalty"`
	Tick         time.Duration `yaml:"tick"`
}

// DefaultConfig returns the standard rules.
func DefaultConfig() Config {
	return Config{
		RevealDuration: 3 * time.Second,
		DefaultPoints:  100,
		Board: BoardConfig{
			MaxDailyDoubles: maxDailyDoubles,
			FinalTimeLimit:  60 * time.Second,
		},
		HotSeat: HotSeatConfig{
			QuestionsPerTurn: 5,
			CorrectPoints:    100,
			IncorrectPoints:  -50,
			ChallengeBonus:   150,
			ChallengePenalty: -75,
		},
		Team: TeamConfig{
			Start:        180 * time.Second,
			CorrectBonus: 15 * time.Second,
			WrongPenalty: 10 * time.Second,
			Tick:         100 * time.Millisecond,
		},
		Turn:     CatchUpTurn,
		Rotation: RoundRobin,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.RevealDuration <= 0 {
		c.RevealDuration = d.RevealDuration
	}
	if c.DefaultPoints <= 0 {
		c.DefaultPoints = d.DefaultPoints
	}
	if c.Board.MaxDailyDoubles <= 0 {
		c.Board.MaxDailyDoubles = d.Board.MaxDailyDoubles
	}
	c.Board.MaxDailyDoubles = min(c.Board.MaxDailyDoubles, maxDailyDoubles)
	if c.Board.FinalTimeLimit <= 0 {
		c.Board.FinalTimeLimit = d.Board.FinalTimeLimit
	}
	if c.HotSeat == (HotSeatConfig{}) {
		c.HotSeat = d.HotSeat
	}
	if c.HotSeat.QuestionsPerTurn <= 0 {
		c.HotSeat.QuestionsPerTurn = d.HotSeat.QuestionsPerTurn
	}
	if c.Team.Start <= 0 {
		c.Team.Start = d.Team.Start
	}
	if c.Team.CorrectBonus <= 0 {
		c.Team.CorrectBonus = d.Team.CorrectBonus
	}
	if c.Team.WrongPenalty <= 0 {
		c.Team.WrongPenalty = d.Team.WrongPenalty
	}
	if c.Team.Tick <= 0 {
		c.Team.Tick = d.Team.Tick
	}
	if c.Turn == nil {
		c.Turn = d.Turn
	}
	if c.Rotation == nil {
		c.Rotation = d.Rotation
	}
	return c
}
