package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode represents the game mode a session is played in
type Mode string

const (
	ModeArcade    Mode = "arcade"
	ModePrecision Mode = "precision"
)

// Modes returns every supported game mode
func Modes() []Mode {
	return []Mode{ModeArcade, ModePrecision}
}

// ParseMode converts a raw value into a Mode
func ParseMode(raw string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if !mode.Valid() {
		return "", fmt.Errorf("%w: unknown mode %q", ErrValidation, raw)
	}
	return mode, nil
}

// Valid reports whether the mode is one of the supported modes
func (m Mode) Valid() bool {
	for _, mode := range Modes() {
		if m == mode {
			return true
		}
	}
	return false
}

// EventType tags the kind of a session event
type EventType string

const (
	EventTypeShot EventType = "shot"
)

// Valid reports whether the event type is known
func (t EventType) Valid() bool {
	return t == EventTypeShot
}

// Session represents a single shooting-practice session
type Session struct {
	ID         string     `json:"id"`
	PlayerID   string     `json:"player_id"`
	Mode       Mode       `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Score      *int64     `json:"score,omitempty"`
	Events     []Event    `json:"events,omitempty"`
}

// Event represents a single shot recorded against a session
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Ts        time.Time `json:"ts"`
	Hit       bool      `json:"hit"`
	Distance  float64   `json:"distance"`
	Score     int64     `json:"score"`
}

// FinishedSession is a finished session joined with its owner's display name
type FinishedSession struct {
	Session
	PlayerName string `json:"player_name"`
}

// EventInput is the caller-supplied part of a new event
type EventInput struct {
	Type     EventType `json:"type"`
	Ts       time.Time `json:"ts"`
	Hit      bool      `json:"hit"`
	Distance float64   `json:"distance"`
}

// Validate rejects input that must never reach the scoring calculator
func (in EventInput) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, in.Type)
	}
	if in.Ts.IsZero() {
		return fmt.Errorf("%w: event timestamp is required", ErrValidation)
	}
	if math.IsNaN(in.Distance) || math.IsInf(in.Distance, 0) {
		return fmt.Errorf("%w: distance must be a finite number", ErrValidation)
	}
	if in.Distance < 0 {
		return fmt.Errorf("%w: distance must be non-negative", ErrValidation)
	}
	return nil
}

// SessionStats is the aggregate result of scoring a session's events
type SessionStats struct {
	TotalScore int64 `json:"total_score"`
	Hits       int   `json:"hits"`
	Misses     int   `json:"misses"`
}

// StartSessionResult is returned when a session is opened
type StartSessionResult struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	Mode      Mode      `json:"mode"`
	StartedAt time.Time `json:"started_at"`
}

// FinishSummary is returned when a session is closed
type FinishSummary struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"player_id"`
	Score      int64     `json:"score"`
	Hits       int       `json:"hits"`
	Misses     int       `json:"misses"`
	FinishedAt time.Time `json:"finished_at"`
}

// SessionDetails is the full view of a session. Score, hits and misses are
// only present once the session is finished.
type SessionDetails struct {
	ID         string     `json:"id"`
	PlayerID   string     `json:"player_id"`
	Mode       Mode       `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Score      *int64     `json:"score,omitempty"`
	Hits       *int       `json:"hits,omitempty"`
	Misses     *int       `json:"misses,omitempty"`
	Events     []Event    `json:"events"`
}

// LeaderboardEntry represents a single entry in a mode leaderboard
type LeaderboardEntry struct {
	Rank       int64     `json:"rank"`
	SessionID  string    `json:"session_id"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Score      int64     `json:"score"`
	Hits       int       `json:"hits"`
	Misses     int       `json:"misses"`
	FinishedAt time.Time `json:"finished_at"`
}
