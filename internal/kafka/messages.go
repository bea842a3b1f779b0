package kafka

import (
	"fmt"
	"time"

	"github.com/shooting-range/internal/domain"
)

// ShotMessage represents a shot reported by a range lane over Kafka
type ShotMessage struct {
	SessionID string           `json:"session_id"`
	PlayerID  string           `json:"player_id"`
	Type      domain.EventType `json:"type"`
	Ts        time.Time        `json:"ts"`
	Hit       bool             `json:"hit"`
	Distance  float64          `json:"distance"`
}

// Validate checks the routing fields; the event body is validated by the service
func (m ShotMessage) Validate() error {
	if m.SessionID == "" || m.PlayerID == "" {
		return fmt.Errorf("%w: session_id and player_id are required", domain.ErrValidation)
	}
	return nil
}

// EventInput converts the message into a service event input
func (m ShotMessage) EventInput() domain.EventInput {
	eventType := m.Type
	if eventType == "" {
		eventType = domain.EventTypeShot
	}
	return domain.EventInput{
		Type:     eventType,
		Ts:       m.Ts,
		Hit:      m.Hit,
		Distance: m.Distance,
	}
}

// SessionFinishedMessage is published once a session has been finished
type SessionFinishedMessage struct {
	SessionID  string      `json:"session_id"`
	PlayerID   string      `json:"player_id"`
	Mode       domain.Mode `json:"mode"`
	Score      int64       `json:"score"`
	Hits       int         `json:"hits"`
	Misses     int         `json:"misses"`
	FinishedAt time.Time   `json:"finished_at"`
}

func newSessionFinishedMessage(mode domain.Mode, summary domain.FinishSummary) SessionFinishedMessage {
	return SessionFinishedMessage{
		SessionID:  summary.ID,
		PlayerID:   summary.PlayerID,
		Mode:       mode,
		Score:      summary.Score,
		Hits:       summary.Hits,
		Misses:     summary.Misses,
		FinishedAt: summary.FinishedAt,
	}
}
