// Package scoring turns shot events into deterministic session scores.
package scoring

import (
	"slices"

	"github.com/shooting-range/internal/domain"
)

const (
	// HitPoints is awarded for every hit
	HitPoints int64 = 10
	// DistanceBonus is added to a hit taken from further than BonusDistance
	DistanceBonus int64 = 5
	// BonusDistance is the exclusive lower bound for the distance bonus
	BonusDistance = 10.0
	// ComboBonus is added on every ComboLength-th consecutive hit
	ComboBonus int64 = 5
	// ComboLength is the streak length that triggers a combo bonus
	ComboLength = 3
)

// ScoreEvent returns the points for a single shot
func ScoreEvent(hit bool, distance float64) int64 {
	if !hit {
		return 0
	}
	score := HitPoints
	if distance > BonusDistance {
		score += DistanceBonus
	}
	return score
}

// ScoreSession aggregates a session's events into its total score and
// hit/miss counts. Events are replayed in timestamp order; events sharing a
// timestamp keep their relative input order. The input slice is not modified.
func ScoreSession(events []domain.Event) domain.SessionStats {
	var stats domain.SessionStats
	if len(events) == 0 {
		return stats
	}

	streak := 0
	for _, event := range Chronological(events) {
		stats.TotalScore += event.Score

		if !event.Hit {
			stats.Misses++
			streak = 0
			continue
		}

		stats.Hits++
		streak++
		if streak%ComboLength == 0 {
			stats.TotalScore += ComboBonus
		}
	}
	return stats
}

// Chronological returns a copy of events stable-sorted by timestamp
func Chronological(events []domain.Event) []domain.Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b domain.Event) int {
		return a.Ts.Compare(b.Ts)
	})
	return sorted
}
