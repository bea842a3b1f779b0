package scoring

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shooting-range/internal/domain"
)

var baseTs = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func shot(hit bool, distance float64, offset int) domain.Event {
	return domain.Event{
		ID:        fmt.Sprintf("event-%d", offset),
		SessionID: "session-1",
		Type:      domain.EventTypeShot,
		Ts:        baseTs.Add(time.Duration(offset) * time.Second),
		Hit:       hit,
		Distance:  distance,
		Score:     ScoreEvent(hit, distance),
	}
}

func hits(n int) []domain.Event {
	events := make([]domain.Event, n)
	for i := range events {
		events[i] = shot(true, 5, i+1)
	}
	return events
}

func TestScoreEvent(t *testing.T) {
	for _, d := range []float64{0, 5, 10, 10.5, 11, 100} {
		assert.Equal(t, int64(0), ScoreEvent(false, d), "miss at %v", d)
	}
	assert.Equal(t, int64(10), ScoreEvent(true, 0))
	assert.Equal(t, int64(10), ScoreEvent(true, 5))
	assert.Equal(t, int64(10), ScoreEvent(true, 10))
	assert.Equal(t, int64(15), ScoreEvent(true, 10.0001))
	assert.Equal(t, int64(15), ScoreEvent(true, 11))
}

func TestScoreSession_Empty(t *testing.T) {
	assert.Equal(t, domain.SessionStats{}, ScoreSession(nil))
	assert.Equal(t, domain.SessionStats{}, ScoreSession([]domain.Event{}))
}

func TestScoreSession_HitsAndMisses(t *testing.T) {
	stats := ScoreSession([]domain.Event{shot(false, 5, 1), shot(false, 5, 2)})
	assert.Equal(t, domain.SessionStats{TotalScore: 0, Hits: 0, Misses: 2}, stats)

	stats = ScoreSession([]domain.Event{
		shot(true, 5, 1),
		shot(false, 5, 2),
		shot(true, 5, 3),
		shot(false, 5, 4),
	})
	assert.Equal(t, domain.SessionStats{TotalScore: 20, Hits: 2, Misses: 2}, stats)
}

func TestScoreSession_DistanceBonus(t *testing.T) {
	stats := ScoreSession([]domain.Event{
		shot(true, 15, 1),
		shot(false, 20, 2),
		shot(true, 5, 3),
	})
	assert.Equal(t, domain.SessionStats{TotalScore: 25, Hits: 2, Misses: 1}, stats)
}

func TestScoreSession_Combo(t *testing.T) {
	tests := []struct {
		hits int
		want int64
	}{
		{2, 20},
		{3, 35},
		{6, 70},
		{7, 80},
		{9, 105},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d consecutive hits", tt.hits), func(t *testing.T) {
			stats := ScoreSession(hits(tt.hits))
			assert.Equal(t, tt.want, stats.TotalScore)
			assert.Equal(t, tt.hits, stats.Hits)
			assert.Zero(t, stats.Misses)
		})
	}
}

func TestScoreSession_MissResetsStreak(t *testing.T) {
	events := []domain.Event{
		shot(true, 5, 1),
		shot(true, 5, 2),
		shot(false, 5, 3),
		shot(true, 5, 4),
		shot(true, 5, 5),
		shot(true, 5, 6),
	}
	stats := ScoreSession(events)
	assert.Equal(t, int64(55), stats.TotalScore)
	assert.Equal(t, 5, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
}

func TestScoreSession_ComboKeyedOnTimestampNotInsertion(t *testing.T) {
	// Insertion order H,H,M,H but chronologically H,H,H,M.
	events := []domain.Event{
		shot(true, 5, 1),
		shot(true, 5, 2),
		shot(false, 5, 4),
		shot(true, 5, 3),
	}
	stats := ScoreSession(events)
	assert.Equal(t, int64(35), stats.TotalScore)
}

func TestScoreSession_IndependentOfInputOrder(t *testing.T) {
	events := []domain.Event{
		shot(true, 12, 1),
		shot(true, 5, 2),
		shot(true, 8, 3),
		shot(false, 3, 4),
		shot(true, 11, 5),
		shot(true, 2, 6),
		shot(true, 20, 7),
		shot(true, 1, 8),
		shot(false, 9, 9),
		shot(true, 15, 10),
	}
	want := ScoreSession(events)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		shuffled := make([]domain.Event, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, ScoreSession(shuffled), "permutation %d", i)
	}
}

func TestScoreSession_TiesKeepInputOrder(t *testing.T) {
	ts := baseTs
	events := []domain.Event{
		{ID: "a", Ts: ts, Hit: true, Score: 10},
		{ID: "b", Ts: ts, Hit: false, Score: 0},
		{ID: "c", Ts: ts, Hit: true, Score: 10},
		{ID: "d", Ts: ts, Hit: true, Score: 10},
	}
	// H,M,H,H: the miss breaks the streak so no combo.
	assert.Equal(t, int64(30), ScoreSession(events).TotalScore)

	sorted := Chronological(events)
	ids := make([]string, len(sorted))
	for i, e := range sorted {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestScoreSession_DoesNotMutateInput(t *testing.T) {
	events := []domain.Event{shot(true, 5, 3), shot(true, 5, 1), shot(false, 5, 2)}
	before := make([]domain.Event, len(events))
	copy(before, events)

	first := ScoreSession(events)
	second := ScoreSession(events)

	assert.Equal(t, before, events)
	assert.Equal(t, first, second)
}
