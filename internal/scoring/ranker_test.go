package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shooting-range/internal/domain"
)

func finished(id, player string, score int64, finishedAt time.Time, events []domain.Event) domain.FinishedSession {
	return domain.FinishedSession{
		Session: domain.Session{
			ID:         id,
			PlayerID:   player,
			Mode:       domain.ModeArcade,
			StartedAt:  finishedAt.Add(-time.Minute),
			FinishedAt: &finishedAt,
			Score:      &score,
			Events:     events,
		},
		PlayerName: "name-" + player,
	}
}

func TestRank_OrdersByScoreThenFinishTime(t *testing.T) {
	t0 := baseTs
	sessions := []domain.FinishedSession{
		finished("s1", "p1", 20, t0.Add(3*time.Minute), nil),
		finished("s2", "p2", 35, t0.Add(5*time.Minute), hits(3)),
		finished("s3", "p3", 35, t0.Add(1*time.Minute), hits(3)),
		finished("s4", "p4", 50, t0.Add(2*time.Minute), nil),
	}

	entries := Rank(sessions, 10)
	require.Len(t, entries, 4)

	ids := []string{entries[0].SessionID, entries[1].SessionID, entries[2].SessionID, entries[3].SessionID}
	assert.Equal(t, []string{"s4", "s3", "s2", "s1"}, ids)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Rank)
	}
	assert.Equal(t, "name-p3", entries[1].PlayerName)
}

func TestRank_SameScoreAndFinishFallsBackToSessionID(t *testing.T) {
	at := baseTs
	entries := Rank([]domain.FinishedSession{
		finished("b", "p1", 10, at, nil),
		finished("a", "p2", 10, at, nil),
	}, 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].SessionID)
	assert.Equal(t, "b", entries[1].SessionID)
}

func TestRank_Truncates(t *testing.T) {
	var sessions []domain.FinishedSession
	for i := 0; i < 5; i++ {
		sessions = append(sessions, finished(string(rune('a'+i)), "p", int64(i*10), baseTs, nil))
	}
	entries := Rank(sessions, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(40), entries[0].Score)
	assert.Equal(t, int64(30), entries[1].Score)

	assert.Len(t, Rank(sessions, 0), 5)
}

func TestRank_RecomputesHitsAndMissesFromEvents(t *testing.T) {
	events := []domain.Event{shot(true, 5, 1), shot(false, 5, 2), shot(true, 15, 3)}
	entries := Rank([]domain.FinishedSession{finished("s1", "p1", 25, baseTs, events)}, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Hits)
	assert.Equal(t, 1, entries[0].Misses)
	assert.Equal(t, int64(25), entries[0].Score)
}

func TestRank_SkipsUnfinishedSessions(t *testing.T) {
	active := domain.FinishedSession{Session: domain.Session{ID: "active", PlayerID: "p"}}
	entries := Rank([]domain.FinishedSession{active, finished("done", "p", 10, baseTs, nil)}, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "done", entries[0].SessionID)
}

func TestRank_Properties(t *testing.T) {
	rng := []int64{70, 10, 35, 35, 80, 0, 55}
	var sessions []domain.FinishedSession
	for i, score := range rng {
		sessions = append(sessions, finished(string(rune('a'+i)), "p", score, baseTs.Add(time.Duration(i)*time.Second), hits(i)))
	}
	entries := Rank(sessions, 5)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.GreaterOrEqual(t, entries[i-1].Score, entries[i].Score)
	}
	bySession := make(map[string]int)
	for _, s := range sessions {
		bySession[s.ID] = len(s.Events)
	}
	for _, e := range entries {
		assert.LessOrEqual(t, e.Hits+e.Misses, bySession[e.SessionID])
	}
}
