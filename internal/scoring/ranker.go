package scoring

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shooting-range/internal/domain"
)

// Rank orders finished sessions into leaderboard entries: score descending,
// then earlier finish first, then session ID. Hits and misses are recomputed
// from each session's events rather than read from any stored counter.
// A limit of zero or less keeps every entry.
func Rank(sessions []domain.FinishedSession, limit int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(sessions))
	for _, sess := range sessions {
		if sess.FinishedAt == nil || sess.Score == nil {
			continue
		}
		stats := ScoreSession(sess.Events)
		entries = append(entries, domain.LeaderboardEntry{
			SessionID:  sess.ID,
			PlayerID:   sess.PlayerID,
			PlayerName: sess.PlayerName,
			Score:      *sess.Score,
			Hits:       stats.Hits,
			Misses:     stats.Misses,
			FinishedAt: *sess.FinishedAt,
		})
	}

	slices.SortStableFunc(entries, compareEntries)

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries
}

func compareEntries(a, b domain.LeaderboardEntry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := a.FinishedAt.Compare(b.FinishedAt); c != 0 {
		return c
	}
	return strings.Compare(a.SessionID, b.SessionID)
}
