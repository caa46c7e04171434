package orchestrator

import (
	"sync"
	"time"

	"github.com/finova-net/finova-sub005/pkg/models"
)

// recentActivityWindow is the rolling window the activity_bonus factor
// reads (spec.md §4.6).
const recentActivityWindow = 7 * 24 * time.Hour

// activityHistory is an in-process rolling window of recent activity
// timestamps and platforms per user, feeding the Reward Calculator's
// activity_bonus factor. It is not durable state: a restart losing a
// few hours of history only flattens the bonus toward its floor for a
// while, never corrupts a balance, so it does not need the
// UserStateStore's durability guarantee (see DESIGN.md).
type activityHistory struct {
	mu     sync.Mutex
	byUser map[models.UserId][]activityMark
}

type activityMark struct {
	at       time.Time
	platform models.Platform
	kind     models.ActivityKind
}

func newActivityHistory() *activityHistory {
	return &activityHistory{byUser: make(map[models.UserId][]activityMark)}
}

// Record appends one activity timestamp for userID, pruning entries
// older than recentActivityWindow.
func (h *activityHistory) Record(userID models.UserId, platform models.Platform, kind models.ActivityKind, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	marks := h.prune(h.byUser[userID], at)
	h.byUser[userID] = append(marks, activityMark{at: at, platform: platform, kind: kind})
}

// DailyKindCount reports how many events of kind have already been
// recorded for userID on at's UTC calendar day (spec.md §4.7's per-kind
// daily XP cap), not counting the event about to be recorded by the
// caller's subsequent Record call.
func (h *activityHistory) DailyKindCount(userID models.UserId, kind models.ActivityKind, at time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	marks := h.prune(h.byUser[userID], at)
	h.byUser[userID] = marks
	day := at.UTC().Format("2006-01-02")
	count := 0
	for _, m := range marks {
		if m.kind == kind && m.at.UTC().Format("2006-01-02") == day {
			count++
		}
	}
	return count
}

// Recent7d reports the event count and distinct-platform count within
// the trailing 7-day window as of now, not counting the event about to
// be recorded by the caller's subsequent Record call.
func (h *activityHistory) Recent7d(userID models.UserId, now time.Time) (count int, distinctPlatforms int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	marks := h.prune(h.byUser[userID], now)
	h.byUser[userID] = marks
	seen := make(map[models.Platform]bool, 4)
	for _, m := range marks {
		seen[m.platform] = true
	}
	return len(marks), len(seen)
}

func (h *activityHistory) prune(marks []activityMark, now time.Time) []activityMark {
	cutoff := now.Add(-recentActivityWindow)
	out := marks[:0:0]
	for _, m := range marks {
		if m.at.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
