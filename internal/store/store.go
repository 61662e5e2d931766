// Package store persists the per-user state the engine reads and writes:
// streaks, personal records, achievements and the activity log.
package store

import (
	"context"
	"errors"
	"time"

	"sweatbot/internal/achievement"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/tracker"
)

// ErrStreakNotFound is returned when a user has no streak yet
var ErrStreakNotFound = errors.New("streak not found")

// ErrPersonalRecordNotFound is returned when a personal record doesn't exist
var ErrPersonalRecordNotFound = errors.New("personal record not found")

// ErrBreakdownNotFound is returned when no activity with that id was saved
var ErrBreakdownNotFound = errors.New("breakdown not found")

// ErrAchievementAlreadyUnlocked is returned when a user already has the achievement
var ErrAchievementAlreadyUnlocked = errors.New("achievement already unlocked")

// StateStore holds the mutable per-user state. Implementations do not
// serialize read-modify-write cycles; callers keep one writer per user.
type StateStore interface {
	GetStreak(ctx context.Context, userID string) (tracker.UserStreak, error)
	SaveStreak(ctx context.Context, s tracker.UserStreak) error

	GetPersonalRecord(ctx context.Context, userID, exerciseKey string, metric registry.Metric) (*tracker.PersonalRecord, error)
	// SavePersonalRecord stores pr unless the stored value is already >= pr.Value.
	SavePersonalRecord(ctx context.Context, pr tracker.PersonalRecord) error
	ListPersonalRecords(ctx context.Context, userID string) ([]tracker.PersonalRecord, error)

	ListUserAchievements(ctx context.Context, userID string) ([]achievement.UserAchievement, error)
	// AddUserAchievement returns ErrAchievementAlreadyUnlocked for a second unlock.
	AddUserAchievement(ctx context.Context, ua achievement.UserAchievement) error
	SaveAchievementProgress(ctx context.Context, progress []achievement.AchievementProgress) error
	ListAchievementProgress(ctx context.Context, userID string) ([]achievement.AchievementProgress, error)
}

// ActivityRecord is a scored activity as written to the log.
type ActivityRecord struct {
	Activity  points.Activity
	Category  registry.Category
	Breakdown points.Breakdown
}

// LeaderboardEntry is one user's points over a window
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	UserID     string `json:"user_id"`
	Points     int64  `json:"points"`
	Activities int64  `json:"activities"`
}

// ActivityLog stores scored activities and answers aggregate queries over
// them. Only activities whose breakdown status is ok count towards stats.
type ActivityLog interface {
	// SaveActivity is idempotent by activity id; saving again replaces the row.
	SaveActivity(ctx context.Context, rec ActivityRecord) error
	GetBreakdown(ctx context.Context, activityID string) (points.Breakdown, error)
	// ActivitiesBetween counts a user's scored activities starting in [from, to].
	ActivitiesBetween(ctx context.Context, userID string, from, to time.Time) (int64, error)
	// UserStats aggregates everything a user has logged. Cardinalities and
	// daily rates cover the window ending at now.
	UserStats(ctx context.Context, userID string, now time.Time, window time.Duration) (achievement.UserStats, error)
	Leaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardEntry, error)
}

// Store is a backend that holds both.
type Store interface {
	StateStore
	ActivityLog
	Close() error
}

// windowDays is the window length used as the divisor for daily rates.
func windowDays(window time.Duration) float64 {
	d := window.Hours() / 24
	if d < 1 {
		return 1
	}
	return d
}

func rankEntries(entries []LeaderboardEntry) []LeaderboardEntry {
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

type composite struct {
	StateStore
	ActivityLog
}

// Compose joins separate state and log backends into one Store. Close closes
// each backend that has a Close method, once.
func Compose(state StateStore, log ActivityLog) Store {
	return composite{StateStore: state, ActivityLog: log}
}

func (c composite) Close() error {
	var errs []error
	var seen []any
	for _, b := range []any{c.StateStore, c.ActivityLog} {
		closer, ok := b.(interface{ Close() error })
		if !ok || containsBackend(seen, b) {
			continue
		}
		seen = append(seen, b)
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func containsBackend(seen []any, b any) bool {
	for _, s := range seen {
		if s == b {
			return true
		}
	}
	return false
}
