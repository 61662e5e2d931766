package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sweatbot/internal/achievement"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/tracker"
)

type prKey struct {
	userID      string
	exerciseKey string
	metric      registry.Metric
}

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu           sync.RWMutex
	streaks      map[string]tracker.UserStreak
	records      map[prKey]tracker.PersonalRecord
	achievements map[string]map[string]achievement.UserAchievement
	progress     map[string]map[string]achievement.AchievementProgress
	activities   map[string]ActivityRecord
	order        []string // activity ids in first-save order
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streaks:      make(map[string]tracker.UserStreak),
		records:      make(map[prKey]tracker.PersonalRecord),
		achievements: make(map[string]map[string]achievement.UserAchievement),
		progress:     make(map[string]map[string]achievement.AchievementProgress),
		activities:   make(map[string]ActivityRecord),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetStreak(_ context.Context, userID string) (tracker.UserStreak, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streaks[userID]
	if !ok {
		return tracker.UserStreak{}, ErrStreakNotFound
	}
	return s, nil
}

func (m *MemoryStore) SaveStreak(_ context.Context, s tracker.UserStreak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaks[s.UserID] = s
	return nil
}

func (m *MemoryStore) GetPersonalRecord(_ context.Context, userID, exerciseKey string, metric registry.Metric) (*tracker.PersonalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pr, ok := m.records[prKey{userID, exerciseKey, metric}]
	if !ok {
		return nil, ErrPersonalRecordNotFound
	}
	return &pr, nil
}

func (m *MemoryStore) SavePersonalRecord(_ context.Context, pr tracker.PersonalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prKey{pr.UserID, pr.ExerciseKey, pr.Metric}
	if existing, ok := m.records[key]; ok && existing.Value >= pr.Value {
		return nil
	}
	m.records[key] = pr
	return nil
}

func (m *MemoryStore) ListPersonalRecords(_ context.Context, userID string) ([]tracker.PersonalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tracker.PersonalRecord
	for k, pr := range m.records {
		if k.userID == userID {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExerciseKey != out[j].ExerciseKey {
			return out[i].ExerciseKey < out[j].ExerciseKey
		}
		return out[i].Metric < out[j].Metric
	})
	return out, nil
}

func (m *MemoryStore) ListUserAchievements(_ context.Context, userID string) ([]achievement.UserAchievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []achievement.UserAchievement
	for _, ua := range m.achievements[userID] {
		out = append(out, ua)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out, nil
}

func (m *MemoryStore) AddUserAchievement(_ context.Context, ua achievement.UserAchievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.achievements[ua.UserID]
	if !ok {
		byID = make(map[string]achievement.UserAchievement)
		m.achievements[ua.UserID] = byID
	}
	if _, dup := byID[ua.AchievementID]; dup {
		return ErrAchievementAlreadyUnlocked
	}
	byID[ua.AchievementID] = ua
	return nil
}

func (m *MemoryStore) SaveAchievementProgress(_ context.Context, progress []achievement.AchievementProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range progress {
		byID, ok := m.progress[p.UserID]
		if !ok {
			byID = make(map[string]achievement.AchievementProgress)
			m.progress[p.UserID] = byID
		}
		byID[p.AchievementID] = p
	}
	return nil
}

func (m *MemoryStore) ListAchievementProgress(_ context.Context, userID string) ([]achievement.AchievementProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []achievement.AchievementProgress
	for _, p := range m.progress[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

func (m *MemoryStore) SaveActivity(_ context.Context, rec ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.activities[rec.Activity.ID]; !exists {
		m.order = append(m.order, rec.Activity.ID)
	}
	m.activities[rec.Activity.ID] = rec
	return nil
}

func (m *MemoryStore) GetBreakdown(_ context.Context, activityID string) (points.Breakdown, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.activities[activityID]
	if !ok {
		return points.Breakdown{}, ErrBreakdownNotFound
	}
	return rec.Breakdown, nil
}

// scored visits a user's ok activities in save order.
func (m *MemoryStore) scored(userID string, fn func(ActivityRecord)) {
	for _, id := range m.order {
		rec := m.activities[id]
		if rec.Activity.UserID == userID && rec.Breakdown.OK() {
			fn(rec)
		}
	}
}

func (m *MemoryStore) ActivitiesBetween(_ context.Context, userID string, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	m.scored(userID, func(rec ActivityRecord) {
		if start := rec.Activity.Start; !start.Before(from) && !start.After(to) {
			n++
		}
	})
	return n, nil
}

func (m *MemoryStore) UserStats(_ context.Context, userID string, now time.Time, window time.Duration) (achievement.UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := achievement.UserStats{UserID: userID}
	windowStart := now.Add(-window)
	exercises := map[string]bool{}
	categories := map[registry.Category]bool{}
	var windowPoints, windowActivities, windowReps int64
	var windowDistance, windowDuration float64

	m.scored(userID, func(rec ActivityRecord) {
		a := points.Normalize(rec.Activity)
		reps := int64(a.TotalReps())

		stats.TotalPoints += rec.Breakdown.Total
		stats.TotalActivities++
		stats.TotalReps += reps
		stats.TotalSets += int64(a.Sets)
		stats.TotalDistanceKm += a.DistanceKm
		stats.TotalDurationSec += a.DurationSec
		if a.WeightKg > stats.MaxWeightKg {
			stats.MaxWeightKg = a.WeightKg
		}
		if a.DistanceKm > stats.MaxDistanceKm {
			stats.MaxDistanceKm = a.DistanceKm
		}
		exercises[a.ExerciseKey] = true

		if !a.Start.Before(windowStart) && !a.Start.After(now) {
			categories[rec.Category] = true
			windowPoints += rec.Breakdown.Total
			windowActivities++
			windowReps += reps
			windowDistance += a.DistanceKm
			windowDuration += a.DurationSec
		}
	})

	distinct := len(exercises)
	inWindow := len(categories)
	stats.DistinctExercises = &distinct
	stats.CategoriesInWindow = &inWindow

	days := windowDays(window)
	stats.DailyRates = map[string]float64{
		"total_points":       float64(windowPoints) / days,
		"total_activities":   float64(windowActivities) / days,
		"total_reps":         float64(windowReps) / days,
		"total_distance_km":  windowDistance / days,
		"total_duration_sec": windowDuration / days,
	}
	return stats, nil
}

func (m *MemoryStore) Leaderboard(_ context.Context, since time.Time, limit int) ([]LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byUser := map[string]*LeaderboardEntry{}
	for _, id := range m.order {
		rec := m.activities[id]
		if !rec.Breakdown.OK() || rec.Activity.Start.Before(since) {
			continue
		}
		e, ok := byUser[rec.Activity.UserID]
		if !ok {
			e = &LeaderboardEntry{UserID: rec.Activity.UserID}
			byUser[rec.Activity.UserID] = e
		}
		e.Points += rec.Breakdown.Total
		e.Activities++
	}

	entries := make([]LeaderboardEntry, 0, len(byUser))
	for _, e := range byUser {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return rankEntries(entries), nil
}
