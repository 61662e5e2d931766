// Package achievement evaluates achievement conditions against aggregate user
// statistics and reports unlocks and progress.
package achievement

import (
	"time"

	"sweatbot/internal/condition"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
)

// UserStats is the aggregate snapshot achievement conditions run against. The
// caller computes it; set cardinalities in particular are never derived here.
type UserStats struct {
	UserID           string  `json:"user_id"`
	TotalPoints      int64   `json:"total_points"`
	TotalActivities  int64   `json:"total_activities"`
	TotalReps        int64   `json:"total_reps"`
	TotalSets        int64   `json:"total_sets"`
	TotalDistanceKm  float64 `json:"total_distance_km"`
	TotalDurationSec float64 `json:"total_duration_sec"`
	MaxWeightKg      float64 `json:"max_weight_kg"`
	MaxDistanceKm    float64 `json:"max_distance_km"`
	CurrentStreak    int     `json:"current_streak"`
	BestStreak       int     `json:"best_streak"`

	// nil when the caller did not compute the cardinality
	DistinctExercises  *int `json:"distinct_exercises,omitempty"`
	CategoriesInWindow *int `json:"categories_in_window,omitempty"`

	// metrics of the activity being recorded, for distance_once conditions
	LastActivity map[string]any `json:"last_activity,omitempty"`

	// recent average per day, keyed by condition field, for ETA projection
	DailyRates map[string]float64 `json:"daily_rates,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// UserAchievement is an unlocked achievement
type UserAchievement struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	AchievementID  string    `json:"achievement_id"`
	UnlockedAt     time.Time `json:"unlocked_at"`
	ProgressValue  float64   `json:"progress_value"`
	ProgressTarget float64   `json:"progress_target"`
}

// AchievementProgress is live progress towards an achievement
type AchievementProgress struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	Value         float64   `json:"value"`
	Target        float64   `json:"target"`
	Percent       float64   `json:"percent"`
	ETADays       *float64  `json:"eta_days,omitempty"`
	Unlocked      bool      `json:"unlocked"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ActivityMetrics flattens the activity being recorded for distance_once
// style conditions.
func ActivityMetrics(a points.Activity, def registry.ExerciseDefinition) map[string]any {
	a = points.Normalize(a)
	m := map[string]any{
		"exercise": def.Key,
		"category": string(def.Category),
	}
	for _, metric := range registry.Metrics {
		if v := a.MetricValue(metric); v > 0 {
			m[string(metric)] = v
		}
	}
	if a.ElevationM > 0 {
		m["elevation_m"] = a.ElevationM
	}
	return m
}

func (s UserStats) aggregates() condition.Context {
	ctx := condition.Context{
		"total_points":       s.TotalPoints,
		"total_activities":   s.TotalActivities,
		"total_reps":         s.TotalReps,
		"total_sets":         s.TotalSets,
		"total_distance_km":  s.TotalDistanceKm,
		"total_duration_sec": s.TotalDurationSec,
		"max_weight_kg":      s.MaxWeightKg,
		"max_distance_km":    s.MaxDistanceKm,
	}
	return s.withExtra(ctx)
}

func (s UserStats) withExtra(ctx condition.Context) condition.Context {
	for k, v := range s.Extra {
		if _, builtin := ctx[k]; !builtin {
			ctx[k] = v
		}
	}
	return ctx
}
