package points

import (
	"time"

	"sweatbot/internal/condition"
	"sweatbot/internal/registry"
)

// UserContext is the caller-supplied state about the user at the time of the
// activity.
type UserContext struct {
	StreakDays           int64
	LifetimePoints       int64
	LifetimeActivities   int64
	SessionExerciseCount int64
	IsPersonalRecord     bool
	IsFirstActivityToday bool
	MaxHeartRate         float64
	Location             *time.Location // for hour_of_day and day_of_week; UTC when nil
	Extra                map[string]any // additional condition fields; never override built-ins
}

// BuildContext flattens an activity and user context into the fields rule
// conditions can reference. Metrics the activity doesn't carry are left
// undefined rather than zero.
func BuildContext(a Activity, def registry.ExerciseDefinition, uc UserContext) condition.Context {
	ctx := condition.Context{
		"exercise":                def.Key,
		"category":                string(def.Category),
		"streak_days":             uc.StreakDays,
		"lifetime_points":         uc.LifetimePoints,
		"lifetime_activities":     uc.LifetimeActivities,
		"session_exercise_count":  uc.SessionExerciseCount,
		"is_personal_record":      uc.IsPersonalRecord,
		"is_first_activity_today": uc.IsFirstActivityToday,
	}

	setPositive := func(key string, v float64) {
		if v > 0 {
			ctx[key] = v
		}
	}
	setPositive("reps", float64(a.Reps))
	setPositive("sets", float64(a.Sets))
	setPositive("weight_kg", a.WeightKg)
	setPositive("distance_km", a.DistanceKm)
	setPositive("duration_sec", a.DurationSec)
	setPositive("heart_rate_avg", a.HeartRateAvg)
	setPositive("elevation_m", a.ElevationM)
	setPositive("total_reps", float64(a.TotalReps()))
	setPositive("volume_kg", a.VolumeKg())

	if !a.Start.IsZero() {
		loc := uc.Location
		if loc == nil {
			loc = time.UTC
		}
		start := a.Start.In(loc)
		ctx["hour_of_day"] = start.Hour()
		ctx["day_of_week"] = int(start.Weekday())
		if a.End.After(a.Start) {
			ctx["session_minutes"] = a.End.Sub(a.Start).Minutes()
		}
	}

	if zone := HeartRateZone(a.HeartRateAvg, uc.MaxHeartRate); zone > 0 {
		ctx["heart_rate_zone"] = zone
	}

	for k, v := range uc.Extra {
		if _, builtin := ctx[k]; !builtin {
			ctx[k] = v
		}
	}
	return ctx
}
