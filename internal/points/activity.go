package points

import (
	"math"
	"time"

	"sweatbot/internal/registry"
)

// SetEntry is one set of a strength activity
type SetEntry struct {
	Reps     int     `json:"reps"`
	WeightKg float64 `json:"weight_kg"`
}

// Activity is one logged exercise occurrence. Strength activities may carry a
// per-set log instead of (or as well as) the summary fields.
type Activity struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ExerciseKey  string     `json:"exercise_key"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	Reps         int        `json:"reps,omitempty"`
	Sets         int        `json:"sets,omitempty"`
	WeightKg     float64    `json:"weight_kg,omitempty"`
	DistanceKm   float64    `json:"distance_km,omitempty"`
	DurationSec  float64    `json:"duration_sec,omitempty"`
	HeartRateAvg float64    `json:"heart_rate_avg,omitempty"`
	ElevationM   float64    `json:"elevation_m,omitempty"`
	SetLog       []SetEntry `json:"set_log,omitempty"`
}

// Limits bound what a single activity may claim
type Limits struct {
	MaxActivityDuration time.Duration
	MaxReps             int
	MaxSets             int
	MaxWeightKg         float64
	MaxDistanceKm       float64
	MaxDurationSec      float64
	MaxHeartRate        float64
	MaxElevationM       float64
}

// DefaultLimits rejects obviously corrupt input while allowing ultra efforts.
func DefaultLimits() Limits {
	return Limits{
		MaxActivityDuration: 8 * time.Hour,
		MaxReps:             1000,
		MaxSets:             100,
		MaxWeightKg:         500,
		MaxDistanceKm:       300,
		MaxDurationSec:      8 * 60 * 60,
		MaxHeartRate:        250,
		MaxElevationM:       10000,
	}
}

// Validate rejects activities with negative, non-finite or out-of-range
// values and invalid time ranges. The activity is never coerced.
func Validate(a Activity, limits Limits) error {
	if a.Start.IsZero() {
		return &ValidationError{Field: "start", Reason: "is required"}
	}
	if a.End.IsZero() {
		return &ValidationError{Field: "end", Reason: "is required"}
	}
	if !a.End.After(a.Start) {
		return &ValidationError{Field: "end", Reason: "must be after start"}
	}
	if limits.MaxActivityDuration > 0 && a.End.Sub(a.Start) > limits.MaxActivityDuration {
		return &ValidationError{Field: "end", Reason: "time range exceeds " + limits.MaxActivityDuration.String()}
	}

	ints := []struct {
		field string
		value int
		max   int
	}{
		{"reps", a.Reps, limits.MaxReps},
		{"sets", a.Sets, limits.MaxSets},
		{"set_log", len(a.SetLog), limits.MaxSets},
	}
	for _, c := range ints {
		if c.value < 0 {
			return &ValidationError{Field: c.field, Reason: "must not be negative"}
		}
		if c.max > 0 && c.value > c.max {
			return &ValidationError{Field: c.field, Reason: "is out of range"}
		}
	}

	floats := []struct {
		field string
		value float64
		max   float64
	}{
		{"weight_kg", a.WeightKg, limits.MaxWeightKg},
		{"distance_km", a.DistanceKm, limits.MaxDistanceKm},
		{"duration_sec", a.DurationSec, limits.MaxDurationSec},
		{"heart_rate_avg", a.HeartRateAvg, limits.MaxHeartRate},
		{"elevation_m", a.ElevationM, limits.MaxElevationM},
	}
	for _, c := range floats {
		if err := checkFloat(c.field, c.value, c.max); err != nil {
			return err
		}
	}

	for _, s := range a.SetLog {
		if s.Reps < 0 {
			return &ValidationError{Field: "set_log.reps", Reason: "must not be negative"}
		}
		if limits.MaxReps > 0 && s.Reps > limits.MaxReps {
			return &ValidationError{Field: "set_log.reps", Reason: "is out of range"}
		}
		if err := checkFloat("set_log.weight_kg", s.WeightKg, limits.MaxWeightKg); err != nil {
			return err
		}
	}
	return nil
}

func checkFloat(field string, v, max float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Reason: "is not a number"}
	}
	if v < 0 {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	if max > 0 && v > max {
		return &ValidationError{Field: field, Reason: "is out of range"}
	}
	return nil
}

// Normalize reconciles the summary fields with the set log: each of sets,
// reps per set and weight is the larger of the explicit value and the value
// derived from the log, so adding to either never lowers the score.
func Normalize(a Activity) Activity {
	if len(a.SetLog) == 0 {
		return a
	}
	total := 0
	heaviest := 0.0
	for _, s := range a.SetLog {
		total += s.Reps
		heaviest = math.Max(heaviest, s.WeightKg)
	}
	a.Sets = max(a.Sets, len(a.SetLog))
	a.Reps = max(a.Reps, total/len(a.SetLog))
	a.WeightKg = math.Max(a.WeightKg, heaviest)
	return a
}

// MetricValue returns the activity's value for a per-unit metric.
func (a Activity) MetricValue(m registry.Metric) float64 {
	switch m {
	case registry.MetricReps:
		return float64(a.Reps)
	case registry.MetricSets:
		return float64(a.Sets)
	case registry.MetricWeightKg:
		return a.WeightKg
	case registry.MetricDistanceKm:
		return a.DistanceKm
	case registry.MetricDuration:
		return a.DurationSec
	}
	return 0
}

// TotalReps counts every rep performed: the set log sum when present,
// otherwise reps per set times sets.
func (a Activity) TotalReps() int {
	if len(a.SetLog) > 0 {
		total := 0
		for _, s := range a.SetLog {
			total += s.Reps
		}
		return total
	}
	if a.Sets > 0 {
		return a.Reps * a.Sets
	}
	return a.Reps
}

// VolumeKg is total load moved (reps x weight).
func (a Activity) VolumeKg() float64 {
	if len(a.SetLog) > 0 {
		v := 0.0
		for _, s := range a.SetLog {
			w := s.WeightKg
			if w == 0 {
				w = a.WeightKg
			}
			v += float64(s.Reps) * w
		}
		return v
	}
	return float64(a.TotalReps()) * a.WeightKg
}

// Date is the calendar day the activity started on in loc.
func (a Activity) Date(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := a.Start.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
