package tracker

import (
	"time"

	"sweatbot/internal/points"
	"sweatbot/internal/registry"
)

// PersonalRecord is the best value a user has reached on one exercise metric
type PersonalRecord struct {
	UserID      string          `json:"user_id"`
	ExerciseKey string          `json:"exercise_key"`
	Metric      registry.Metric `json:"metric"`
	Value       float64         `json:"value"`
	AchievedAt  time.Time       `json:"achieved_at"`
}

// PRResult describes a new personal record
type PRResult struct {
	ExerciseKey        string          `json:"exercise_key"`
	Metric             registry.Metric `json:"metric"`
	NewValue           float64         `json:"new_value"`
	PreviousValue      float64         `json:"previous_value"`
	HadPrevious        bool            `json:"had_previous"`
	ImprovementPercent float64         `json:"improvement_percent"`
	FirstRecord        bool            `json:"first_record"` // no usable previous value; improvement is unbounded
}

// CompareRecord checks value against the current record (nil when there is
// none). It returns ok only for a strictly greater value; ties and
// regressions report nothing. A previous value of 0 counts as a first record
// and ImprovementPercent stays 0.
func CompareRecord(exerciseKey string, metric registry.Metric, current *PersonalRecord, value float64) (PRResult, bool) {
	if value <= 0 {
		return PRResult{}, false
	}

	res := PRResult{ExerciseKey: exerciseKey, Metric: metric, NewValue: value}
	if current == nil {
		res.FirstRecord = true
		return res, true
	}
	if value <= current.Value {
		return PRResult{}, false
	}

	res.PreviousValue = current.Value
	res.HadPrevious = true
	if current.Value <= 0 {
		res.FirstRecord = true
		return res, true
	}
	res.ImprovementPercent = (value - current.Value) / current.Value * 100
	return res, true
}

// RecordValues returns the candidate record values an activity reached on the
// exercise's record metrics. Metrics the activity doesn't carry are omitted.
func RecordValues(a points.Activity, def registry.ExerciseDefinition) map[registry.Metric]float64 {
	a = points.Normalize(a)
	out := make(map[registry.Metric]float64, len(def.RecordMetrics))
	for _, m := range def.RecordMetrics {
		if v := a.MetricValue(m); v > 0 {
			out[m] = v
		}
	}
	return out
}
