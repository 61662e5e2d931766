// Package points turns a logged activity into an itemized, auditable point
// breakdown.
package points

import (
	"sweatbot/internal/registry"
)

// SchemaVersion identifies the Breakdown layout. Bump it when stored
// breakdowns would no longer be read the same way.
const SchemaVersion = 1

// Component is the points one metric contributed
type Component struct {
	Metric     registry.Metric `json:"metric"`
	Value      float64         `json:"value"`
	Multiplier float64         `json:"multiplier"`
	Points     int64           `json:"points"`
}

// Breakdown is the full result of one calculation. Every intermediate value is
// kept so the total can be reconstructed from the stored fields alone.
type Breakdown struct {
	SchemaVersion   int        `json:"schema_version"`
	ActivityID      string     `json:"activity_id"`
	UserID          string     `json:"user_id"`
	ExerciseKey     string     `json:"exercise_key"`
	RegistryVersion string     `json:"registry_version"`
	Status          ReasonCode `json:"status"`
	Error           string     `json:"error,omitempty"`

	BasePoints            int64       `json:"base_points"`
	Components            []Component `json:"components"`
	ComponentPoints       int64       `json:"component_points"`
	SubtotalBeforeBonuses int64       `json:"subtotal_before_bonuses"`

	Bonuses                  []AppliedRule `json:"bonuses"`
	BonusPoints              int64         `json:"bonus_points"`
	SubtotalBeforeMultiplier int64         `json:"subtotal_before_multiplier"`

	Multipliers        []AppliedRule `json:"multipliers"`
	UncappedMultiplier float64       `json:"uncapped_multiplier"`
	CombinedMultiplier float64       `json:"combined_multiplier"`
	MultiplierCapped   bool          `json:"multiplier_capped"`

	Total int64 `json:"total"`
}

// OK reports whether the calculation ran to completion.
func (b Breakdown) OK() bool {
	return b.Status == StatusOK
}

// Calculator computes breakdowns. It holds no per-user state and is safe for
// concurrent use.
type Calculator struct {
	Limits                Limits
	MaxCombinedMultiplier float64
}

// NewCalculator returns a Calculator. A maxMultiplier <= 0 selects
// DefaultMaxCombinedMultiplier.
func NewCalculator(limits Limits, maxMultiplier float64) *Calculator {
	if maxMultiplier <= 0 {
		maxMultiplier = DefaultMaxCombinedMultiplier
	}
	return &Calculator{Limits: limits, MaxCombinedMultiplier: maxMultiplier}
}

// Calculate scores one activity against a registry snapshot. It never fails:
// validation and configuration problems come back as a zero-point breakdown
// with a reason code.
func (c *Calculator) Calculate(a Activity, reg *registry.Registry, uc UserContext) Breakdown {
	b := Breakdown{
		SchemaVersion:      SchemaVersion,
		ActivityID:         a.ID,
		UserID:             a.UserID,
		ExerciseKey:        a.ExerciseKey,
		Status:             StatusOK,
		Components:         []Component{},
		Bonuses:            []AppliedRule{},
		Multipliers:        []AppliedRule{},
		UncappedMultiplier: 1.0,
		CombinedMultiplier: 1.0,
	}

	if err := Validate(a, c.Limits); err != nil {
		return b.fail(StatusInvalidActivity, err)
	}
	if reg == nil {
		return b.fail(StatusRegistryUnavailable, &ConfigurationError{Key: "registry", Reason: "not loaded"})
	}
	b.RegistryVersion = reg.Version

	def, ok := reg.Exercise(a.ExerciseKey)
	if !ok {
		return b.fail(StatusExerciseNotFound, &ConfigurationError{Key: a.ExerciseKey, Reason: "exercise not found"})
	}
	if !def.Enabled {
		return b.fail(StatusExerciseDisabled, &ConfigurationError{Key: a.ExerciseKey, Reason: "exercise disabled"})
	}

	a = Normalize(a)

	b.BasePoints = floorPoints(def.BasePoints)
	for _, metric := range registry.Metrics {
		value := a.MetricValue(metric)
		mult, defined := def.Multipliers[metric]
		if value <= 0 || !defined {
			continue
		}
		comp := Component{Metric: metric, Value: value, Multiplier: mult, Points: componentPoints(def.BasePoints, metric, value, mult)}
		b.Components = append(b.Components, comp)
		b.ComponentPoints += comp.Points
	}
	b.SubtotalBeforeBonuses = b.BasePoints + b.ComponentPoints

	ctx := BuildContext(a, def, uc)
	outcome := EvaluateRules(reg.BonusRules(), reg.MultiplierRules(), ctx, c.MaxCombinedMultiplier)

	b.Bonuses = outcome.Bonuses
	b.BonusPoints = outcome.BonusPoints
	b.SubtotalBeforeMultiplier = b.SubtotalBeforeBonuses + b.BonusPoints

	b.Multipliers = outcome.Multipliers
	b.UncappedMultiplier = outcome.UncappedMultiplier
	b.CombinedMultiplier = outcome.CombinedMultiplier
	b.MultiplierCapped = outcome.Capped

	b.Total = floorPoints(float64(b.SubtotalBeforeMultiplier) * b.CombinedMultiplier)
	if b.Total < 0 {
		b.Total = 0
	}
	return b
}

// componentPoints scores one metric. Volume metrics scale with the exercise's
// base points; weight_kg is a load metric and is applied flat.
func componentPoints(base float64, metric registry.Metric, value, mult float64) int64 {
	if metric.BaseScaled() {
		return floorPoints(base * value * mult)
	}
	return floorPoints(value * mult)
}

func (b Breakdown) fail(code ReasonCode, err error) Breakdown {
	b.Status = code
	b.Error = err.Error()
	b.Total = 0
	return b
}
