package registry

import (
	"fmt"

	"sweatbot/internal/condition"
)

// Category groups exercises by the shape of their metric payload
type Category string

const (
	CategoryStrength Category = "strength"
	CategoryCardio   Category = "cardio"
	CategoryCore     Category = "core"
)

func (c Category) valid() bool {
	switch c {
	case CategoryStrength, CategoryCardio, CategoryCore:
		return true
	}
	return false
}

// Metric names a per-unit quantity an exercise can award points for
type Metric string

const (
	MetricReps       Metric = "reps"
	MetricSets       Metric = "sets"
	MetricWeightKg   Metric = "weight_kg"
	MetricDistanceKm Metric = "distance_km"
	MetricDuration   Metric = "duration_sec"
)

// Metrics lists every metric in the order components are itemized.
var Metrics = []Metric{MetricReps, MetricSets, MetricWeightKg, MetricDistanceKm, MetricDuration}

func (m Metric) valid() bool {
	for _, known := range Metrics {
		if m == known {
			return true
		}
	}
	return false
}

// BaseScaled reports whether the metric's component is scaled by the
// exercise's base points. weight_kg is a load metric and is applied flat.
func (m Metric) BaseScaled() bool {
	return m != MetricWeightKg
}

// DefaultRecordMetrics are the personal-record metrics used when an exercise
// does not list its own.
var DefaultRecordMetrics = map[Category][]Metric{
	CategoryStrength: {MetricWeightKg, MetricReps},
	CategoryCardio:   {MetricDistanceKm, MetricDuration},
	CategoryCore:     {MetricReps, MetricDuration},
}

// ExerciseDefinition is an immutable catalog entry
type ExerciseDefinition struct {
	Key           string
	NameEN        string
	NameHE        string
	Aliases       []string
	Category      Category
	BasePoints    float64
	Multipliers   map[Metric]float64
	RecordMetrics []Metric
	Enabled       bool
}

// DisplayName prefers the Hebrew name, the app's primary language.
func (e ExerciseDefinition) DisplayName() string {
	if e.NameHE != "" {
		return e.NameHE
	}
	if e.NameEN != "" {
		return e.NameEN
	}
	return e.Key
}

// RuleKind says how a matched rule changes the running total
type RuleKind string

const (
	RuleBonus      RuleKind = "bonus"
	RuleMultiplier RuleKind = "multiplier"
)

// Rule is a named condition plus an effect value. Bonus values are added to
// the subtotal, multiplier values scale it.
type Rule struct {
	ID          string
	Name        string
	Description string
	Kind        RuleKind
	Condition   string
	Value       float64
	Priority    int
	Enabled     bool

	compiled bool
	cond     condition.Condition
	condErr  error
}

// NewRule builds an enabled rule and parses its condition.
func NewRule(id string, kind RuleKind, expr string, value float64, priority int) Rule {
	r := Rule{ID: id, Name: id, Kind: kind, Condition: expr, Value: value, Priority: priority, Enabled: true}
	r.compile()
	return r
}

func (r *Rule) compile() {
	r.cond, r.condErr = condition.Parse(r.Condition)
	r.compiled = true
}

// Label is the text shown for the rule in a points breakdown.
func (r Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Matches evaluates the rule condition against ctx. A malformed condition
// never matches and is reported through the error.
func (r Rule) Matches(ctx condition.Context) (bool, error) {
	if !r.compiled {
		r.compile()
	}
	if r.condErr != nil {
		return false, fmt.Errorf("rule %s: %w", r.ID, r.condErr)
	}
	return r.cond.Match(ctx), nil
}

// ConditionType selects how an achievement condition is evaluated
type ConditionType string

const (
	ConditionSum           ConditionType = "sum"
	ConditionCount         ConditionType = "count"
	ConditionMax           ConditionType = "max"
	ConditionStreak        ConditionType = "streak"
	ConditionDistanceOnce  ConditionType = "distance_once"
	ConditionCountDistinct ConditionType = "count_distinct"
	ConditionVariety       ConditionType = "variety"
)

func (t ConditionType) valid() bool {
	switch t {
	case ConditionSum, ConditionCount, ConditionMax, ConditionStreak,
		ConditionDistanceOnce, ConditionCountDistinct, ConditionVariety:
		return true
	}
	return false
}

// Tier is an achievement's difficulty level
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// AchievementDefinition is a static milestone definition
type AchievementDefinition struct {
	ID            string
	Name          string
	NameHE        string
	Description   string
	Category      string
	Tier          Tier
	ConditionType ConditionType
	Condition     string
	PointsReward  int64
	Enabled       bool

	compiled bool
	cond     condition.Condition
	condErr  error
}

// NewAchievement builds an enabled achievement definition and parses its condition.
func NewAchievement(id string, ct ConditionType, expr string, reward int64) AchievementDefinition {
	a := AchievementDefinition{ID: id, Name: id, ConditionType: ct, Condition: expr, PointsReward: reward, Enabled: true, Tier: TierBronze}
	a.compile()
	return a
}

func (a *AchievementDefinition) compile() {
	a.cond, a.condErr = condition.Parse(a.Condition)
	a.compiled = true
}

// ParsedCondition returns the parsed condition, or the parse error for a
// malformed one.
func (a AchievementDefinition) ParsedCondition() (condition.Condition, error) {
	if !a.compiled {
		a.compile()
	}
	if a.condErr != nil {
		return condition.Condition{}, fmt.Errorf("achievement %s: %w", a.ID, a.condErr)
	}
	return a.cond, nil
}
