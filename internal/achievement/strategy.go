package achievement

import (
	"sweatbot/internal/condition"
	"sweatbot/internal/registry"
)

// strategy builds the context a condition type is evaluated against. ok is
// false when the stats can't answer the condition at all.
type strategy func(s UserStats) (ctx condition.Context, ok bool)

var strategies = map[registry.ConditionType]strategy{
	registry.ConditionSum:   aggregateContext,
	registry.ConditionCount: aggregateContext,
	registry.ConditionMax:   aggregateContext,

	registry.ConditionStreak: func(s UserStats) (condition.Context, bool) {
		return s.withExtra(condition.Context{
			"current_streak": s.CurrentStreak,
			"streak_days":    s.CurrentStreak,
			"best_streak":    s.BestStreak,
		}), true
	},

	// evaluated against the single activity being recorded, never aggregates
	registry.ConditionDistanceOnce: func(s UserStats) (condition.Context, bool) {
		if s.LastActivity == nil {
			return nil, false
		}
		ctx := condition.Context{}
		for k, v := range s.LastActivity {
			ctx[k] = v
		}
		return ctx, true
	},

	registry.ConditionCountDistinct: func(s UserStats) (condition.Context, bool) {
		if s.DistinctExercises == nil {
			return nil, false
		}
		return s.withExtra(condition.Context{"distinct_exercises": *s.DistinctExercises}), true
	},

	registry.ConditionVariety: func(s UserStats) (condition.Context, bool) {
		if s.CategoriesInWindow == nil {
			return nil, false
		}
		return s.withExtra(condition.Context{"categories_in_window": *s.CategoriesInWindow}), true
	},
}

func aggregateContext(s UserStats) (condition.Context, bool) {
	return s.aggregates(), true
}

// contextFor picks the evaluation context for a definition.
func contextFor(def registry.AchievementDefinition, s UserStats) (condition.Context, bool) {
	build, known := strategies[def.ConditionType]
	if !known {
		return nil, false
	}
	return build(s)
}
