package points

import (
	"math"

	"sweatbot/internal/condition"
	"sweatbot/internal/logger"
	"sweatbot/internal/registry"
)

// DefaultMaxCombinedMultiplier caps the product of all matched multipliers.
const DefaultMaxCombinedMultiplier = 1.5

// AppliedRule records one matched bonus or multiplier
type AppliedRule struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// RuleOutcome is the result of running the bonus and multiplier rules.
type RuleOutcome struct {
	Bonuses            []AppliedRule
	BonusPoints        int64
	Multipliers        []AppliedRule
	UncappedMultiplier float64
	CombinedMultiplier float64
	Capped             bool
}

// EvaluateRules applies bonus rules then multiplier rules, each in the order
// given (callers pass them sorted by priority). Every matching bonus applies,
// equal priority included. Disabled rules are ignored and a rule with a
// malformed condition is skipped with a warning. The product of matched
// multipliers is clamped to maxMultiplier once, after multiplying; a
// maxMultiplier <= 0 disables the cap.
func EvaluateRules(bonus, multiplier []registry.Rule, ctx condition.Context, maxMultiplier float64) RuleOutcome {
	out := RuleOutcome{
		Bonuses:            []AppliedRule{},
		Multipliers:        []AppliedRule{},
		UncappedMultiplier: 1.0,
		CombinedMultiplier: 1.0,
	}

	for _, r := range bonus {
		if !matches(r, ctx) {
			continue
		}
		pts := floorPoints(r.Value)
		out.BonusPoints += pts
		out.Bonuses = append(out.Bonuses, AppliedRule{ID: r.ID, Label: r.Label(), Value: float64(pts)})
	}

	for _, r := range multiplier {
		if !matches(r, ctx) {
			continue
		}
		out.UncappedMultiplier *= r.Value
		out.Multipliers = append(out.Multipliers, AppliedRule{ID: r.ID, Label: r.Label(), Value: r.Value})
	}

	out.CombinedMultiplier = out.UncappedMultiplier
	if maxMultiplier > 0 && out.CombinedMultiplier > maxMultiplier {
		out.CombinedMultiplier = maxMultiplier
		out.Capped = true
	}
	return out
}

func matches(r registry.Rule, ctx condition.Context) bool {
	if !r.Enabled {
		return false
	}
	ok, err := r.Matches(ctx)
	if err != nil {
		logger.Warn("Skipping rule with malformed condition", "rule", r.ID, "condition", r.Condition, "error", err)
		return false
	}
	return ok
}

// floorEpsilon absorbs binary representation error so that e.g. 2.3*100
// floors to 230, not 229.
const floorEpsilon = 1e-9

func floorPoints(x float64) int64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return int64(math.Floor(x + floorEpsilon))
}
