package achievement

import (
	"math"
	"time"

	"github.com/google/uuid"

	"sweatbot/internal/condition"
	"sweatbot/internal/logger"
	"sweatbot/internal/registry"
)

// Unlock is a newly satisfied achievement and the record to persist for it.
type Unlock struct {
	Definition  registry.AchievementDefinition `json:"definition"`
	Achievement UserAchievement                `json:"achievement"`
}

// Tracker evaluates achievement definitions. It is stateless; the unlocked set
// comes from the caller.
type Tracker struct {
	newID func() string
}

// NewTracker returns a Tracker that assigns uuid ids to unlocks.
func NewTracker() *Tracker {
	return &Tracker{newID: uuid.NewString}
}

// Satisfied reports whether stats meet def's condition. A malformed condition
// or stats that can't answer the condition type are not satisfied.
func Satisfied(def registry.AchievementDefinition, stats UserStats) bool {
	cond, err := def.ParsedCondition()
	if err != nil {
		logger.Warn("Skipping achievement with malformed condition", "achievement", def.ID, "error", err)
		return false
	}
	ctx, ok := contextFor(def, stats)
	if !ok {
		return false
	}
	return cond.Match(ctx)
}

// Check returns achievements from defs that stats now satisfy and that are
// not in unlocked. Disabled definitions are skipped and an id is reported at
// most once per call.
func (t *Tracker) Check(defs []registry.AchievementDefinition, stats UserStats, unlocked map[string]bool, now time.Time) []Unlock {
	var out []Unlock
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if !def.Enabled || unlocked[def.ID] || seen[def.ID] {
			continue
		}
		if !Satisfied(def, stats) {
			continue
		}
		seen[def.ID] = true

		value, target := measure(def, stats)
		out = append(out, Unlock{
			Definition: def,
			Achievement: UserAchievement{
				ID:             t.newID(),
				UserID:         stats.UserID,
				AchievementID:  def.ID,
				UnlockedAt:     now,
				ProgressValue:  value,
				ProgressTarget: target,
			},
		})
	}
	return out
}

// Progress reports value, target and ETA for every enabled definition.
// Unlocked achievements report 100%.
func (t *Tracker) Progress(defs []registry.AchievementDefinition, stats UserStats, unlocked map[string]bool, now time.Time) []AchievementProgress {
	out := make([]AchievementProgress, 0, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		value, target := measure(def, stats)
		p := AchievementProgress{
			UserID:        stats.UserID,
			AchievementID: def.ID,
			Value:         value,
			Target:        target,
			Unlocked:      unlocked[def.ID],
			UpdatedAt:     now,
		}

		met := p.Unlocked || Satisfied(def, stats)
		switch {
		case met:
			p.Percent = 100
		case target > 0:
			p.Percent = math.Max(0, math.Min(100, value/target*100))
		}

		if !met {
			cond, err := def.ParsedCondition()
			if err == nil {
				p.ETADays = projectETA(value, target, stats.DailyRates[cond.Field])
			}
		}
		out = append(out, p)
	}
	return out
}

// measure reads the current value of the condition's field and its numeric
// target. Non-numeric conditions measure 0 of 0.
func measure(def registry.AchievementDefinition, stats UserStats) (value, target float64) {
	cond, err := def.ParsedCondition()
	if err != nil {
		return 0, 0
	}
	target, _ = cond.NumericTarget()

	ctx, ok := contextFor(def, stats)
	if !ok {
		return 0, target
	}
	if v := condition.ValueOf(ctx[cond.Field]); v.Kind == condition.KindNumber {
		value = v.Num
	}
	return value, target
}

// projectETA is a linear projection: remaining / rate per day. nil when the
// rate is unknown or the target is already reached.
func projectETA(value, target, ratePerDay float64) *float64 {
	remaining := target - value
	if ratePerDay <= 0 || remaining <= 0 {
		return nil
	}
	days := remaining / ratePerDay
	return &days
}
