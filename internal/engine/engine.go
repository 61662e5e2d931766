// Package engine is the calculation surface callers use: points, streaks,
// personal records and achievements over one registry and one state store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sweatbot/internal/achievement"
	"sweatbot/internal/logger"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/store"
	"sweatbot/internal/tracker"
)

// Engine does not serialize callers. At most one calculation per user may
// be in flight; service.ActivityService enforces that.
type Engine struct {
	registry     *registry.Holder
	calc         *points.Calculator
	state        store.StateStore
	achievements *achievement.Tracker
	clock        func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides time.Now for unlock and progress timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithTracker overrides the achievement tracker.
func WithTracker(t *achievement.Tracker) Option {
	return func(e *Engine) { e.achievements = t }
}

// New returns an Engine reading registry snapshots from reg.
func New(reg *registry.Holder, calc *points.Calculator, state store.StateStore, opts ...Option) *Engine {
	e := &Engine{
		registry:     reg,
		calc:         calc,
		state:        state,
		achievements: achievement.NewTracker(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the snapshot new calculations will use.
func (e *Engine) Registry() *registry.Registry {
	return e.registry.Current()
}

// CalculatePoints scores an activity against the current registry snapshot.
func (e *Engine) CalculatePoints(a points.Activity, uc points.UserContext) points.Breakdown {
	return e.CalculateWith(e.registry.Current(), a, uc)
}

// CalculateWith scores against a snapshot the caller already holds, so a
// multi-step pipeline sees one registry version throughout.
func (e *Engine) CalculateWith(reg *registry.Registry, a points.Activity, uc points.UserContext) points.Breakdown {
	b := e.calc.Calculate(a, reg, uc)
	if !b.OK() {
		logger.Debug("Activity not scored", "activity", a.ID, "user", a.UserID, "status", b.Status, "error", b.Error)
	}
	return b
}

// CheckAchievements unlocks every achievement stats newly satisfy, persists
// the unlocks and refreshes stored progress. An unlock the store already holds
// is skipped, so calling twice never duplicates.
func (e *Engine) CheckAchievements(ctx context.Context, stats achievement.UserStats) ([]achievement.Unlock, error) {
	return e.CheckAchievementsWith(ctx, e.registry.Current(), stats)
}

// CheckAchievementsWith is CheckAchievements against a given snapshot.
func (e *Engine) CheckAchievementsWith(ctx context.Context, reg *registry.Registry, stats achievement.UserStats) ([]achievement.Unlock, error) {
	if reg == nil {
		return nil, registry.ErrNotLoaded
	}

	unlocked, err := e.unlockedSet(ctx, stats.UserID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	defs := reg.Achievements()
	var added []achievement.Unlock
	for _, u := range e.achievements.Check(defs, stats, unlocked, now) {
		err := e.state.AddUserAchievement(ctx, u.Achievement)
		if errors.Is(err, store.ErrAchievementAlreadyUnlocked) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("saving achievement %s: %w", u.Definition.ID, err)
		}
		unlocked[u.Definition.ID] = true
		added = append(added, u)
		logger.Info("Achievement unlocked", "user", stats.UserID, "achievement", u.Definition.ID, "reward", u.Definition.PointsReward)
	}

	progress := e.achievements.Progress(defs, stats, unlocked, now)
	if err := e.state.SaveAchievementProgress(ctx, progress); err != nil {
		return added, fmt.Errorf("saving progress: %w", err)
	}
	return added, nil
}

// Progress reports progress on every enabled achievement without
// persisting anything.
func (e *Engine) Progress(ctx context.Context, stats achievement.UserStats) ([]achievement.AchievementProgress, error) {
	reg := e.registry.Current()
	if reg == nil {
		return nil, registry.ErrNotLoaded
	}
	unlocked, err := e.unlockedSet(ctx, stats.UserID)
	if err != nil {
		return nil, err
	}
	return e.achievements.Progress(reg.Achievements(), stats, unlocked, e.clock()), nil
}

// Streak returns a user's stored streak, or a zero streak for new users.
func (e *Engine) Streak(ctx context.Context, userID string) (tracker.UserStreak, error) {
	s, err := e.state.GetStreak(ctx, userID)
	if errors.Is(err, store.ErrStreakNotFound) {
		return tracker.UserStreak{UserID: userID}, nil
	}
	if err != nil {
		return tracker.UserStreak{}, fmt.Errorf("loading streak for %s: %w", userID, err)
	}
	return s, nil
}

// UpdateStreak applies an activity on activityDate to the user's streak and
// saves the result. activityDate should already be in the user's timezone.
func (e *Engine) UpdateStreak(ctx context.Context, userID string, activityDate time.Time) (tracker.StreakUpdate, error) {
	s, err := e.Streak(ctx, userID)
	if err != nil {
		return tracker.StreakUpdate{}, err
	}

	update := tracker.UpdateStreak(s, activityDate)
	if update.Change == tracker.StreakUnchanged {
		return update, nil
	}
	if err := e.state.SaveStreak(ctx, update.Streak); err != nil {
		return tracker.StreakUpdate{}, fmt.Errorf("saving streak for %s: %w", userID, err)
	}
	if update.Change == tracker.StreakReset {
		logger.Info("Streak reset", "user", userID, "best", update.Streak.Best)
	}
	return update, nil
}

// GrantGraceTokens adds n grace tokens to a user's streak, capped at limit.
func (e *Engine) GrantGraceTokens(ctx context.Context, userID string, n, limit int) (tracker.UserStreak, error) {
	s, err := e.Streak(ctx, userID)
	if err != nil {
		return tracker.UserStreak{}, err
	}
	s = tracker.GrantGraceTokens(s, n, limit)
	if err := e.state.SaveStreak(ctx, s); err != nil {
		return tracker.UserStreak{}, fmt.Errorf("saving streak for %s: %w", userID, err)
	}
	return s, nil
}

// ProbePersonalRecord reports whether value would be a new record without
// writing it.
func (e *Engine) ProbePersonalRecord(ctx context.Context, userID, exerciseKey string, metric registry.Metric, value float64) (*tracker.PRResult, error) {
	current, err := e.state.GetPersonalRecord(ctx, userID, exerciseKey, metric)
	if err != nil && !errors.Is(err, store.ErrPersonalRecordNotFound) {
		return nil, fmt.Errorf("loading record %s/%s: %w", exerciseKey, metric, err)
	}
	res, ok := tracker.CompareRecord(exerciseKey, metric, current, value)
	if !ok {
		return nil, nil
	}
	return &res, nil
}

// TryPersonalRecord stores value as the user's record when it strictly beats
// the current one. It returns nil and writes nothing otherwise.
func (e *Engine) TryPersonalRecord(ctx context.Context, userID, exerciseKey string, metric registry.Metric, value float64, ts time.Time) (*tracker.PRResult, error) {
	res, err := e.ProbePersonalRecord(ctx, userID, exerciseKey, metric, value)
	if err != nil || res == nil {
		return nil, err
	}

	pr := tracker.PersonalRecord{
		UserID:      userID,
		ExerciseKey: exerciseKey,
		Metric:      metric,
		Value:       value,
		AchievedAt:  ts,
	}
	if err := e.state.SavePersonalRecord(ctx, pr); err != nil {
		return nil, fmt.Errorf("saving record %s/%s: %w", exerciseKey, metric, err)
	}
	logger.Info("Personal record", "user", userID, "exercise", exerciseKey, "metric", metric, "value", value, "previous", res.PreviousValue)
	return res, nil
}

// Limits returns the activity limits the calculator validates against.
func (e *Engine) Limits() points.Limits {
	return e.calc.Limits
}

// Achievements returns the achievements a user has unlocked.
func (e *Engine) Achievements(ctx context.Context, userID string) ([]achievement.UserAchievement, error) {
	held, err := e.state.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading achievements for %s: %w", userID, err)
	}
	return held, nil
}

func (e *Engine) unlockedSet(ctx context.Context, userID string) (map[string]bool, error) {
	held, err := e.Achievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocked := make(map[string]bool, len(held))
	for _, ua := range held {
		unlocked[ua.AchievementID] = true
	}
	return unlocked, nil
}
