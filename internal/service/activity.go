package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sweatbot/internal/achievement"
	"sweatbot/internal/engine"
	"sweatbot/internal/logger"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/store"
	"sweatbot/internal/tracker"
)

// ErrActivityConflict is returned when an activity id is already recorded for
// another user.
var ErrActivityConflict = errors.New("activity id belongs to another user")

// ActivityService runs the full pipeline for a logged activity: scoring,
// streak, personal records and achievements. Calls for the same user are
// serialized; different users run concurrently.
type ActivityService struct {
	engine      *engine.Engine
	log         store.ActivityLog
	locks       *userLocks
	location    *time.Location
	statsWindow time.Duration
	clock       func() time.Time
}

// Options tunes an ActivityService. Zero values select defaults.
type Options struct {
	Location    *time.Location // calendar days for streaks and first-of-day
	StatsWindow time.Duration
	Clock       func() time.Time
}

// NewActivityService creates an activity service
func NewActivityService(e *engine.Engine, log store.ActivityLog, opts Options) *ActivityService {
	s := &ActivityService{
		engine:      e,
		log:         log,
		locks:       newUserLocks(),
		location:    opts.Location,
		statsWindow: opts.StatsWindow,
		clock:       opts.Clock,
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.statsWindow <= 0 {
		s.statsWindow = DefaultStatsWindow
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Result is everything one recorded activity produced
type Result struct {
	Breakdown       points.Breakdown      `json:"breakdown"`
	Streak          *tracker.StreakUpdate `json:"streak,omitempty"`
	PersonalRecords []tracker.PRResult    `json:"personal_records,omitempty"`
	Unlocks         []achievement.Unlock  `json:"unlocks,omitempty"`
	RewardPoints    int64                 `json:"reward_points"`
	LifetimePoints  int64                 `json:"lifetime_points"`
	Level           points.Level          `json:"level"`
	// Duplicate is set when the activity id was already scored; Breakdown is
	// the stored one and nothing else changed.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Record scores and stores an activity. Validation and registry problems are
// reported through Result.Breakdown and leave the user's state untouched;
// only storage failures return an error. An activity without an id is given
// one. Recording an id that was already scored returns the stored breakdown.
func (s *ActivityService) Record(ctx context.Context, a points.Activity, uc points.UserContext) (*Result, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	unlock := s.locks.lock(a.UserID)
	defer unlock()

	if uc.Location == nil {
		uc.Location = s.location
	}
	// one snapshot for the whole pipeline
	reg := s.engine.Registry()
	now := s.clock()

	prev, err := s.log.GetBreakdown(ctx, a.ID)
	switch {
	case err == nil && prev.OK():
		if prev.UserID != a.UserID {
			return nil, fmt.Errorf("recording %s: %w", a.ID, ErrActivityConflict)
		}
		return s.replay(ctx, reg, prev, now)
	case err != nil && !errors.Is(err, store.ErrBreakdownNotFound):
		return nil, fmt.Errorf("loading breakdown %s: %w", a.ID, err)
	}

	def, scorable := s.resolve(reg, a)
	var candidates map[registry.Metric]float64
	if scorable {
		candidates = tracker.RecordValues(a, def)
		filled, err := s.fillContext(ctx, a, def, candidates, uc, now)
		if err != nil {
			return nil, err
		}
		uc = filled
	}

	res := &Result{Breakdown: s.engine.CalculateWith(reg, a, uc)}
	if err := s.log.SaveActivity(ctx, store.ActivityRecord{Activity: a, Category: def.Category, Breakdown: res.Breakdown}); err != nil {
		return nil, fmt.Errorf("saving activity: %w", err)
	}
	if !res.Breakdown.OK() {
		return res, nil
	}

	update, err := s.engine.UpdateStreak(ctx, a.UserID, a.Start.In(uc.Location))
	if err != nil {
		return nil, err
	}
	res.Streak = &update

	for _, metric := range registry.Metrics {
		value, ok := candidates[metric]
		if !ok {
			continue
		}
		pr, err := s.engine.TryPersonalRecord(ctx, a.UserID, a.ExerciseKey, metric, value, a.Start)
		if err != nil {
			return nil, err
		}
		if pr != nil {
			res.PersonalRecords = append(res.PersonalRecords, *pr)
		}
	}

	stats, err := s.stats(ctx, a.UserID, update.Streak, now)
	if err != nil {
		return nil, err
	}
	stats.LastActivity = achievement.ActivityMetrics(a, def)

	res.Unlocks, err = s.engine.CheckAchievementsWith(ctx, reg, stats)
	if err != nil {
		return nil, err
	}

	rewards, err := s.rewardPoints(ctx, reg, a.UserID)
	if err != nil {
		return nil, err
	}
	for _, u := range res.Unlocks {
		res.RewardPoints += u.Definition.PointsReward
	}
	res.LifetimePoints = stats.TotalPoints + rewards
	res.Level = points.LevelForPoints(res.LifetimePoints)

	logger.Info("Activity recorded",
		"user", a.UserID,
		"activity", a.ID,
		"exercise", a.ExerciseKey,
		"points", res.Breakdown.Total,
		"streak", update.Streak.Current,
		"records", len(res.PersonalRecords),
		"unlocks", len(res.Unlocks),
	)
	return res, nil
}

// replay reports an already scored activity without touching any state.
func (s *ActivityService) replay(ctx context.Context, reg *registry.Registry, b points.Breakdown, now time.Time) (*Result, error) {
	stats, err := s.log.UserStats(ctx, b.UserID, now, s.statsWindow)
	if err != nil {
		return nil, fmt.Errorf("loading stats for %s: %w", b.UserID, err)
	}
	rewards, err := s.rewardPoints(ctx, reg, b.UserID)
	if err != nil {
		return nil, err
	}
	res := &Result{Breakdown: b, Duplicate: true, LifetimePoints: stats.TotalPoints + rewards}
	res.Level = points.LevelForPoints(res.LifetimePoints)
	logger.Debug("Activity already recorded", "user", b.UserID, "activity", b.ActivityID)
	return res, nil
}

// resolve reports whether the activity can be scored at all. Anything else
// is left to the calculator to explain.
func (s *ActivityService) resolve(reg *registry.Registry, a points.Activity) (registry.ExerciseDefinition, bool) {
	if reg == nil {
		return registry.ExerciseDefinition{}, false
	}
	def, ok := reg.Exercise(a.ExerciseKey)
	if !ok {
		return registry.ExerciseDefinition{}, false
	}
	if !def.Enabled || points.Validate(a, s.engine.Limits()) != nil {
		return def, false
	}
	return def, true
}

// fillContext sets the user context fields the service owns from stored
// state. StreakDays is the streak as it will be after this activity.
func (s *ActivityService) fillContext(ctx context.Context, a points.Activity, def registry.ExerciseDefinition, candidates map[registry.Metric]float64, uc points.UserContext, now time.Time) (points.UserContext, error) {
	for metric, value := range candidates {
		pr, err := s.engine.ProbePersonalRecord(ctx, a.UserID, def.Key, metric, value)
		if err != nil {
			return uc, err
		}
		if pr != nil {
			uc.IsPersonalRecord = true
			break
		}
	}

	streak, err := s.engine.Streak(ctx, a.UserID)
	if err != nil {
		return uc, err
	}
	projected := tracker.UpdateStreak(streak, a.Start.In(uc.Location))
	uc.StreakDays = int64(projected.Streak.Current)

	stats, err := s.log.UserStats(ctx, a.UserID, now, s.statsWindow)
	if err != nil {
		return uc, fmt.Errorf("loading stats for %s: %w", a.UserID, err)
	}
	uc.LifetimePoints = stats.TotalPoints
	uc.LifetimeActivities = stats.TotalActivities

	today, err := s.log.ActivitiesBetween(ctx, a.UserID, a.Date(uc.Location), a.Start)
	if err != nil {
		return uc, fmt.Errorf("counting today's activities: %w", err)
	}
	uc.IsFirstActivityToday = today == 0

	session, err := s.log.ActivitiesBetween(ctx, a.UserID, a.Start.Add(-SessionWindow), a.Start)
	if err != nil {
		return uc, fmt.Errorf("counting session activities: %w", err)
	}
	uc.SessionExerciseCount = session + 1
	return uc, nil
}

func (s *ActivityService) stats(ctx context.Context, userID string, streak tracker.UserStreak, now time.Time) (achievement.UserStats, error) {
	stats, err := s.log.UserStats(ctx, userID, now, s.statsWindow)
	if err != nil {
		return stats, fmt.Errorf("loading stats for %s: %w", userID, err)
	}
	stats.CurrentStreak = streak.Current
	stats.BestStreak = streak.Best
	if rates := stats.DailyRates; rates != nil && streak.Current > 0 {
		// a live streak grows one day per day
		rates["current_streak"] = 1
		rates["streak_days"] = 1
	}
	return stats, nil
}

// rewardPoints sums the rewards of every achievement the user holds.
// Achievements since removed from the registry are worth nothing.
func (s *ActivityService) rewardPoints(ctx context.Context, reg *registry.Registry, userID string) (int64, error) {
	if reg == nil {
		return 0, nil
	}
	held, err := s.engine.Achievements(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, ua := range held {
		if def, ok := reg.Achievement(ua.AchievementID); ok {
			total += def.PointsReward
		}
	}
	return total, nil
}

// UserProgress reports a user's progress towards every enabled achievement.
func (s *ActivityService) UserProgress(ctx context.Context, userID string) ([]achievement.AchievementProgress, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	streak, err := s.engine.Streak(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, err := s.stats(ctx, userID, streak, s.clock())
	if err != nil {
		return nil, err
	}
	return s.engine.Progress(ctx, stats)
}

// GrantGraceTokens adds grace tokens to a user's streak, capped at limit
// (DefaultMaxGraceTokens when limit <= 0).
func (s *ActivityService) GrantGraceTokens(ctx context.Context, userID string, n, limit int) (tracker.UserStreak, error) {
	if limit <= 0 {
		limit = DefaultMaxGraceTokens
	}
	unlock := s.locks.lock(userID)
	defer unlock()
	return s.engine.GrantGraceTokens(ctx, userID, n, limit)
}

// Breakdown returns the stored breakdown for an activity
func (s *ActivityService) Breakdown(ctx context.Context, activityID string) (points.Breakdown, error) {
	return s.log.GetBreakdown(ctx, activityID)
}

// Leaderboard ranks users over the trailing window. A window <= 0 means all
// time and limit <= 0 selects DefaultLeaderboardLimit.
func (s *ActivityService) Leaderboard(ctx context.Context, window time.Duration, limit int) ([]store.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	var since time.Time
	if window > 0 {
		since = s.clock().Add(-window)
	}
	entries, err := s.log.Leaderboard(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	return entries, nil
}
