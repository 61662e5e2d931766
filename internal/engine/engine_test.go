package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweatbot/internal/achievement"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/store"
	"sweatbot/internal/tracker"
)

const testDoc = `
version: "engine-test"
exercises:
  - key: squat
    name_en: Squat
    category: strength
    base_points: 10
    multipliers: {reps: 1.0, sets: 5.0, weight_kg: 0.1}
rules:
  - {id: pr, rule_type: bonus, condition: "is_personal_record == true", value: 50, priority: 1}
achievements:
  - {id: first, condition_type: count, condition: "total_activities >= 1", points_reward: 10}
  - {id: reps_100, condition_type: sum, condition: "total_reps >= 100", points_reward: 50}
`

var now = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	reg, err := registry.Parse([]byte(testDoc), registry.FormatYAML)
	require.NoError(t, err)
	mem := store.NewMemoryStore()
	e := New(registry.NewStaticHolder(reg), points.NewCalculator(points.DefaultLimits(), 0), mem,
		WithClock(func() time.Time { return now }))
	return e, mem
}

func squat() points.Activity {
	return points.Activity{
		ID: "a1", UserID: "u1", ExerciseKey: "squat",
		Start: now.Add(-time.Hour), End: now.Add(-30 * time.Minute),
		Reps: 10, Sets: 3, WeightKg: 60,
	}
}

func TestCalculatePoints(t *testing.T) {
	e, _ := newEngine(t)

	b := e.CalculatePoints(squat(), points.UserContext{})
	require.True(t, b.OK())
	assert.Equal(t, "engine-test", b.RegistryVersion)
	assert.Equal(t, int64(266), b.Total) // 10 + 100 + 150 + 6

	b = e.CalculatePoints(squat(), points.UserContext{IsPersonalRecord: true})
	assert.Equal(t, int64(316), b.Total)

	missing := squat()
	missing.ExerciseKey = "yoga"
	b = e.CalculatePoints(missing, points.UserContext{})
	assert.Equal(t, points.StatusExerciseNotFound, b.Status)
	assert.Zero(t, b.Total)
}

func TestCalculatePoints_NoRegistry(t *testing.T) {
	e := New(registry.NewHolder(registry.EmbeddedSource{}), points.NewCalculator(points.DefaultLimits(), 0), store.NewMemoryStore())
	b := e.CalculatePoints(squat(), points.UserContext{})
	assert.Equal(t, points.StatusRegistryUnavailable, b.Status)

	_, err := e.CheckAchievements(context.Background(), achievement.UserStats{UserID: "u1"})
	assert.ErrorIs(t, err, registry.ErrNotLoaded)
}

func TestCheckAchievements(t *testing.T) {
	e, mem := newEngine(t)
	ctx := context.Background()
	stats := achievement.UserStats{UserID: "u1", TotalActivities: 1, TotalReps: 30}

	unlocks, err := e.CheckAchievements(ctx, stats)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "first", unlocks[0].Definition.ID)
	assert.Equal(t, now, unlocks[0].Achievement.UnlockedAt)

	// already unlocked: nothing new
	unlocks, err = e.CheckAchievements(ctx, stats)
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	stored, err := mem.ListUserAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	progress, err := mem.ListAchievementProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, "first", progress[0].AchievementID)
	assert.True(t, progress[0].Unlocked)
	assert.Equal(t, "reps_100", progress[1].AchievementID)
	assert.Equal(t, 30.0, progress[1].Percent)

	stats.TotalReps = 120
	unlocks, err = e.CheckAchievements(ctx, stats)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "reps_100", unlocks[0].Definition.ID)
}

func TestProgress(t *testing.T) {
	e, mem := newEngine(t)
	p, err := e.Progress(context.Background(), achievement.UserStats{UserID: "u1", TotalReps: 50})
	require.NoError(t, err)
	require.Len(t, p, 2)
	assert.Equal(t, 50.0, p[1].Percent)

	stored, err := mem.ListAchievementProgress(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, stored, "progress is read only")
}

func TestUpdateStreak(t *testing.T) {
	e, mem := newEngine(t)
	ctx := context.Background()

	u, err := e.UpdateStreak(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, tracker.StreakStarted, u.Change)
	assert.Equal(t, 1, u.Streak.Current)

	u, err = e.UpdateStreak(ctx, "u1", now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, tracker.StreakExtended, u.Change)

	u, err = e.UpdateStreak(ctx, "u1", now.AddDate(0, 0, -3))
	require.NoError(t, err)
	assert.Equal(t, tracker.StreakUnchanged, u.Change, "back-dated")

	s, err := mem.GetStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Current)
	assert.Equal(t, "2026-10-15", s.LastActiveDate)
}

func TestGrantGraceTokens(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	s, err := e.GrantGraceTokens(ctx, "u1", 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, s.GraceTokens)

	_, err = e.UpdateStreak(ctx, "u1", now)
	require.NoError(t, err)
	u, err := e.UpdateStreak(ctx, "u1", now.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, tracker.StreakGraceUsed, u.Change)
	assert.Equal(t, 2, u.GraceConsumed)
	assert.Zero(t, u.Streak.GraceTokens)
}

func TestTryPersonalRecord(t *testing.T) {
	e, mem := newEngine(t)
	ctx := context.Background()

	res, err := e.TryPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg, 100, now)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.FirstRecord)

	res, err = e.TryPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg, 100, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, res, "a tie is not a record")

	res, err = e.TryPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg, 110, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 100.0, res.PreviousValue)
	assert.InDelta(t, 10.0, res.ImprovementPercent, 1e-9)

	pr, err := mem.GetPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg)
	require.NoError(t, err)
	assert.Equal(t, 110.0, pr.Value)
	assert.Equal(t, now.Add(2*time.Hour), pr.AchievedAt)

	probe, err := e.ProbePersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg, 120)
	require.NoError(t, err)
	require.NotNil(t, probe)
	pr, err = mem.GetPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg)
	require.NoError(t, err)
	assert.Equal(t, 110.0, pr.Value, "probe does not write")
}
