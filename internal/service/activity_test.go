package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweatbot/internal/engine"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/store"
	"sweatbot/internal/tracker"
)

const testDoc = `
version: "service-test"
exercises:
  - {key: squat, name_en: Squat, category: strength, base_points: 10, multipliers: {reps: 1.0, sets: 5.0, weight_kg: 0.1}}
  - {key: running, name_en: Running, category: cardio, base_points: 5, multipliers: {distance_km: 2.0}}
  - {key: plank, name_en: Plank, category: core, base_points: 2, multipliers: {duration_sec: 0.1}}
rules:
  - {id: pr, rule_type: bonus, condition: "is_personal_record == true", value: 50, priority: 1}
  - {id: first_of_day, rule_type: bonus, condition: "is_first_activity_today == true", value: 10, priority: 2}
  - {id: streak, rule_type: multiplier, condition: "streak_days >= 2", value: 1.1, priority: 1}
achievements:
  - {id: first, condition_type: count, condition: "total_activities >= 1", points_reward: 10}
  - {id: half, condition_type: distance_once, condition: "distance_km >= 21.1", points_reward: 100}
  - {id: variety, condition_type: variety, condition: "categories_in_window >= 2", points_reward: 20}
`

type fixture struct {
	svc *ActivityService
	mem *store.MemoryStore
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.Parse([]byte(testDoc), registry.FormatYAML)
	require.NoError(t, err)

	f := &fixture{mem: store.NewMemoryStore(), now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	e := engine.New(registry.NewStaticHolder(reg), points.NewCalculator(points.DefaultLimits(), 0), f.mem, engine.WithClock(clock))
	f.svc = NewActivityService(e, f.mem, Options{Location: time.UTC, Clock: clock})
	return f
}

func squatAt(id string, start time.Time) points.Activity {
	return points.Activity{
		ID: id, UserID: "u1", ExerciseKey: "squat",
		Start: start, End: start.Add(20 * time.Minute),
		Reps: 10, Sets: 3, WeightKg: 60,
	}
}

func unlockIDs(res *Result) []string {
	var out []string
	for _, u := range res.Unlocks {
		out = append(out, u.Definition.ID)
	}
	return out
}

func TestRecord_Pipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// first activity ever: record bonus and first-of-day bonus
	res, err := f.svc.Record(ctx, squatAt("a1", f.now.Add(-2*time.Hour)), points.UserContext{})
	require.NoError(t, err)
	require.True(t, res.Breakdown.OK())
	assert.Equal(t, int64(326), res.Breakdown.Total)
	require.NotNil(t, res.Streak)
	assert.Equal(t, tracker.StreakStarted, res.Streak.Change)
	require.Len(t, res.PersonalRecords, 2)
	assert.Equal(t, registry.MetricReps, res.PersonalRecords[0].Metric)
	assert.Equal(t, registry.MetricWeightKg, res.PersonalRecords[1].Metric)
	assert.Equal(t, []string{"first"}, unlockIDs(res))
	assert.Equal(t, int64(10), res.RewardPoints)
	assert.Equal(t, int64(336), res.LifetimePoints)
	assert.Equal(t, points.LevelForPoints(336), res.Level)

	// same workout an hour later: no record, not first of the day
	res, err = f.svc.Record(ctx, squatAt("a2", f.now.Add(-time.Hour)), points.UserContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(266), res.Breakdown.Total)
	assert.Empty(t, res.PersonalRecords)
	assert.Empty(t, res.Unlocks)
	assert.Equal(t, tracker.StreakUnchanged, res.Streak.Change)

	// next day: half marathon extends the streak and unlocks two achievements
	f.now = f.now.Add(24 * time.Hour)
	start := f.now.Add(-5 * time.Hour)
	res, err = f.svc.Record(ctx, points.Activity{
		ID: "r1", UserID: "u1", ExerciseKey: "running",
		Start: start, End: start.Add(2 * time.Hour), DistanceKm: 21.1,
	}, points.UserContext{})
	require.NoError(t, err)
	assert.Equal(t, tracker.StreakExtended, res.Streak.Change)
	assert.Equal(t, 2, res.Streak.Streak.Current)
	assert.Equal(t, 1.1, res.Breakdown.CombinedMultiplier)
	assert.Equal(t, int64(303), res.Breakdown.Total) // (5 + 211 + 50 + 10) * 1.1
	assert.Equal(t, []string{"half", "variety"}, unlockIDs(res))
	assert.Equal(t, int64(120), res.RewardPoints)
	assert.Equal(t, int64(326+266+303+130), res.LifetimePoints)

	stored, err := f.svc.Breakdown(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, res.Breakdown, stored)

	progress, err := f.svc.UserProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress, 3)
	for _, p := range progress {
		assert.True(t, p.Unlocked, p.AchievementID)
	}
}

func TestRecord_FailuresLeaveStateAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		activity points.Activity
		status   points.ReasonCode
	}{
		{
			name: "end before start",
			activity: points.Activity{ID: "bad1", UserID: "u1", ExerciseKey: "squat",
				Start: f.now, End: f.now.Add(-time.Minute), Reps: 10},
			status: points.StatusInvalidActivity,
		},
		{
			name: "unknown exercise",
			activity: points.Activity{ID: "bad2", UserID: "u1", ExerciseKey: "yoga",
				Start: f.now.Add(-time.Hour), End: f.now, Reps: 10},
			status: points.StatusExerciseNotFound,
		},
		{
			name: "negative reps",
			activity: points.Activity{ID: "bad3", UserID: "u1", ExerciseKey: "squat",
				Start: f.now.Add(-time.Hour), End: f.now, Reps: -3},
			status: points.StatusInvalidActivity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Record(ctx, tt.activity, points.UserContext{})
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Breakdown.Status)
			assert.Zero(t, res.Breakdown.Total)
			assert.NotEmpty(t, res.Breakdown.Error)
			assert.Nil(t, res.Streak)
			assert.Empty(t, res.Unlocks)

			stored, err := f.svc.Breakdown(ctx, tt.activity.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)
		})
	}

	_, err := f.mem.GetStreak(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrStreakNotFound)
	held, err := f.mem.ListUserAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestRecord_SameIDTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := squatAt("a1", f.now.Add(-2*time.Hour))

	first, err := f.svc.Record(ctx, a, points.UserContext{})
	require.NoError(t, err)
	require.Equal(t, int64(326), first.Breakdown.Total)
	assert.False(t, first.Duplicate)

	again, err := f.svc.Record(ctx, a, points.UserContext{})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Breakdown, again.Breakdown)
	assert.Empty(t, again.PersonalRecords)
	assert.Empty(t, again.Unlocks)
	assert.Nil(t, again.Streak)
	assert.Equal(t, first.LifetimePoints, again.LifetimePoints)

	stored, err := f.svc.Breakdown(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, first.Breakdown, stored)

	stats, err := f.mem.UserStats(ctx, "u1", f.now, DefaultStatsWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalActivities)

	t.Run("other user", func(t *testing.T) {
		other := a
		other.UserID = "u2"
		_, err := f.svc.Record(ctx, other, points.UserContext{})
		assert.ErrorIs(t, err, ErrActivityConflict)
	})
}

func TestRecord_FailedIDCanBeRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := squatAt("a1", f.now.Add(-time.Hour))
	a.ExerciseKey = "squats"
	res, err := f.svc.Record(ctx, a, points.UserContext{})
	require.NoError(t, err)
	require.Equal(t, points.StatusExerciseNotFound, res.Breakdown.Status)

	a.ExerciseKey = "squat"
	res, err = f.svc.Record(ctx, a, points.UserContext{})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(326), res.Breakdown.Total)
}

func TestRecord_FirstOfDayIgnoresLaterActivities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evening := f.now.Add(6 * time.Hour)
	end := evening.Add(2 * time.Hour)
	_, err := f.svc.Record(ctx, points.Activity{
		ID: "r1", UserID: "u1", ExerciseKey: "running",
		Start: evening, End: end, DistanceKm: 5,
	}, points.UserContext{})
	require.NoError(t, err)

	// the morning workout is logged afterwards
	res, err := f.svc.Record(ctx, squatAt("a1", f.now.Add(-4*time.Hour)), points.UserContext{})
	require.NoError(t, err)
	var ids []string
	for _, b := range res.Breakdown.Bonuses {
		ids = append(ids, b.ID)
	}
	assert.Contains(t, ids, "first_of_day")
}

func TestRecord_AssignsID(t *testing.T) {
	f := newFixture(t)
	a := squatAt("", f.now.Add(-time.Hour))
	res, err := f.svc.Record(context.Background(), a, points.UserContext{})
	require.NoError(t, err)
	assert.Len(t, res.Breakdown.ActivityID, 36)
}

func TestRecord_SerializedPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Record(ctx, squatAt(fmt.Sprintf("a%d", i), f.now.Add(-time.Hour)), points.UserContext{})
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	withBonus := 0
	for _, res := range results {
		require.NotNil(t, res)
		if res.Breakdown.BonusPoints > 0 {
			withBonus++
		}
	}
	assert.Equal(t, 1, withBonus, "only one activity is first of the day and a record")
	assert.Zero(t, f.svc.locks.size())

	held, err := f.mem.ListUserAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestGrantGraceTokens(t *testing.T) {
	f := newFixture(t)
	s, err := f.svc.GrantGraceTokens(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxGraceTokens, s.GraceTokens)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, squatAt("a1", f.now.Add(-time.Hour)), points.UserContext{})
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, points.Activity{
		ID: "p1", UserID: "u2", ExerciseKey: "plank",
		Start: f.now.Add(-time.Hour), End: f.now.Add(-50 * time.Minute), DurationSec: 120,
	}, points.UserContext{})
	require.NoError(t, err)

	board, err := f.svc.Leaderboard(ctx, DefaultLeaderboardWindow, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "u1", board[0].UserID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "u2", board[1].UserID)

	// plank: 2 + floor(2*120*0.1)=24, record +50, first of day +10
	assert.Equal(t, int64(86), board[1].Points)
}

func TestUserLocks(t *testing.T) {
	l := newUserLocks()
	unlockA := l.lock("a")
	unlockB := l.lock("b")
	assert.Equal(t, 2, l.size())

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.lock("a")()
	}()

	select {
	case <-done:
		t.Fatal("second lock on the same user did not block")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-done
	unlockB()
	assert.Zero(t, l.size())
}
