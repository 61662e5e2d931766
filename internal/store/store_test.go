package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"sweatbot/internal/achievement"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/tracker"
)

var day = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

// setupTestDB creates an in-memory database for testing
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	_, err = sqlDB.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	db, err := NewTestStore(sqlDB)
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

func setupRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("SWEATBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SWEATBOT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "sweatbot-test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewRedisStoreWithClient(client, prefix)
}

func stateBackends(t *testing.T) map[string]func(t *testing.T) StateStore {
	return map[string]func(t *testing.T) StateStore{
		"memory": func(t *testing.T) StateStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) StateStore { return setupTestDB(t) },
		"redis":  func(t *testing.T) StateStore { return setupRedis(t) },
	}
}

func logBackends(t *testing.T) map[string]func(t *testing.T) ActivityLog {
	return map[string]func(t *testing.T) ActivityLog{
		"memory": func(t *testing.T) ActivityLog { return NewMemoryStore() },
		"sqlite": func(t *testing.T) ActivityLog { return setupTestDB(t) },
	}
}

func TestStreaks(t *testing.T) {
	for name, open := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.GetStreak(ctx, "u1")
			assert.ErrorIs(t, err, ErrStreakNotFound)

			want := tracker.UserStreak{UserID: "u1", Current: 3, Best: 9, LastActiveDate: "2026-10-14", GraceTokens: 1}
			require.NoError(t, s.SaveStreak(ctx, want))
			got, err := s.GetStreak(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, want, got)

			want.Current = 4
			want.GraceTokens = 0
			require.NoError(t, s.SaveStreak(ctx, want))
			got, err = s.GetStreak(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestPersonalRecords(t *testing.T) {
	for name, open := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.GetPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg)
			assert.ErrorIs(t, err, ErrPersonalRecordNotFound)

			pr := tracker.PersonalRecord{UserID: "u1", ExerciseKey: "squat", Metric: registry.MetricWeightKg, Value: 100, AchievedAt: day}
			require.NoError(t, s.SavePersonalRecord(ctx, pr))

			// lower and equal values never replace the record
			for _, v := range []float64{90, 100} {
				worse := pr
				worse.Value = v
				worse.AchievedAt = day.Add(time.Hour)
				require.NoError(t, s.SavePersonalRecord(ctx, worse))
			}
			got, err := s.GetPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg)
			require.NoError(t, err)
			assert.Equal(t, 100.0, got.Value)
			assert.True(t, got.AchievedAt.Equal(day))

			better := pr
			better.Value = 102.5
			better.AchievedAt = day.Add(24 * time.Hour)
			require.NoError(t, s.SavePersonalRecord(ctx, better))
			got, err = s.GetPersonalRecord(ctx, "u1", "squat", registry.MetricWeightKg)
			require.NoError(t, err)
			assert.Equal(t, 102.5, got.Value)
			assert.True(t, got.AchievedAt.Equal(better.AchievedAt))

			require.NoError(t, s.SavePersonalRecord(ctx, tracker.PersonalRecord{
				UserID: "u1", ExerciseKey: "bench_press", Metric: registry.MetricReps, Value: 12, AchievedAt: day,
			}))
			require.NoError(t, s.SavePersonalRecord(ctx, tracker.PersonalRecord{
				UserID: "u2", ExerciseKey: "squat", Metric: registry.MetricWeightKg, Value: 200, AchievedAt: day,
			}))

			list, err := s.ListPersonalRecords(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "bench_press", list[0].ExerciseKey)
			assert.Equal(t, "squat", list[1].ExerciseKey)
		})
	}
}

func TestAchievements(t *testing.T) {
	for name, open := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			ua := achievement.UserAchievement{
				ID: "a-1", UserID: "u1", AchievementID: "first_workout",
				UnlockedAt: day, ProgressValue: 1, ProgressTarget: 1,
			}
			require.NoError(t, s.AddUserAchievement(ctx, ua))

			dup := ua
			dup.ID = "a-2"
			assert.ErrorIs(t, s.AddUserAchievement(ctx, dup), ErrAchievementAlreadyUnlocked)

			require.NoError(t, s.AddUserAchievement(ctx, achievement.UserAchievement{
				ID: "a-3", UserID: "u1", AchievementID: "streak_7", UnlockedAt: day.Add(time.Hour),
			}))

			list, err := s.ListUserAchievements(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a-1", list[0].ID)
			assert.Equal(t, "streak_7", list[1].AchievementID)

			eta := 4.5
			progress := []achievement.AchievementProgress{
				{UserID: "u1", AchievementID: "thousand_reps", Value: 250, Target: 1000, Percent: 25, ETADays: &eta, UpdatedAt: day},
				{UserID: "u1", AchievementID: "first_workout", Value: 1, Target: 1, Percent: 100, Unlocked: true, UpdatedAt: day},
			}
			require.NoError(t, s.SaveAchievementProgress(ctx, progress))

			progress[0].Value = 300
			progress[0].Percent = 30
			require.NoError(t, s.SaveAchievementProgress(ctx, progress[:1]))

			got, err := s.ListAchievementProgress(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "first_workout", got[0].AchievementID)
			assert.True(t, got[0].Unlocked)
			assert.Nil(t, got[0].ETADays)
			assert.Equal(t, 300.0, got[1].Value)
			require.NotNil(t, got[1].ETADays)
			assert.Equal(t, 4.5, *got[1].ETADays)
		})
	}
}

func scored(id, user, exercise string, category registry.Category, start time.Time, total int64, a points.Activity) ActivityRecord {
	a.ID = id
	a.UserID = user
	a.ExerciseKey = exercise
	a.Start = start
	a.End = start.Add(30 * time.Minute)
	return ActivityRecord{
		Activity: a,
		Category: category,
		Breakdown: points.Breakdown{
			SchemaVersion: points.SchemaVersion,
			ActivityID:    id,
			UserID:        user,
			ExerciseKey:   exercise,
			Status:        points.StatusOK,
			Total:         total,
		},
	}
}

func TestActivityLog(t *testing.T) {
	for name, open := range logBackends(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			ctx := context.Background()

			records := []ActivityRecord{
				scored("a1", "u1", "squat", registry.CategoryStrength, day.AddDate(0, 0, -10), 300,
					points.Activity{SetLog: []points.SetEntry{{Reps: 5, WeightKg: 100}, {Reps: 5, WeightKg: 110}}}),
				scored("a2", "u1", "running", registry.CategoryCardio, day.AddDate(0, 0, -2), 200,
					points.Activity{DistanceKm: 10, DurationSec: 3000}),
				scored("a3", "u1", "plank", registry.CategoryCore, day.Add(-time.Hour), 50,
					points.Activity{DurationSec: 120}),
				scored("b1", "u2", "running", registry.CategoryCardio, day.AddDate(0, 0, -1), 700,
					points.Activity{DistanceKm: 21.1, DurationSec: 7200}),
			}
			failed := scored("bad", "u1", "yoga", registry.CategoryCore, day.Add(-2*time.Hour), 0, points.Activity{Reps: 10})
			failed.Breakdown.Status = points.StatusExerciseNotFound
			records = append(records, failed)

			for _, rec := range records {
				require.NoError(t, log.SaveActivity(ctx, rec))
			}
			// saving again replaces
			again := records[2]
			again.Breakdown.Total = 60
			require.NoError(t, log.SaveActivity(ctx, again))

			b, err := log.GetBreakdown(ctx, "a3")
			require.NoError(t, err)
			assert.Equal(t, int64(60), b.Total)
			_, err = log.GetBreakdown(ctx, "missing")
			assert.ErrorIs(t, err, ErrBreakdownNotFound)

			n, err := log.ActivitiesBetween(ctx, "u1", day.Add(-24*time.Hour), day)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "failed activities are not counted")
			n, err = log.ActivitiesBetween(ctx, "u1", day.AddDate(0, 0, -3), day.Add(-2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "activities after the upper bound are not counted")
			n, err = log.ActivitiesBetween(ctx, "u1", day.Add(-time.Hour), day.Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "both bounds are inclusive")

			stats, err := log.UserStats(ctx, "u1", day, 7*24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, int64(560), stats.TotalPoints)
			assert.Equal(t, int64(3), stats.TotalActivities)
			assert.Equal(t, int64(10), stats.TotalReps)
			assert.Equal(t, int64(2), stats.TotalSets)
			assert.Equal(t, 10.0, stats.TotalDistanceKm)
			assert.Equal(t, 3120.0, stats.TotalDurationSec)
			assert.Equal(t, 110.0, stats.MaxWeightKg)
			require.NotNil(t, stats.DistinctExercises)
			assert.Equal(t, 3, *stats.DistinctExercises)
			require.NotNil(t, stats.CategoriesInWindow)
			assert.Equal(t, 2, *stats.CategoriesInWindow, "squat is outside the week")
			assert.InDelta(t, 260.0/7, stats.DailyRates["total_points"], 1e-9)

			board, err := log.Leaderboard(ctx, day.AddDate(0, 0, -7), 10)
			require.NoError(t, err)
			require.Len(t, board, 2)
			assert.Equal(t, LeaderboardEntry{Rank: 1, UserID: "u2", Points: 700, Activities: 1}, board[0])
			assert.Equal(t, LeaderboardEntry{Rank: 2, UserID: "u1", Points: 260, Activities: 2}, board[1])

			top, err := log.Leaderboard(ctx, time.Time{}, 1)
			require.NoError(t, err)
			require.Len(t, top, 1)
			assert.Equal(t, "u2", top[0].UserID)
		})
	}
}

func TestActivityLog_EmptyUser(t *testing.T) {
	for name, open := range logBackends(t) {
		t.Run(name, func(t *testing.T) {
			stats, err := open(t).UserStats(context.Background(), "nobody", day, 24*time.Hour)
			require.NoError(t, err)
			assert.Zero(t, stats.TotalActivities)
			require.NotNil(t, stats.DistinctExercises)
			assert.Zero(t, *stats.DistinctExercises)
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.SaveStreak(context.Background(), tracker.UserStreak{UserID: "u1", Current: 1, Best: 1}))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCompose(t *testing.T) {
	mem := NewMemoryStore()
	db := setupTestDB(t)
	s := Compose(mem, db)

	require.NoError(t, s.SaveStreak(context.Background(), tracker.UserStreak{UserID: "u1", Current: 2}))
	_, err := db.GetStreak(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStreakNotFound, "state goes to the state backend")
	got, err := mem.GetStreak(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Current)
}
