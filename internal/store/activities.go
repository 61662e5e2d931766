package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sweatbot/internal/achievement"
	"sweatbot/internal/points"
)

// SaveActivity inserts or replaces a scored activity. Summary columns hold
// the normalized values so aggregates never need the set log.
func (db *DB) SaveActivity(ctx context.Context, rec ActivityRecord) error {
	a := points.Normalize(rec.Activity)

	var setLog []byte
	if len(a.SetLog) > 0 {
		var err error
		if setLog, err = json.Marshal(a.SetLog); err != nil {
			return fmt.Errorf("encoding set log: %w", err)
		}
	}
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("encoding breakdown: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO activities (
			id, user_id, exercise_key, category, start_ms, end_ms,
			reps, sets, total_reps, weight_kg, distance_km, duration_sec,
			heart_rate_avg, elevation_m, set_log, status, total_points, breakdown, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			exercise_key = excluded.exercise_key,
			category = excluded.category,
			start_ms = excluded.start_ms,
			end_ms = excluded.end_ms,
			reps = excluded.reps,
			sets = excluded.sets,
			total_reps = excluded.total_reps,
			weight_kg = excluded.weight_kg,
			distance_km = excluded.distance_km,
			duration_sec = excluded.duration_sec,
			heart_rate_avg = excluded.heart_rate_avg,
			elevation_m = excluded.elevation_m,
			set_log = excluded.set_log,
			status = excluded.status,
			total_points = excluded.total_points,
			breakdown = excluded.breakdown,
			updated_at = CURRENT_TIMESTAMP
	`,
		a.ID, a.UserID, a.ExerciseKey, string(rec.Category), a.Start.UnixMilli(), a.End.UnixMilli(),
		a.Reps, a.Sets, a.TotalReps(), a.WeightKg, a.DistanceKm, a.DurationSec,
		a.HeartRateAvg, a.ElevationM, nullableJSON(setLog), string(rec.Breakdown.Status),
		rec.Breakdown.Total, string(breakdown),
	)
	if err != nil {
		return fmt.Errorf("saving activity %s: %w", a.ID, err)
	}
	return nil
}

// GetBreakdown returns the stored breakdown for an activity
func (db *DB) GetBreakdown(ctx context.Context, activityID string) (points.Breakdown, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT breakdown FROM activities WHERE id = ?`, activityID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Breakdown{}, ErrBreakdownNotFound
	}
	if err != nil {
		return points.Breakdown{}, fmt.Errorf("getting breakdown: %w", err)
	}

	var b points.Breakdown
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return points.Breakdown{}, fmt.Errorf("decoding breakdown: %w", err)
	}
	return b, nil
}

// ActivitiesBetween counts scored activities starting in [from, to]
func (db *DB) ActivitiesBetween(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activities
		WHERE user_id = ? AND status = ? AND start_ms >= ? AND start_ms <= ?
	`, userID, string(points.StatusOK), from.UnixMilli(), to.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}
	return n, nil
}

// UserStats aggregates a user's scored activities
func (db *DB) UserStats(ctx context.Context, userID string, now time.Time, window time.Duration) (achievement.UserStats, error) {
	stats := achievement.UserStats{UserID: userID}
	ok := string(points.StatusOK)

	var distinct int
	err := db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total_points), 0),
			COUNT(*),
			COALESCE(SUM(total_reps), 0),
			COALESCE(SUM(sets), 0),
			COALESCE(SUM(distance_km), 0),
			COALESCE(SUM(duration_sec), 0),
			COALESCE(MAX(weight_kg), 0),
			COALESCE(MAX(distance_km), 0),
			COUNT(DISTINCT exercise_key)
		FROM activities
		WHERE user_id = ? AND status = ?
	`, userID, ok).Scan(
		&stats.TotalPoints, &stats.TotalActivities, &stats.TotalReps, &stats.TotalSets,
		&stats.TotalDistanceKm, &stats.TotalDurationSec, &stats.MaxWeightKg, &stats.MaxDistanceKm,
		&distinct,
	)
	if err != nil {
		return stats, fmt.Errorf("aggregating activities: %w", err)
	}

	var categories int
	var windowPoints, windowActivities, windowReps int64
	var windowDistance, windowDuration float64

	err = db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT category),
			COALESCE(SUM(total_points), 0),
			COUNT(*),
			COALESCE(SUM(total_reps), 0),
			COALESCE(SUM(distance_km), 0),
			COALESCE(SUM(duration_sec), 0)
		FROM activities
		WHERE user_id = ? AND status = ? AND start_ms >= ? AND start_ms <= ?
	`, userID, ok, now.Add(-window).UnixMilli(), now.UnixMilli()).Scan(
		&categories, &windowPoints, &windowActivities, &windowReps, &windowDistance, &windowDuration,
	)
	if err != nil {
		return stats, fmt.Errorf("aggregating window: %w", err)
	}

	stats.DistinctExercises = &distinct
	stats.CategoriesInWindow = &categories

	days := windowDays(window)
	stats.DailyRates = map[string]float64{
		"total_points":       float64(windowPoints) / days,
		"total_activities":   float64(windowActivities) / days,
		"total_reps":         float64(windowReps) / days,
		"total_distance_km":  windowDistance / days,
		"total_duration_sec": windowDuration / days,
	}
	return stats, nil
}

// Leaderboard ranks users by points from activities starting at or after since
func (db *DB) Leaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, SUM(total_points) AS pts, COUNT(*)
		FROM activities
		WHERE status = ? AND start_ms >= ?
		GROUP BY user_id
		ORDER BY pts DESC, user_id
		LIMIT ?
	`, string(points.StatusOK), since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Points, &e.Activities); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankEntries(entries), nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
