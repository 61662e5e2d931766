package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sweatbot/internal/registry"
	"sweatbot/internal/tracker"
)

// SavePersonalRecord inserts or updates a personal record.
// Only updates if the new value is strictly higher than the stored one.
func (db *DB) SavePersonalRecord(ctx context.Context, pr tracker.PersonalRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO personal_records (user_id, exercise_key, metric, value, achieved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, exercise_key, metric) DO UPDATE SET
			value = excluded.value,
			achieved_at = excluded.achieved_at
		WHERE excluded.value > personal_records.value
	`,
		pr.UserID, pr.ExerciseKey, string(pr.Metric), pr.Value,
		pr.AchievedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving personal record: %w", err)
	}
	return nil
}

// GetPersonalRecord retrieves the record for one exercise metric
func (db *DB) GetPersonalRecord(ctx context.Context, userID, exerciseKey string, metric registry.Metric) (*tracker.PersonalRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT user_id, exercise_key, metric, value, achieved_at
		FROM personal_records
		WHERE user_id = ? AND exercise_key = ? AND metric = ?
	`, userID, exerciseKey, string(metric))

	return scanPersonalRecord(row)
}

// ListPersonalRecords retrieves all of a user's records
func (db *DB) ListPersonalRecords(ctx context.Context, userID string) ([]tracker.PersonalRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, exercise_key, metric, value, achieved_at
		FROM personal_records
		WHERE user_id = ?
		ORDER BY exercise_key, metric
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPersonalRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPersonalRecordRow(s scanner) (tracker.PersonalRecord, error) {
	var pr tracker.PersonalRecord
	var metric, achievedAt string
	if err := s.Scan(&pr.UserID, &pr.ExerciseKey, &metric, &pr.Value, &achievedAt); err != nil {
		return pr, err
	}
	pr.Metric = registry.Metric(metric)

	t, err := time.Parse(timeLayout, achievedAt)
	if err != nil {
		return pr, fmt.Errorf("parsing achieved_at %q: %w", achievedAt, err)
	}
	pr.AchievedAt = t
	return pr, nil
}

// scanPersonalRecord scans a single personal record from a row
func scanPersonalRecord(row *sql.Row) (*tracker.PersonalRecord, error) {
	pr, err := scanPersonalRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPersonalRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// scanPersonalRecords scans multiple personal records from rows
func scanPersonalRecords(rows *sql.Rows) ([]tracker.PersonalRecord, error) {
	var records []tracker.PersonalRecord
	for rows.Next() {
		pr, err := scanPersonalRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, pr)
	}
	return records, rows.Err()
}
