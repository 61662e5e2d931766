package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sweatbot/internal/tracker"
)

// GetStreak retrieves a user's streak
func (db *DB) GetStreak(ctx context.Context, userID string) (tracker.UserStreak, error) {
	var s tracker.UserStreak
	err := db.QueryRowContext(ctx, `
		SELECT user_id, current, best, last_active_date, grace_tokens
		FROM streaks
		WHERE user_id = ?
	`, userID).Scan(&s.UserID, &s.Current, &s.Best, &s.LastActiveDate, &s.GraceTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.UserStreak{}, ErrStreakNotFound
	}
	if err != nil {
		return tracker.UserStreak{}, fmt.Errorf("getting streak: %w", err)
	}
	return s, nil
}

// SaveStreak inserts or replaces a user's streak
func (db *DB) SaveStreak(ctx context.Context, s tracker.UserStreak) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO streaks (user_id, current, best, last_active_date, grace_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			current = excluded.current,
			best = excluded.best,
			last_active_date = excluded.last_active_date,
			grace_tokens = excluded.grace_tokens,
			updated_at = CURRENT_TIMESTAMP
	`, s.UserID, s.Current, s.Best, s.LastActiveDate, s.GraceTokens)
	if err != nil {
		return fmt.Errorf("saving streak: %w", err)
	}
	return nil
}
