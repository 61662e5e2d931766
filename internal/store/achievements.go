package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sweatbot/internal/achievement"
)

// ListUserAchievements returns a user's unlocks, oldest first
func (db *DB) ListUserAchievements(ctx context.Context, userID string) ([]achievement.UserAchievement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, achievement_id, unlocked_at, progress_value, progress_target
		FROM user_achievements
		WHERE user_id = ?
		ORDER BY unlocked_at, achievement_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	defer rows.Close()

	var out []achievement.UserAchievement
	for rows.Next() {
		var ua achievement.UserAchievement
		var unlockedAt string
		if err := rows.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &unlockedAt, &ua.ProgressValue, &ua.ProgressTarget); err != nil {
			return nil, err
		}
		if ua.UnlockedAt, err = time.Parse(timeLayout, unlockedAt); err != nil {
			return nil, fmt.Errorf("parsing unlocked_at %q: %w", unlockedAt, err)
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

// AddUserAchievement records an unlock. The unique index on
// (user_id, achievement_id) makes a second unlock a no-op.
func (db *DB) AddUserAchievement(ctx context.Context, ua achievement.UserAchievement) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO user_achievements (id, user_id, achievement_id, unlocked_at, progress_value, progress_target)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, achievement_id) DO NOTHING
	`,
		ua.ID, ua.UserID, ua.AchievementID, ua.UnlockedAt.UTC().Format(timeLayout),
		ua.ProgressValue, ua.ProgressTarget,
	)
	if err != nil {
		return fmt.Errorf("adding achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adding achievement: %w", err)
	}
	if n == 0 {
		return ErrAchievementAlreadyUnlocked
	}
	return nil
}

// SaveAchievementProgress upserts progress rows in one transaction
func (db *DB) SaveAchievementProgress(ctx context.Context, progress []achievement.AchievementProgress) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO achievement_progress (user_id, achievement_id, value, target, percent, eta_days, unlocked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, achievement_id) DO UPDATE SET
			value = excluded.value,
			target = excluded.target,
			percent = excluded.percent,
			eta_days = excluded.eta_days,
			unlocked = excluded.unlocked,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("preparing progress insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range progress {
		if _, err := stmt.ExecContext(ctx,
			p.UserID, p.AchievementID, p.Value, p.Target, p.Percent, p.ETADays,
			boolToInt(p.Unlocked), p.UpdatedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("saving progress for %s: %w", p.AchievementID, err)
		}
	}
	return tx.Commit()
}

// ListAchievementProgress returns stored progress ordered by achievement id
func (db *DB) ListAchievementProgress(ctx context.Context, userID string) ([]achievement.AchievementProgress, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, achievement_id, value, target, percent, eta_days, unlocked, updated_at
		FROM achievement_progress
		WHERE user_id = ?
		ORDER BY achievement_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	defer rows.Close()

	var out []achievement.AchievementProgress
	for rows.Next() {
		var p achievement.AchievementProgress
		var eta sql.NullFloat64
		var unlocked int
		var updatedAt string
		if err := rows.Scan(&p.UserID, &p.AchievementID, &p.Value, &p.Target, &p.Percent, &eta, &unlocked, &updatedAt); err != nil {
			return nil, err
		}
		if eta.Valid {
			v := eta.Float64
			p.ETADays = &v
		}
		p.Unlocked = unlocked == 1
		if p.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
