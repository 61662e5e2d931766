package store

import "database/sql"

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		// Activity log, one row per scored activity. Times are unix millis.
		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			exercise_key TEXT NOT NULL,
			category TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			reps INTEGER NOT NULL DEFAULT 0,
			sets INTEGER NOT NULL DEFAULT 0,
			total_reps INTEGER NOT NULL DEFAULT 0,
			weight_kg REAL NOT NULL DEFAULT 0,
			distance_km REAL NOT NULL DEFAULT 0,
			duration_sec REAL NOT NULL DEFAULT 0,
			heart_rate_avg REAL NOT NULL DEFAULT 0,
			elevation_m REAL NOT NULL DEFAULT 0,
			set_log TEXT,
			status TEXT NOT NULL,
			total_points INTEGER NOT NULL DEFAULT 0,
			breakdown TEXT NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activities_user_start ON activities(user_id, start_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_start ON activities(start_ms)`,

		`CREATE TABLE IF NOT EXISTS streaks (
			user_id TEXT PRIMARY KEY,
			current INTEGER NOT NULL DEFAULT 0,
			best INTEGER NOT NULL DEFAULT 0,
			last_active_date TEXT NOT NULL DEFAULT '',
			grace_tokens INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		// Best value per user, exercise and metric
		`CREATE TABLE IF NOT EXISTS personal_records (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			exercise_key TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			achieved_at TEXT NOT NULL,
			UNIQUE (user_id, exercise_key, metric)
		)`,

		`CREATE TABLE IF NOT EXISTS user_achievements (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			unlocked_at TEXT NOT NULL,
			progress_value REAL NOT NULL DEFAULT 0,
			progress_target REAL NOT NULL DEFAULT 0,
			UNIQUE (user_id, achievement_id)
		)`,

		`CREATE TABLE IF NOT EXISTS achievement_progress (
			user_id TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			value REAL NOT NULL,
			target REAL NOT NULL,
			percent REAL NOT NULL,
			eta_days REAL,
			unlocked INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, achievement_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}
