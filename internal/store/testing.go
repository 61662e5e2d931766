package store

import (
	"database/sql"
	"fmt"
)

// NewTestStore wraps an already opened database and runs migrations on it.
// This is only intended for use in tests.
func NewTestStore(sqlDB *sql.DB) (*DB, error) {
	if err := migrate(sqlDB); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &DB{sqlDB}, nil
}
