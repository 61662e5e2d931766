package service

import "time"

const (
	// Window used for category variety, daily rates and ETA projection
	DefaultStatsWindow = 7 * 24 * time.Hour

	// Activities starting this close before another belong to one session
	SessionWindow = 3 * time.Hour

	// Leaderboard defaults
	DefaultLeaderboardWindow = 7 * 24 * time.Hour
	DefaultLeaderboardLimit  = 10

	// Grace tokens a user may hold at once
	DefaultMaxGraceTokens = 3
)
