package points

import "math"

// BasePointsPerLevel scales the level curve: leaving level n takes
// floor(BasePointsPerLevel * n^1.2) points.
const BasePointsPerLevel = 100

// maxLevel stops the curve walk for absurd totals.
const maxLevel = 10000

// Level is where a lifetime point total sits on the level curve
type Level struct {
	Level           int   `json:"level"`
	PointsIntoLevel int64 `json:"points_into_level"`
	PointsForNext   int64 `json:"points_for_next"`
}

func pointsForNextLevel(level int) int64 {
	return int64(float64(BasePointsPerLevel) * math.Pow(float64(level), 1.2))
}

// LevelForPoints places a lifetime total on the curve. Everyone starts at
// level 1; negative totals count as zero.
func LevelForPoints(total int64) Level {
	if total < 0 {
		total = 0
	}
	level := 1
	remaining := total
	for level < maxLevel {
		need := pointsForNextLevel(level)
		if remaining < need {
			break
		}
		remaining -= need
		level++
	}
	return Level{Level: level, PointsIntoLevel: remaining, PointsForNext: pointsForNextLevel(level)}
}
