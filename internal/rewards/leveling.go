package rewards

import "math"

const (
	basePointsPerLevel = 100
	scalingFactor      = 1.5
	maxLevelProgress   = 99
)

// ComputeLevel derives level information from a point total. Each level costs
// round(100 * 1.5^(level-1)) points; thresholds are computed in closed form
// rather than by repeated multiplication so they never drift.
//
// Progress is capped at 99 so a user short of the next level never sees 100%.
func ComputeLevel(total int) LevelInfo {
	level := 1
	accumulated := 0
	threshold := basePointsPerLevel

	for accumulated+threshold <= total {
		accumulated += threshold
		level++
		threshold = levelThreshold(level)
	}

	progress := roundHalfAway(float64(total-accumulated) / float64(threshold) * 100)
	progress = min(max(progress, 0), maxLevelProgress)

	return LevelInfo{
		CurrentLevel:      level,
		PointsToNextLevel: threshold,
		LevelProgress:     progress,
	}
}

// levelThreshold is the number of points needed to leave level.
func levelThreshold(level int) int {
	return roundHalfAway(basePointsPerLevel * math.Pow(scalingFactor, float64(level-1)))
}

// roundHalfAway rounds to the nearest integer, halves away from zero. The
// same rule is used for level thresholds and achievement percentages.
func roundHalfAway(f float64) int {
	return int(math.Round(f))
}
