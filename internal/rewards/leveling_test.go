package rewards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestComputeLevel(t *testing.T) {
	tests := []struct {
		name  string
		total int
		want  LevelInfo
	}{
		{"no points", 0, LevelInfo{CurrentLevel: 1, PointsToNextLevel: 100, LevelProgress: 0}},
		{"negative total", -40, LevelInfo{CurrentLevel: 1, PointsToNextLevel: 100, LevelProgress: 0}},
		{"just short of level 2", 99, LevelInfo{CurrentLevel: 1, PointsToNextLevel: 100, LevelProgress: 99}},
		{"exactly level 2", 100, LevelInfo{CurrentLevel: 2, PointsToNextLevel: 150, LevelProgress: 0}},
		{"halfway through level 2", 175, LevelInfo{CurrentLevel: 2, PointsToNextLevel: 150, LevelProgress: 50}},
		{"one point into level 2", 101, LevelInfo{CurrentLevel: 2, PointsToNextLevel: 150, LevelProgress: 1}},
		{"exactly level 3", 250, LevelInfo{CurrentLevel: 3, PointsToNextLevel: 225, LevelProgress: 0}},
		{"progress capped below 100", 474, LevelInfo{CurrentLevel: 3, PointsToNextLevel: 225, LevelProgress: 99}},
		{"level 4 threshold rounds 337.5 up", 475, LevelInfo{CurrentLevel: 4, PointsToNextLevel: 338, LevelProgress: 0}},
		{"exactly level 6", 1319, LevelInfo{CurrentLevel: 6, PointsToNextLevel: 759, LevelProgress: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeLevel(tt.total))
		})
	}
}

func TestLevelThreshold(t *testing.T) {
	assert.Equal(t, []int{100, 150, 225, 338, 506, 759, 1139},
		[]int{levelThreshold(1), levelThreshold(2), levelThreshold(3), levelThreshold(4), levelThreshold(5), levelThreshold(6), levelThreshold(7)})
}

func TestRoundHalfAway(t *testing.T) {
	assert.Equal(t, 3, roundHalfAway(2.5))
	assert.Equal(t, -3, roundHalfAway(-2.5))
	assert.Equal(t, 2, roundHalfAway(2.4999))
}

func TestComputeLevel_Monotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.IntRange(-1000, 1_000_000).Draw(t, "a")
		b := rapid.IntRange(a, 1_000_001).Draw(t, "b")
		if ComputeLevel(a).CurrentLevel > ComputeLevel(b).CurrentLevel {
			t.Fatalf("level(%d) > level(%d)", a, b)
		}
	})
}

func TestComputeLevel_ProgressBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(-1_000_000, 10_000_000).Draw(t, "total")
		info := ComputeLevel(total)
		if info.LevelProgress < 0 || info.LevelProgress > 99 {
			t.Fatalf("progress %d out of range for total %d", info.LevelProgress, total)
		}
		if info.CurrentLevel < 1 || info.PointsToNextLevel < basePointsPerLevel {
			t.Fatalf("bad level info %+v for total %d", info, total)
		}
	})
}
