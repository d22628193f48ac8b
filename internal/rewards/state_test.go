package rewards

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"campusevents/internal/apperr"
)

var t0 = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func TestAddPoints(t *testing.T) {
	r := NewReward(uuid.New(), t0)

	g := r.AddPoints(PointGrant{Amount: 120, Reason: "hackathon", Source: SourceEventParticipation, Skills: map[string]int{"coding": 80}}, t0)
	assert.NotEqual(t, uuid.Nil, g.ID)
	assert.Equal(t, t0, g.Timestamp)

	r.AddPoints(PointGrant{Amount: -20, Reason: "no-show", Source: SourceAdminGrant, Skills: map[string]int{"coding": -10, "music": 5}}, t0.Add(time.Hour))

	assert.Equal(t, 100, r.Total)
	assert.Equal(t, map[string]int{"coding": 70, "music": 5}, r.SkillPoints)
	assert.Equal(t, ComputeLevel(100), r.LevelInfo)
	assert.Equal(t, t0.Add(time.Hour), r.UpdatedAt)
	assert.Len(t, r.History, 2)
}

func TestAddPoints_ZeroAmount(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	r.AddPoints(PointGrant{Amount: 0, Reason: "noop", Source: SourceOther}, t0)
	assert.Equal(t, 0, r.Total)
	assert.Equal(t, ComputeLevel(0), r.LevelInfo)
	assert.Len(t, r.History, 1)
}

func TestSweepExpired_RetiresPastGrants(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	r.AddPoints(PointGrant{Amount: 50, Reason: "r", Source: SourceOther, ExpiresAt: at(-time.Hour)}, t0.Add(-2*time.Hour))
	require.Equal(t, 50, r.Total)

	res := r.SweepExpired(t0)

	assert.Equal(t, SweepResult{NewTotal: 0, Expired: 1}, res)
	assert.Equal(t, 0, r.Total)
	assert.True(t, r.History[0].IsExpired)
	assert.Equal(t, ComputeLevel(0), r.LevelInfo)
}

func TestSweepExpired_Boundaries(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	r.AddPoints(PointGrant{Amount: 10, Reason: "exact", Source: SourceOther, ExpiresAt: at(0)}, t0)
	r.AddPoints(PointGrant{Amount: 20, Reason: "future", Source: SourceOther, ExpiresAt: at(time.Second)}, t0)
	r.AddPoints(PointGrant{Amount: 40, Reason: "forever", Source: SourceOther}, t0)
	r.AddPoints(PointGrant{Amount: -5, Reason: "penalty", Source: SourceAdminGrant, ExpiresAt: at(-time.Minute)}, t0)

	res := r.SweepExpired(t0)
	assert.Equal(t, 2, res.Expired)
	assert.Equal(t, 60, res.NewTotal)
	assert.Equal(t, r.RecomputeTotal(), r.Total)

	assert.Equal(t, at(time.Second), r.NextExpiry())

	again := r.SweepExpired(t0)
	assert.Equal(t, SweepResult{NewTotal: 60, Expired: 0}, again)
}

func TestNextExpiry(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	assert.Nil(t, r.NextExpiry())

	r.AddPoints(PointGrant{Amount: 1, Reason: "a", Source: SourceOther, ExpiresAt: at(3 * time.Hour)}, t0)
	r.AddPoints(PointGrant{Amount: 1, Reason: "b", Source: SourceOther, ExpiresAt: at(time.Hour)}, t0)
	require.NotNil(t, r.NextExpiry())
	assert.Equal(t, *at(time.Hour), *r.NextExpiry())
}

func TestAddBadge(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	badge := Badge{Name: "Early Bird", Description: "d", Category: "participation", Level: "bronze"}

	require.NoError(t, r.AddBadge(badge, t0))
	assert.Equal(t, t0, r.Badges[0].UnlockedAt)

	err := r.AddBadge(badge, t0.Add(time.Hour))
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)
	assert.Len(t, r.Badges, 1)
	assert.Equal(t, t0, r.UpdatedAt)
}

func TestAddAchievement(t *testing.T) {
	r := NewReward(uuid.New(), t0)

	require.NoError(t, r.AddAchievement(Achievement{Title: "Regular", Progress: Progress{Target: 3, Current: 2}}, t0))
	assert.Equal(t, 0, r.Achievements[0].Progress.Current)

	assert.True(t, apperr.IsValidation(r.AddAchievement(Achievement{Title: "Regular", Progress: Progress{Target: 5}}, t0)))
	assert.True(t, apperr.IsValidation(r.AddAchievement(Achievement{Title: "Zero", Progress: Progress{Target: 0}}, t0)))
	assert.True(t, apperr.IsValidation(r.AddAchievement(Achievement{Title: "Negative", Progress: Progress{Target: -1}}, t0)))
	assert.Len(t, r.Achievements, 1)
}

func TestUpdateAchievement(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	require.NoError(t, r.AddAchievement(Achievement{Title: "Regular", Description: "Attend 3 events", Progress: Progress{Target: 3}, PointsAwarded: 50}, t0))

	u, err := r.UpdateAchievement("Regular", 1, t0)
	require.NoError(t, err)
	assert.True(t, u.Changed)
	assert.False(t, u.Completed)
	assert.Equal(t, Progress{Current: 1, Target: 3, Percentage: 33}, u.Achievement.Progress)

	u, err = r.UpdateAchievement("Regular", 1, t0)
	require.NoError(t, err)
	assert.Equal(t, 67, u.Achievement.Progress.Percentage)

	done := t0.Add(time.Hour)
	u, err = r.UpdateAchievement("Regular", 10, done)
	require.NoError(t, err)
	assert.True(t, u.Completed)
	assert.Equal(t, Progress{Current: 3, Target: 3, Percentage: 100}, u.Achievement.Progress)
	require.NotNil(t, u.Achievement.CompletedAt)
	assert.Equal(t, done, *u.Achievement.CompletedAt)
	require.NotNil(t, u.Grant)
	assert.Equal(t, 50, u.Grant.Amount)
	assert.Equal(t, SourceAchievement, u.Grant.Source)
	assert.Equal(t, 50, r.Total)

	u, err = r.UpdateAchievement("Regular", 1, done.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, u.Changed)
	assert.Nil(t, u.Grant)
	assert.Equal(t, 50, r.Total)
	assert.Len(t, r.History, 1)
}

func TestUpdateAchievement_ClampsAtZero(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	require.NoError(t, r.AddAchievement(Achievement{Title: "A", Progress: Progress{Target: 4}}, t0))

	u, err := r.UpdateAchievement("A", -3, t0)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Achievement.Progress.Current)
	assert.Equal(t, 0, u.Achievement.Progress.Percentage)
}

func TestUpdateAchievement_NoPointsNoGrant(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	require.NoError(t, r.AddAchievement(Achievement{Title: "A", Progress: Progress{Target: 1}}, t0))

	u, err := r.UpdateAchievement("A", 1, t0)
	require.NoError(t, err)
	assert.True(t, u.Completed)
	assert.Nil(t, u.Grant)
	assert.Empty(t, r.History)
}

func TestUpdateAchievement_Missing(t *testing.T) {
	r := NewReward(uuid.New(), t0)
	_, err := r.UpdateAchievement("nope", 1, t0)
	assert.True(t, apperr.IsNotFound(err))
}

// Total must match a from-scratch sum after any mix of grants and sweeps, and
// sweeping twice at the same instant must change nothing the second time.
func TestReward_TotalInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewReward(uuid.New(), t0)
		now := t0

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "sweep") {
				now = now.Add(time.Duration(rapid.IntRange(0, 120).Draw(t, "advance")) * time.Minute)
				r.SweepExpired(now)

				before := r.Total
				expiredBefore := countExpired(r)
				again := r.SweepExpired(now)
				if again.Expired != 0 || r.Total != before || countExpired(r) != expiredBefore {
					t.Fatalf("second sweep changed state: %+v", again)
				}
			} else {
				g := PointGrant{
					Amount: rapid.IntRange(-200, 500).Draw(t, "amount"),
					Reason: "r",
					Source: SourceOther,
				}
				if rapid.Bool().Draw(t, "expires") {
					g.ExpiresAt = at(time.Duration(rapid.IntRange(-60, 600).Draw(t, "ttl")) * time.Minute)
				}
				r.AddPoints(g, now)
			}

			if r.Total != r.RecomputeTotal() {
				t.Fatalf("total %d != recomputed %d", r.Total, r.RecomputeTotal())
			}
			if r.LevelInfo != ComputeLevel(r.Total) {
				t.Fatalf("stale level info %+v for total %d", r.LevelInfo, r.Total)
			}
		}
	})
}

func countExpired(r *Reward) int {
	n := 0
	for _, g := range r.History {
		if g.IsExpired {
			n++
		}
	}
	return n
}
