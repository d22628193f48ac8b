package rewards

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
)

// NewReward returns an empty reward record for userID at level 1.
func NewReward(userID uuid.UUID, now time.Time) *Reward {
	return &Reward{
		UserID:       userID,
		History:      []PointGrant{},
		Badges:       []Badge{},
		Achievements: []Achievement{},
		SkillPoints:  map[string]int{},
		LevelInfo:    ComputeLevel(0),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AddPoints appends g to the history and applies it to the total, the skill
// map and the level. Validating the grant is the caller's job; a zero amount
// is recorded but changes nothing else.
func (r *Reward) AddPoints(g PointGrant, now time.Time) PointGrant {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Timestamp.IsZero() {
		g.Timestamp = now
	}
	g.IsExpired = false

	r.History = append(r.History, g)
	r.Total += g.Amount

	if len(g.Skills) > 0 && r.SkillPoints == nil {
		r.SkillPoints = make(map[string]int, len(g.Skills))
	}
	for skill, points := range g.Skills {
		r.SkillPoints[skill] += points
	}

	r.LevelInfo = ComputeLevel(r.Total)
	r.UpdatedAt = now
	return g
}

// SweepResult reports the outcome of SweepExpired.
type SweepResult struct {
	NewTotal int `json:"new_total"`
	Expired  int `json:"expired"`
}

// SweepExpired retires every grant whose expiry is at or before now and which
// has not been retired yet, removing its amount from the total. Deductions
// expire the same way, so their removal raises the total. Running it again
// with the same now finds nothing left to do.
func (r *Reward) SweepExpired(now time.Time) SweepResult {
	deducted, expired := 0, 0
	for i := range r.History {
		g := &r.History[i]
		if g.IsExpired || g.ExpiresAt == nil || g.ExpiresAt.After(now) {
			continue
		}
		g.IsExpired = true
		deducted += g.Amount
		expired++
	}

	if expired > 0 {
		r.Total -= deducted
		r.LevelInfo = ComputeLevel(r.Total)
		r.UpdatedAt = now
	}
	return SweepResult{NewTotal: r.Total, Expired: expired}
}

// RecomputeTotal sums the non-expired grants from scratch.
func (r *Reward) RecomputeTotal() int {
	total := 0
	for _, g := range r.History {
		if !g.IsExpired {
			total += g.Amount
		}
	}
	return total
}

// NextExpiry returns the earliest expiry among grants still counted in the
// total, or nil if none of them expire.
func (r *Reward) NextExpiry() *time.Time {
	var next *time.Time
	for _, g := range r.History {
		if g.IsExpired || g.ExpiresAt == nil {
			continue
		}
		if next == nil || g.ExpiresAt.Before(*next) {
			t := *g.ExpiresAt
			next = &t
		}
	}
	return next
}

// AddBadge awards b unless a badge with the same name is already held.
func (r *Reward) AddBadge(b Badge, now time.Time) error {
	if strings.TrimSpace(b.Name) == "" {
		return apperr.Invalid("name", "badge name is required")
	}
	for _, existing := range r.Badges {
		if existing.Name == b.Name {
			return apperr.Invalid("name", "user already has badge %q", b.Name)
		}
	}
	if b.UnlockedAt.IsZero() {
		b.UnlockedAt = now
	}
	r.Badges = append(r.Badges, b)
	r.UpdatedAt = now
	return nil
}

func (r *Reward) achievement(title string) *Achievement {
	for i := range r.Achievements {
		if r.Achievements[i].Title == title {
			return &r.Achievements[i]
		}
	}
	return nil
}

// AddAchievement starts tracking a in its initial state.
func (r *Reward) AddAchievement(a Achievement, now time.Time) error {
	if strings.TrimSpace(a.Title) == "" {
		return apperr.Invalid("title", "achievement title is required")
	}
	if a.Progress.Target <= 0 {
		return apperr.Invalid("target", "target must be positive, got %d", a.Progress.Target)
	}
	if a.PointsAwarded < 0 {
		return apperr.Invalid("points_awarded", "points awarded cannot be negative")
	}
	if r.achievement(a.Title) != nil {
		return apperr.Invalid("title", "achievement %q already exists for this user", a.Title)
	}

	a.Progress.Current = 0
	a.Progress.Percentage = 0
	a.IsCompleted = false
	a.CompletedAt = nil
	r.Achievements = append(r.Achievements, a)
	r.UpdatedAt = now
	return nil
}

// AchievementUpdate is the result of UpdateAchievement.
type AchievementUpdate struct {
	Achievement Achievement `json:"achievement"`
	// Changed is false when the achievement was already completed.
	Changed bool `json:"changed"`
	// Completed is true only on the call that reached the target.
	Completed bool `json:"completed"`
	// Grant is the points award issued on completion, if any.
	Grant *PointGrant `json:"grant,omitempty"`
}

// UpdateAchievement moves the named achievement's progress by increment,
// clamped to [0, target]. Reaching the target completes it and awards its
// points exactly once; later calls on a completed achievement change nothing.
func (r *Reward) UpdateAchievement(title string, increment int, now time.Time) (AchievementUpdate, error) {
	a := r.achievement(title)
	if a == nil {
		return AchievementUpdate{}, &apperr.NotFoundError{Kind: "achievement", ID: title}
	}
	if a.IsCompleted {
		return AchievementUpdate{Achievement: *a}, nil
	}

	a.Progress.Current = min(max(a.Progress.Current+increment, 0), a.Progress.Target)
	a.Progress.Percentage = roundHalfAway(float64(a.Progress.Current) / float64(a.Progress.Target) * 100)

	update := AchievementUpdate{Changed: true}
	if a.Progress.Current >= a.Progress.Target {
		completedAt := now
		a.IsCompleted = true
		a.CompletedAt = &completedAt
		update.Completed = true

		if a.PointsAwarded > 0 {
			grant := r.AddPoints(PointGrant{
				Amount: a.PointsAwarded,
				Reason: "Completed achievement: " + a.Title,
				Source: SourceAchievement,
			}, now)
			update.Grant = &grant
		}
	}

	r.UpdatedAt = now
	// AddPoints may have grown History but never Achievements, so a is still valid.
	update.Achievement = *a
	return update, nil
}

func (r *Reward) completedAchievements() int {
	n := 0
	for _, a := range r.Achievements {
		if a.IsCompleted {
			n++
		}
	}
	return n
}
