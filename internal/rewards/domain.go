// internal/rewards/domain.go
package rewards

import (
	"time"

	"github.com/google/uuid"
)

// PointSource says why points were granted.
type PointSource string

const (
	SourceEventParticipation PointSource = "event_participation"
	SourceEventOrganization  PointSource = "event_organization"
	SourceAchievement        PointSource = "achievement"
	SourceCommitteeWork      PointSource = "committee_work"
	SourceFeedback           PointSource = "feedback"
	SourceSpecialAward       PointSource = "special_award"
	SourceAdminGrant         PointSource = "admin_grant"
	SourceRedemption         PointSource = "reward_redemption"
	SourceOther              PointSource = "other"
)

func (s PointSource) Valid() bool {
	switch s {
	case SourceEventParticipation, SourceEventOrganization, SourceAchievement, SourceCommitteeWork,
		SourceFeedback, SourceSpecialAward, SourceAdminGrant, SourceRedemption, SourceOther:
		return true
	}
	return false
}

// SourceKind names the kind of record a grant points back to.
type SourceKind string

const (
	KindNone        SourceKind = ""
	KindEvent       SourceKind = "Event"
	KindCommittee   SourceKind = "Committee"
	KindCertificate SourceKind = "Certificate"
	KindReward      SourceKind = "Reward"
)

func (k SourceKind) Valid() bool {
	switch k {
	case KindNone, KindEvent, KindCommittee, KindCertificate, KindReward:
		return true
	}
	return false
}

// SourceRef links a grant to the record that earned it. The zero value means none.
type SourceRef struct {
	Kind SourceKind `json:"kind,omitempty"`
	ID   uuid.UUID  `json:"id,omitzero"`
}

func (r SourceRef) IsZero() bool { return r.Kind == KindNone || r.ID == uuid.Nil }

// PointGrant is one entry of a user's point history. Amount is negative for deductions.
type PointGrant struct {
	ID        uuid.UUID      `json:"id"`
	Amount    int            `json:"amount"`
	Reason    string         `json:"reason"`
	Source    PointSource    `json:"source"`
	SourceRef SourceRef      `json:"source_ref,omitzero"`
	Skills    map[string]int `json:"skills,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	IsExpired bool           `json:"is_expired"`
	AddedBy   uuid.UUID      `json:"added_by,omitzero"`
}

// Badge is a named award held at most once per user.
type Badge struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Category     string         `json:"category"`
	Level        string         `json:"level"`
	ImageURL     string         `json:"image_url,omitempty"`
	Requirements map[string]any `json:"requirements,omitempty"`
	UnlockedAt   time.Time      `json:"unlocked_at"`
}

// Progress tracks an achievement towards its target.
type Progress struct {
	Current    int `json:"current"`
	Target     int `json:"target"`
	Percentage int `json:"percentage"`
}

// Achievement is a goal with a target count. Completing it may award points.
type Achievement struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	Progress      Progress   `json:"progress"`
	IsCompleted   bool       `json:"is_completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	PointsAwarded int        `json:"points_awarded"`
}

// LevelInfo is derived from the point total alone.
type LevelInfo struct {
	CurrentLevel      int `json:"current_level"`
	PointsToNextLevel int `json:"points_to_next_level"`
	LevelProgress     int `json:"level_progress"`
}

// Reward is a user's reward record. Total always equals the sum of the
// amounts of non-expired grants in History.
type Reward struct {
	UserID       uuid.UUID      `json:"user_id"`
	Total        int            `json:"total"`
	History      []PointGrant   `json:"history"`
	Badges       []Badge        `json:"badges"`
	Achievements []Achievement  `json:"achievements"`
	SkillPoints  map[string]int `json:"skill_points"`
	LevelInfo    LevelInfo      `json:"level_info"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	UserID                uuid.UUID `json:"user_id"`
	Points                int       `json:"points"`
	Level                 int       `json:"level"`
	BadgeCount            int       `json:"badge_count"`
	AchievementsTotal     int       `json:"achievements_total"`
	AchievementsCompleted int       `json:"achievements_completed"`
}

// Event payloads appended to the reward stream.

type RewardOpenedEvent struct {
	UserID uuid.UUID `json:"user_id"`
}

type PointsGrantedEvent struct {
	UserID uuid.UUID  `json:"user_id"`
	Grant  PointGrant `json:"grant"`
	Total  int        `json:"total"`
}

type PointsExpiredEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	Expired  int       `json:"expired"`
	NewTotal int       `json:"new_total"`
}

type BadgeAwardedEvent struct {
	UserID uuid.UUID `json:"user_id"`
	Badge  Badge     `json:"badge"`
}

type AchievementAddedEvent struct {
	UserID      uuid.UUID   `json:"user_id"`
	Achievement Achievement `json:"achievement"`
}

type AchievementProgressedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Progress  Progress  `json:"progress"`
	Completed bool      `json:"completed"`
}
