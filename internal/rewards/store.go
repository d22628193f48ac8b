package rewards

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campusevents/pkg/eventstore"
)

var (
	// ErrStaleReward is returned by Save when the stored version moved on.
	ErrStaleReward = errors.New("reward record was modified concurrently")

	// ErrStaleCatalog is returned when a catalog item or redemption changed
	// underneath a write.
	ErrStaleCatalog = errors.New("catalog entry was modified concurrently")
)

// Store persists reward records, one per user, together with each user's
// event log, plus the reward catalog and its redemptions.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (*Reward, error)

	// Save inserts r when expectedVersion is 0, otherwise replaces the stored
	// record if its version still equals expectedVersion. events are appended
	// to the user's log at expectedVersion in the same commit: either the
	// record and its events both land or neither does.
	Save(ctx context.Context, r *Reward, expectedVersion int, events ...eventstore.Event) error

	// Leaderboard ranks records by total, or by the given skill's points when
	// skill is non-empty (records without that skill are left out). It also
	// returns how many records are ranked in all.
	Leaderboard(ctx context.Context, skill string, offset, limit int) ([]LeaderboardEntry, int, error)

	// ExpiringUsers lists users holding a grant that expires at or before now
	// and has not been retired.
	ExpiringUsers(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	CatalogStore
}

// CatalogStore holds the reward catalog and redemption records.
type CatalogStore interface {
	GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error)
	ListItems(ctx context.Context, includeUnavailable bool) ([]*CatalogItem, error)
	CreateItem(ctx context.Context, it *CatalogItem) error
	// SaveItem replaces the item if its stored version equals expectedVersion.
	SaveItem(ctx context.Context, it *CatalogItem, expectedVersion int) error
	DeleteItem(ctx context.Context, id uuid.UUID) error

	GetRedemption(ctx context.Context, id uuid.UUID) (*Redemption, error)
	// ListRedemptions returns the user's redemptions, newest first.
	ListRedemptions(ctx context.Context, userID uuid.UUID) ([]*Redemption, error)
	// CommitRedemption applies every part of c in one commit.
	CommitRedemption(ctx context.Context, c RedemptionCommit) error
}

// RedemptionCommit is a redemption write that may also move points and stock.
// Nil parts are left alone. Each present part is checked against its expected
// version, 0 meaning it must not exist yet; a mismatch fails the whole commit.
type RedemptionCommit struct {
	Reward         *Reward
	RewardExpected int
	Event          eventstore.Event

	Item         *CatalogItem
	ItemExpected int

	Redemption         *Redemption
	RedemptionExpected int
}

func leaderboardEntry(r *Reward, points int) LeaderboardEntry {
	return LeaderboardEntry{
		UserID:                r.UserID,
		Points:                points,
		Level:                 r.LevelInfo.CurrentLevel,
		BadgeCount:            len(r.Badges),
		AchievementsTotal:     len(r.Achievements),
		AchievementsCompleted: r.completedAchievements(),
	}
}
