// internal/rewards/service.go
package rewards

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the rewards service.
type Service interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*Reward, error)
	GrantPoints(ctx context.Context, req GrantRequest) (*Reward, error)
	AwardBadge(ctx context.Context, userID uuid.UUID, badge NewBadge, actor uuid.UUID) (*Badge, error)
	CreateAchievement(ctx context.Context, userID uuid.UUID, a NewAchievement) (*Achievement, error)
	ProgressAchievement(ctx context.Context, userID uuid.UUID, title string, increment int, actor uuid.UUID) (*AchievementUpdate, error)
	History(ctx context.Context, userID uuid.UUID, page, limit int) (*HistoryPage, error)
	Leaderboard(ctx context.Context, skill string, page, limit int) (*LeaderboardPage, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	ListItems(ctx context.Context, includeUnavailable bool) ([]*CatalogItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error)
	CreateItem(ctx context.Context, in NewItem, actor uuid.UUID) (*CatalogItem, error)
	UpdateItem(ctx context.Context, id uuid.UUID, in ItemUpdate) (*CatalogItem, error)
	DeleteItem(ctx context.Context, id uuid.UUID) error
	Redeem(ctx context.Context, userID, itemID uuid.UUID) (*RedeemResult, error)
	ListRedemptions(ctx context.Context, userID uuid.UUID) ([]*Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, id uuid.UUID, in StatusUpdate, actor uuid.UUID) (*Redemption, error)
}

// MaxGrantAmount bounds a single grant or deduction so totals cannot overflow.
const MaxGrantAmount = 100_000

// GrantRequest is the input for GrantPoints. Negative amounts deduct.
type GrantRequest struct {
	UserID    uuid.UUID      `json:"user_id" validate:"required"`
	Amount    int            `json:"amount" validate:"required,min=-100000,max=100000"`
	Reason    string         `json:"reason" validate:"required"`
	Source    PointSource    `json:"source" validate:"required"`
	SourceRef SourceRef      `json:"source_ref"`
	Skills    map[string]int `json:"skills"`
	ExpiresAt *time.Time     `json:"expires_at"`
	AddedBy   uuid.UUID      `json:"-"`
}

// NewBadge is the input for AwardBadge.
type NewBadge struct {
	Name         string         `json:"name" validate:"required"`
	Description  string         `json:"description" validate:"required"`
	Category     string         `json:"category" validate:"required,oneof=participation organization achievement special"`
	Level        string         `json:"level" validate:"required,oneof=bronze silver gold platinum special"`
	ImageURL     string         `json:"image_url" validate:"omitempty,url"`
	Requirements map[string]any `json:"requirements"`
}

// NewAchievement is the input for CreateAchievement.
type NewAchievement struct {
	Title         string `json:"title" validate:"required"`
	Description   string `json:"description" validate:"required"`
	Category      string `json:"category" validate:"required"`
	Target        int    `json:"target" validate:"required,gt=0"`
	PointsAwarded int    `json:"points_awarded" validate:"gte=0,lte=100000"`
}

// NewItem is the input for CreateItem. Available defaults to true while
// there is stock.
type NewItem struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	ImageURL    string `json:"image_url" validate:"required,url"`
	Points      int    `json:"points" validate:"gte=0,lte=100000"`
	Category    string `json:"category" validate:"required,oneof=Merchandise Privilege Service Other"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Available   *bool  `json:"available"`
}

// ItemUpdate changes the fields that are set and leaves the rest.
type ItemUpdate struct {
	Title       *string `json:"title" validate:"omitnil,min=1"`
	Description *string `json:"description" validate:"omitnil,min=1"`
	ImageURL    *string `json:"image_url" validate:"omitnil,url"`
	Points      *int    `json:"points" validate:"omitnil,gte=0,lte=100000"`
	Category    *string `json:"category" validate:"omitnil,oneof=Merchandise Privilege Service Other"`
	Quantity    *int    `json:"quantity" validate:"omitnil,gte=0"`
	Available   *bool   `json:"available"`
}

// StatusUpdate is the input for UpdateRedemptionStatus.
type StatusUpdate struct {
	Status RedemptionStatus `json:"status" validate:"required,oneof=pending completed cancelled"`
	Notes  string           `json:"notes"`
}

// RedeemResult is a new redemption and the user's balance after paying for it.
type RedeemResult struct {
	Redemption      *Redemption `json:"redemption"`
	RemainingPoints int         `json:"remaining_points"`
}

// Pagination describes one page of a longer list.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func paginate(total, page, limit int) Pagination {
	return Pagination{Total: total, Page: page, Limit: limit, Pages: (total + limit - 1) / limit}
}

// HistoryEntry is a grant with its source record attached when it could be resolved.
type HistoryEntry struct {
	PointGrant
	SourceData *SourceData `json:"source_data,omitempty"`
}

type HistoryPage struct {
	History    []HistoryEntry `json:"history"`
	Pagination Pagination     `json:"pagination"`
}

type LeaderboardPage struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Pagination  Pagination         `json:"pagination"`
}
