package rewards

import (
	"time"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
)

// CatalogItem is something users can spend points on.
type CatalogItem struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	Points      int       `json:"points"`
	Category    string    `json:"category"`
	Quantity    int       `json:"quantity"`
	Available   bool      `json:"available"`
	Version     int       `json:"version"`
	CreatedBy   uuid.UUID `json:"created_by,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// take reserves one unit. The item stops being offered once the last unit goes.
func (it *CatalogItem) take(now time.Time) error {
	if !it.Available || it.Quantity <= 0 {
		return apperr.Invalid("item", "%s is not available", it.Title)
	}
	it.Quantity--
	if it.Quantity == 0 {
		it.Available = false
	}
	it.Version++
	it.UpdatedAt = now
	return nil
}

func (it *CatalogItem) restock(now time.Time) {
	it.Quantity++
	it.Available = true
	it.Version++
	it.UpdatedAt = now
}

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionCompleted RedemptionStatus = "completed"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

func (s RedemptionStatus) Valid() bool {
	switch s {
	case RedemptionPending, RedemptionCompleted, RedemptionCancelled:
		return true
	}
	return false
}

// Redemption records points spent on a catalog item. Title and Points are
// copied from the item so the record survives the item being edited or removed.
type Redemption struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	ItemID      uuid.UUID        `json:"item_id"`
	ItemTitle   string           `json:"item_title"`
	Points      int              `json:"points"`
	Status      RedemptionStatus `json:"status"`
	Notes       string           `json:"notes,omitempty"`
	RedeemedAt  time.Time        `json:"redeemed_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
	Version     int              `json:"version"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// setStatus moves the redemption to status. A cancelled redemption is final:
// its points have already gone back to the user.
func (rd *Redemption) setStatus(status RedemptionStatus, notes string, now time.Time) (bool, error) {
	if rd.Status == RedemptionCancelled {
		return false, apperr.Invalid("status", "redemption %s is already cancelled", rd.ID)
	}
	if rd.Status == status && notes == "" {
		return false, nil
	}

	rd.Status = status
	if notes != "" {
		rd.Notes = notes
	}
	switch status {
	case RedemptionCompleted:
		rd.CompletedAt = &now
	case RedemptionCancelled:
		rd.CancelledAt = &now
	case RedemptionPending:
		rd.CompletedAt = nil
	}
	rd.Version++
	rd.UpdatedAt = now
	return true, nil
}

type PointsRedeemedEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	RedemptionID uuid.UUID `json:"redemption_id"`
	ItemID       uuid.UUID `json:"item_id"`
	Points       int       `json:"points"`
	Total        int       `json:"total"`
}

type RedemptionRefundedEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	RedemptionID uuid.UUID `json:"redemption_id"`
	Points       int       `json:"points"`
	Total        int       `json:"total"`
}
