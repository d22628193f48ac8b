package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"campusevents/internal/apperr"
	"campusevents/internal/notify"
	"campusevents/internal/platform"
	"campusevents/pkg/eventstore"
)

func (s *service) ListItems(ctx context.Context, includeUnavailable bool) ([]*CatalogItem, error) {
	return s.store.ListItems(ctx, includeUnavailable)
}

func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	return s.store.GetItem(ctx, id)
}

// CreateItem adds an item to the catalog.
func (s *service) CreateItem(ctx context.Context, in NewItem, actor uuid.UUID) (*CatalogItem, error) {
	if err := platform.Validate(in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	it := &CatalogItem{
		ID:          uuid.New(),
		Title:       in.Title,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		Points:      in.Points,
		Category:    in.Category,
		Quantity:    in.Quantity,
		Available:   in.Quantity > 0,
		Version:     1,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Available != nil {
		it.Available = *in.Available && in.Quantity > 0
	}
	if err := s.store.CreateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("create catalog item: %w", err)
	}
	return it, nil
}

// UpdateItem applies the set fields of in. An item without stock is never
// offered, whatever Available says.
func (s *service) UpdateItem(ctx context.Context, id uuid.UUID, in ItemUpdate) (*CatalogItem, error) {
	if err := platform.Validate(in); err != nil {
		return nil, err
	}

	it, err := retry(ctx, s, func() (*CatalogItem, error) {
		it, err := s.store.GetItem(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		expected := it.Version

		setIf(&it.Title, in.Title)
		setIf(&it.Description, in.Description)
		setIf(&it.ImageURL, in.ImageURL)
		setIf(&it.Points, in.Points)
		setIf(&it.Category, in.Category)
		setIf(&it.Quantity, in.Quantity)
		switch {
		case in.Available != nil:
			it.Available = *in.Available
		case in.Quantity != nil:
			it.Available = it.Quantity > 0
		}
		if it.Quantity == 0 {
			it.Available = false
		}
		it.Version++
		it.UpdatedAt = s.now().UTC()

		if err := s.store.SaveItem(ctx, it, expected); err != nil {
			return nil, retryable(err)
		}
		return it, nil
	})
	if isStale(err) {
		return nil, apperr.Conflict(nil, "reward %s is busy, retry", id)
	}
	return it, err
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// DeleteItem removes an item. Existing redemptions keep the title and price
// they were made at.
func (s *service) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteItem(ctx, id)
}

// Redeem spends the user's points on one unit of the item. The deduction, the
// stock change and the new redemption commit together.
func (s *service) Redeem(ctx context.Context, userID, itemID uuid.UUID) (*RedeemResult, error) {
	if userID == uuid.Nil {
		return nil, apperr.Invalid("user_id", "user id is required")
	}
	ctx, span := s.tracer.Start(ctx, "rewards.redeem", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("item.id", itemID.String()),
	))
	defer span.End()

	res, err := retry(ctx, s, func() (*RedeemResult, error) {
		now := s.now().UTC()

		it, err := s.store.GetItem(ctx, itemID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		itemExpected := it.Version

		r, err := s.store.Get(ctx, userID)
		rewardExpected := 0
		switch {
		case apperr.IsNotFound(err):
			r = NewReward(userID, now)
		case err != nil:
			return nil, backoff.Permanent(err)
		default:
			rewardExpected = r.Version
		}

		if err := it.take(now); err != nil {
			return nil, backoff.Permanent(err)
		}
		if r.Total < it.Points {
			return nil, backoff.Permanent(apperr.Invalid("points", "insufficient points: have %d, need %d", r.Total, it.Points))
		}

		rd := &Redemption{
			ID:         uuid.New(),
			UserID:     userID,
			ItemID:     it.ID,
			ItemTitle:  it.Title,
			Points:     it.Points,
			Status:     RedemptionPending,
			RedeemedAt: now,
			Version:    1,
			UpdatedAt:  now,
		}
		if it.Points > 0 {
			r.AddPoints(PointGrant{
				Amount:    -it.Points,
				Reason:    "Redeemed " + it.Title,
				Source:    SourceRedemption,
				SourceRef: SourceRef{Kind: KindReward, ID: it.ID},
				AddedBy:   userID,
			}, now)
		}
		r.Version = rewardExpected + 1

		event, err := eventstore.NewEvent(aggregateType, "PointsRedeemed", PointsRedeemedEvent{
			UserID:       userID,
			RedemptionID: rd.ID,
			ItemID:       it.ID,
			Points:       it.Points,
			Total:        r.Total,
		})
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		err = s.store.CommitRedemption(ctx, RedemptionCommit{
			Reward:         r,
			RewardExpected: rewardExpected,
			Event:          event,
			Item:           it,
			ItemExpected:   itemExpected,
			Redemption:     rd,
		})
		if err != nil {
			return nil, retryable(fmt.Errorf("commit redemption: %w", err))
		}
		return &RedeemResult{Redemption: rd, RemainingPoints: r.Total}, nil
	})
	if isStale(err) {
		span.SetAttributes(attribute.Bool("conflict", true))
		return nil, apperr.Conflict(nil, "redemption of %s is busy, retry", itemID)
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, "rewards.redemption", notify.New("achievement",
		"Reward Redeemed",
		fmt.Sprintf("You have redeemed %s for %d points.", res.Redemption.ItemTitle, res.Redemption.Points),
		notify.PriorityNormal, userID, userID))
	return res, nil
}

func (s *service) ListRedemptions(ctx context.Context, userID uuid.UUID) ([]*Redemption, error) {
	return s.store.ListRedemptions(ctx, userID)
}

// UpdateRedemptionStatus moves a redemption along. Cancelling refunds the
// points and puts the unit back in stock if the item still exists.
func (s *service) UpdateRedemptionStatus(ctx context.Context, id uuid.UUID, in StatusUpdate, actor uuid.UUID) (*Redemption, error) {
	if err := platform.Validate(in); err != nil {
		return nil, err
	}

	rd, err := retry(ctx, s, func() (*Redemption, error) {
		now := s.now().UTC()

		rd, err := s.store.GetRedemption(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		expected := rd.Version

		changed, err := rd.setStatus(in.Status, in.Notes, now)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !changed {
			return rd, nil
		}

		c := RedemptionCommit{Redemption: rd, RedemptionExpected: expected}
		if in.Status == RedemptionCancelled {
			if err := s.refund(ctx, &c, actor, now); err != nil {
				return nil, err
			}
		}
		if err := s.store.CommitRedemption(ctx, c); err != nil {
			return nil, retryable(fmt.Errorf("commit redemption: %w", err))
		}
		return rd, nil
	})
	if isStale(err) {
		return nil, apperr.Conflict(nil, "redemption %s is busy, retry", id)
	}
	if err != nil {
		return nil, err
	}

	if in.Status == RedemptionCancelled {
		s.notify(ctx, "rewards.redemption", notify.New("achievement",
			"Redemption Cancelled",
			fmt.Sprintf("Your redemption of %s was cancelled and %d points were returned.", rd.ItemTitle, rd.Points),
			notify.PriorityNormal, actor, rd.UserID))
	}
	return rd, nil
}

// refund fills c with the user's refunded record and the restocked item.
func (s *service) refund(ctx context.Context, c *RedemptionCommit, actor uuid.UUID, now time.Time) error {
	rd := c.Redemption

	r, err := s.store.Get(ctx, rd.UserID)
	if err != nil {
		return backoff.Permanent(err)
	}
	c.RewardExpected = r.Version
	if rd.Points > 0 {
		r.AddPoints(PointGrant{
			Amount:    rd.Points,
			Reason:    "Refund for " + rd.ItemTitle,
			Source:    SourceRedemption,
			SourceRef: SourceRef{Kind: KindReward, ID: rd.ItemID},
			AddedBy:   actor,
		}, now)
	}
	r.Version++
	c.Reward = r

	c.Event, err = eventstore.NewEvent(aggregateType, "RedemptionRefunded", RedemptionRefundedEvent{
		UserID:       rd.UserID,
		RedemptionID: rd.ID,
		Points:       rd.Points,
		Total:        r.Total,
	})
	if err != nil {
		return backoff.Permanent(err)
	}

	it, err := s.store.GetItem(ctx, rd.ItemID)
	switch {
	case apperr.IsNotFound(err):
		return nil
	case err != nil:
		return backoff.Permanent(err)
	}
	c.ItemExpected = it.Version
	it.restock(now)
	c.Item = it
	return nil
}

func catalogResolver(store CatalogStore) SourceResolver {
	return SourceResolverFunc(func(ctx context.Context, id uuid.UUID) (*SourceData, error) {
		it, err := store.GetItem(ctx, id)
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &SourceData{ID: it.ID, Title: it.Title}, nil
	})
}
