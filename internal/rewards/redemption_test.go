package rewards

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/apperr"
)

func newItem(points, quantity int) NewItem {
	return NewItem{
		Title:       "Library pass",
		Description: "Late-night library access",
		ImageURL:    "https://example.org/pass.png",
		Points:      points,
		Category:    "Privilege",
		Quantity:    quantity,
	}
}

func TestRedeem(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := uuid.New()

	clock := t0
	f.svc.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	_, err := f.svc.GrantPoints(ctx, grant(user, 80))
	require.NoError(t, err)
	item, err := f.svc.CreateItem(ctx, newItem(50, 2), uuid.New())
	require.NoError(t, err)

	res, err := f.svc.Redeem(ctx, user, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, res.RemainingPoints)
	assert.Equal(t, 50, res.Redemption.Points)
	assert.Equal(t, "Library pass", res.Redemption.ItemTitle)

	_, err = f.svc.Redeem(ctx, user, item.ID)
	assert.True(t, apperr.IsValidation(err), err)

	r, err := f.store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 30, r.Total)
	assert.Equal(t, r.RecomputeTotal(), r.Total)
	assert.Equal(t, SourceRedemption, r.History[1].Source)

	stock, err := f.svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stock.Quantity)
	assert.True(t, stock.Available)

	events, err := f.events.LoadEvents(ctx, user, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "PointsRedeemed", events[1].EventType)
	assert.Equal(t, r.Version, events[1].Version)

	require.Len(t, f.pub.keys, 2)
	assert.Equal(t, "rewards.redemption", f.pub.keys[1])

	page, err := f.svc.History(ctx, user, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, page.History[0].SourceData)
	assert.Equal(t, KindReward, page.History[0].SourceData.Kind)
	assert.Equal(t, "Library pass", page.History[0].SourceData.Title)
}

func TestRedeem_Refusals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.svc.Redeem(ctx, user, uuid.New())
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.svc.Redeem(ctx, uuid.Nil, uuid.New())
	assert.True(t, apperr.IsValidation(err))

	soldOut, err := f.svc.CreateItem(ctx, newItem(0, 0), uuid.New())
	require.NoError(t, err)
	assert.False(t, soldOut.Available)
	_, err = f.svc.Redeem(ctx, user, soldOut.ID)
	assert.True(t, apperr.IsValidation(err))

	hidden := newItem(0, 3)
	hidden.Available = new(bool)
	withdrawn, err := f.svc.CreateItem(ctx, hidden, uuid.New())
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, user, withdrawn.ID)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.store.Get(ctx, user)
	assert.True(t, apperr.IsNotFound(err), "refused redemptions open no record")
	assert.Empty(t, f.pub.sent)
}

func TestRedeem_FreeItemOpensRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := uuid.New()

	item, err := f.svc.CreateItem(ctx, newItem(0, 1), uuid.New())
	require.NoError(t, err)

	res, err := f.svc.Redeem(ctx, user, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemainingPoints)

	r, err := f.store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Version)
	assert.Empty(t, r.History)
}

func TestRedeem_LastUnitGoesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item, err := f.svc.CreateItem(ctx, newItem(10, 1), uuid.New())
	require.NoError(t, err)

	const n = 6
	users := make([]uuid.UUID, n)
	for i := range users {
		users[i] = uuid.New()
		_, err := f.svc.GrantPoints(ctx, grant(users[i], 10))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var won atomic.Int32
	for _, user := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Redeem(ctx, user, item.ID); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	stock, err := f.svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stock.Quantity)
	assert.False(t, stock.Available)

	spent := 0
	for _, user := range users {
		r, err := f.store.Get(ctx, user)
		require.NoError(t, err)
		spent += 10 - r.Total
	}
	assert.Equal(t, 10, spent)
}

func TestUpdateRedemptionStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user, admin := uuid.New(), uuid.New()

	_, err := f.svc.GrantPoints(ctx, grant(user, 100))
	require.NoError(t, err)
	item, err := f.svc.CreateItem(ctx, newItem(40, 1), admin)
	require.NoError(t, err)
	res, err := f.svc.Redeem(ctx, user, item.ID)
	require.NoError(t, err)
	id := res.Redemption.ID

	rd, err := f.svc.UpdateRedemptionStatus(ctx, id, StatusUpdate{Status: RedemptionCompleted}, admin)
	require.NoError(t, err)
	require.NotNil(t, rd.CompletedAt)
	assert.Equal(t, t0, *rd.CompletedAt)

	rd, err = f.svc.UpdateRedemptionStatus(ctx, id, StatusUpdate{Status: RedemptionCancelled, Notes: "Wrong size"}, admin)
	require.NoError(t, err)
	assert.Equal(t, "Wrong size", rd.Notes)
	require.NotNil(t, rd.CancelledAt)

	r, err := f.store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Total)

	stock, err := f.svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stock.Quantity)
	assert.True(t, stock.Available)

	_, err = f.svc.UpdateRedemptionStatus(ctx, id, StatusUpdate{Status: RedemptionCancelled}, admin)
	assert.True(t, apperr.IsValidation(err), "a second cancel must not refund twice")
	r, err = f.store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Total)

	_, err = f.svc.UpdateRedemptionStatus(ctx, id, StatusUpdate{Status: "lost"}, admin)
	assert.True(t, apperr.IsValidation(err))
	_, err = f.svc.UpdateRedemptionStatus(ctx, uuid.New(), StatusUpdate{Status: RedemptionCompleted}, admin)
	assert.True(t, apperr.IsNotFound(err))

	listed, err := f.svc.ListRedemptions(ctx, user)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, RedemptionCancelled, listed[0].Status)
}

func TestUpdateRedemptionStatus_CancelAfterItemDeleted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.svc.GrantPoints(ctx, grant(user, 60))
	require.NoError(t, err)
	item, err := f.svc.CreateItem(ctx, newItem(60, 1), uuid.New())
	require.NoError(t, err)
	res, err := f.svc.Redeem(ctx, user, item.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteItem(ctx, item.ID))

	_, err = f.svc.UpdateRedemptionStatus(ctx, res.Redemption.ID, StatusUpdate{Status: RedemptionCancelled}, uuid.New())
	require.NoError(t, err)

	r, err := f.store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 60, r.Total)

	_, err = f.svc.GetItem(ctx, item.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdateItem(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item, err := f.svc.CreateItem(ctx, newItem(10, 2), uuid.New())
	require.NoError(t, err)

	title := "Printing credit"
	updated, err := f.svc.UpdateItem(ctx, item.ID, ItemUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Printing credit", updated.Title)
	assert.Equal(t, 10, updated.Points)
	assert.Equal(t, 2, updated.Version)

	zero := 0
	updated, err = f.svc.UpdateItem(ctx, item.ID, ItemUpdate{Quantity: &zero})
	require.NoError(t, err)
	assert.False(t, updated.Available)

	five := 5
	updated, err = f.svc.UpdateItem(ctx, item.ID, ItemUpdate{Quantity: &five})
	require.NoError(t, err)
	assert.True(t, updated.Available)

	bad := "Snacks"
	_, err = f.svc.UpdateItem(ctx, item.ID, ItemUpdate{Category: &bad})
	assert.True(t, apperr.IsValidation(err))
	_, err = f.svc.UpdateItem(ctx, uuid.New(), ItemUpdate{Title: &title})
	assert.True(t, apperr.IsNotFound(err))
}
