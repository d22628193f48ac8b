package rewards

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/apperr"
	"campusevents/pkg/eventstore"
)

func opened(t *testing.T, user uuid.UUID) eventstore.Event {
	t.Helper()
	e, err := eventstore.NewEvent(aggregateType, "RewardOpened", RewardOpenedEvent{UserID: user})
	require.NoError(t, err)
	return e
}

func setupTestDB(t *testing.T) (*PostgresStore, *eventstore.EventStore) {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"),
		envOr("PGDATABASE", "testdb"),
	)
	db, err := sqlx.Open("postgres", connStr)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store, eventstore.NewEventStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresStore_SaveAndVersioning(t *testing.T) {
	s, log := setupTestDB(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := s.Get(ctx, user)
	assert.True(t, apperr.IsNotFound(err))

	r := NewReward(user, t0)
	r.AddPoints(PointGrant{Amount: 40, Reason: "r", Source: SourceOther, Skills: map[string]int{"chess": 40}, ExpiresAt: at(time.Hour)}, t0)
	require.NoError(t, r.AddBadge(Badge{Name: "b", Description: "d", Category: "special", Level: "gold"}, t0))
	r.Version = 1
	require.NoError(t, s.Save(ctx, r, 0, opened(t, user)))
	assert.ErrorIs(t, s.Save(ctx, r, 0, opened(t, user)), ErrStaleReward)

	got, err := s.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Total)
	assert.Equal(t, 40, got.SkillPoints["chess"])
	require.Len(t, got.History, 1)
	require.NotNil(t, got.History[0].ExpiresAt)
	assert.True(t, got.History[0].ExpiresAt.Equal(*at(time.Hour)))
	assert.Len(t, got.Badges, 1)

	got.Version = 2
	require.NoError(t, s.Save(ctx, got, 1, opened(t, user)))
	assert.ErrorIs(t, s.Save(ctx, got, 1, opened(t, user)), ErrStaleReward)

	version, err := log.GetCurrentVersion(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	users, err := s.ExpiringUsers(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Contains(t, users, user)

	entries, total, err := s.Leaderboard(ctx, "chess", 0, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	found := false
	for _, e := range entries {
		if e.UserID == user {
			found = true
			assert.Equal(t, 40, e.Points)
			assert.Equal(t, 1, e.BadgeCount)
		}
	}
	assert.True(t, found)
}

func TestPostgresStore_LogConflictRollsBackRecord(t *testing.T) {
	s, log := setupTestDB(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, log.AppendEvents(ctx, user, aggregateType, 0, []eventstore.Event{opened(t, user)}))

	r := NewReward(user, t0)
	r.Version = 1
	assert.ErrorIs(t, s.Save(ctx, r, 0, opened(t, user)), eventstore.ErrConcurrencyConflict)

	_, err := s.Get(ctx, user)
	assert.True(t, apperr.IsNotFound(err), "record insert must roll back with the rejected append")
}

func TestPostgresStore_Redemption(t *testing.T) {
	s, log := setupTestDB(t)
	ctx := context.Background()
	user := uuid.New()

	r := NewReward(user, t0)
	r.AddPoints(PointGrant{Amount: 50, Reason: "r", Source: SourceOther}, t0)
	r.Version = 1
	require.NoError(t, s.Save(ctx, r, 0, opened(t, user)))

	it := &CatalogItem{ID: uuid.New(), Title: "Mug", Description: "d", ImageURL: "https://example.org/m.png",
		Points: 30, Category: "Merchandise", Quantity: 1, Available: true, Version: 1, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateItem(ctx, it))

	require.NoError(t, it.take(t0))
	r.AddPoints(PointGrant{Amount: -30, Reason: "Redeemed Mug", Source: SourceRedemption}, t0)
	r.Version = 2
	rd := &Redemption{ID: uuid.New(), UserID: user, ItemID: it.ID, ItemTitle: it.Title, Points: 30,
		Status: RedemptionPending, RedeemedAt: t0, Version: 1, UpdatedAt: t0}
	c := RedemptionCommit{Reward: r, RewardExpected: 1, Event: opened(t, user), Item: it, ItemExpected: 1, Redemption: rd}
	require.NoError(t, s.CommitRedemption(ctx, c))
	assert.ErrorIs(t, s.CommitRedemption(ctx, c), ErrStaleReward)

	got, err := s.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Total)

	stock, err := s.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stock.Quantity)
	assert.False(t, stock.Available)

	listed, err := s.ListRedemptions(ctx, user)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Mug", listed[0].ItemTitle)

	version, err := log.GetCurrentVersion(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	require.NoError(t, s.DeleteItem(ctx, it.ID))
	assert.True(t, apperr.IsNotFound(s.DeleteItem(ctx, it.ID)))
}
