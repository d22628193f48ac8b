package rewards

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
	"campusevents/pkg/eventstore"
)

// MemoryStore keeps reward records, their event logs and the catalog in
// process. One lock covers all of it, so a record and its events always
// commit together.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[uuid.UUID]*Reward
	items       map[uuid.UUID]*CatalogItem
	redemptions map[uuid.UUID]*Redemption
	log         *eventstore.MemoryStore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[uuid.UUID]*Reward),
		items:       make(map[uuid.UUID]*CatalogItem),
		redemptions: make(map[uuid.UUID]*Redemption),
		log:         eventstore.NewMemoryStore(),
	}
}

// Log exposes the event logs written by Save for reading.
func (m *MemoryStore) Log() eventstore.Store { return m.log }

func (m *MemoryStore) Get(_ context.Context, userID uuid.UUID) (*Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[userID]
	if !ok {
		return nil, apperr.NotFound("reward record", userID)
	}
	return cloneReward(r), nil
}

func (m *MemoryStore) Save(ctx context.Context, r *Reward, expectedVersion int, events ...eventstore.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReward(r.UserID, expectedVersion); err != nil {
		return err
	}
	if err := m.appendLog(ctx, r.UserID, expectedVersion, events); err != nil {
		return err
	}
	m.records[r.UserID] = cloneReward(r)
	return nil
}

func (m *MemoryStore) checkReward(userID uuid.UUID, expectedVersion int) error {
	current, exists := m.records[userID]
	switch {
	case expectedVersion == 0 && exists:
		return ErrStaleReward
	case expectedVersion > 0 && (!exists || current.Version != expectedVersion):
		return ErrStaleReward
	}
	return nil
}

func (m *MemoryStore) appendLog(ctx context.Context, userID uuid.UUID, expectedVersion int, events []eventstore.Event) error {
	if len(events) == 0 {
		return nil
	}
	return m.log.AppendEvents(ctx, userID, aggregateType, expectedVersion, events)
}

func (m *MemoryStore) Leaderboard(_ context.Context, skill string, offset, limit int) ([]LeaderboardEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ranked := make([]LeaderboardEntry, 0, len(m.records))
	for _, r := range m.records {
		points := r.Total
		if skill != "" {
			points = r.SkillPoints[skill]
			if points <= 0 {
				continue
			}
		}
		ranked = append(ranked, leaderboardEntry(r, points))
	}

	totals := make(map[uuid.UUID]int, len(m.records))
	for id, r := range m.records {
		totals[id] = r.Total
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if totals[a.UserID] != totals[b.UserID] {
			return totals[a.UserID] > totals[b.UserID]
		}
		return a.UserID.String() < b.UserID.String()
	})

	count := len(ranked)
	if offset >= count {
		return []LeaderboardEntry{}, count, nil
	}
	end := min(offset+limit, count)
	return ranked[offset:end], count, nil
}

func (m *MemoryStore) ExpiringUsers(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []uuid.UUID
	for id, r := range m.records {
		if next := r.NextExpiry(); next != nil && !next.After(now) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetItem(_ context.Context, id uuid.UUID) (*CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("reward", id)
	}
	cp := *it
	return &cp, nil
}

func (m *MemoryStore) ListItems(_ context.Context, includeUnavailable bool) ([]*CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*CatalogItem, 0, len(m.items))
	for _, it := range m.items {
		if !it.Available && !includeUnavailable {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points < out[j].Points
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) CreateItem(_ context.Context, it *CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[it.ID]; exists {
		return ErrStaleCatalog
	}
	cp := *it
	m.items[it.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveItem(_ context.Context, it *CatalogItem, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkItem(it.ID, expectedVersion); err != nil {
		return err
	}
	cp := *it
	m.items[it.ID] = &cp
	return nil
}

func (m *MemoryStore) checkItem(id uuid.UUID, expectedVersion int) error {
	current, ok := m.items[id]
	if !ok {
		return apperr.NotFound("reward", id)
	}
	if current.Version != expectedVersion {
		return ErrStaleCatalog
	}
	return nil
}

func (m *MemoryStore) DeleteItem(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return apperr.NotFound("reward", id)
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) GetRedemption(_ context.Context, id uuid.UUID) (*Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rd, ok := m.redemptions[id]
	if !ok {
		return nil, apperr.NotFound("redemption", id)
	}
	return cloneRedemption(rd), nil
}

func (m *MemoryStore) ListRedemptions(_ context.Context, userID uuid.UUID) ([]*Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Redemption{}
	for _, rd := range m.redemptions {
		if rd.UserID == userID {
			out = append(out, cloneRedemption(rd))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RedeemedAt.Equal(out[j].RedeemedAt) {
			return out[i].RedeemedAt.After(out[j].RedeemedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) CommitRedemption(ctx context.Context, c RedemptionCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Reward != nil {
		if err := m.checkReward(c.Reward.UserID, c.RewardExpected); err != nil {
			return err
		}
	}
	if c.Item != nil {
		if err := m.checkItem(c.Item.ID, c.ItemExpected); err != nil {
			return err
		}
	}
	if c.Redemption != nil {
		current, exists := m.redemptions[c.Redemption.ID]
		switch {
		case c.RedemptionExpected == 0 && exists:
			return ErrStaleCatalog
		case c.RedemptionExpected > 0 && (!exists || current.Version != c.RedemptionExpected):
			return ErrStaleCatalog
		}
	}

	if c.Reward != nil {
		if err := m.appendLog(ctx, c.Reward.UserID, c.RewardExpected, []eventstore.Event{c.Event}); err != nil {
			return err
		}
		m.records[c.Reward.UserID] = cloneReward(c.Reward)
	}
	if c.Item != nil {
		cp := *c.Item
		m.items[cp.ID] = &cp
	}
	if c.Redemption != nil {
		m.redemptions[c.Redemption.ID] = cloneRedemption(c.Redemption)
	}
	return nil
}

func cloneRedemption(rd *Redemption) *Redemption {
	cp := *rd
	if rd.CompletedAt != nil {
		t := *rd.CompletedAt
		cp.CompletedAt = &t
	}
	if rd.CancelledAt != nil {
		t := *rd.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

func cloneReward(r *Reward) *Reward {
	cp := *r
	cp.History = make([]PointGrant, len(r.History))
	for i, g := range r.History {
		g.Skills = maps.Clone(g.Skills)
		cp.History[i] = g
	}
	cp.Badges = append([]Badge{}, r.Badges...)
	cp.Achievements = append([]Achievement{}, r.Achievements...)
	cp.SkillPoints = maps.Clone(r.SkillPoints)
	if cp.SkillPoints == nil {
		cp.SkillPoints = map[string]int{}
	}
	return &cp
}
