package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
	"campusevents/pkg/eventstore"
)

// MemoryStore keeps venues, events and their logs in process. One mutex
// serialises every booking, which is the in-memory equivalent of the Postgres
// venue row lock.
type MemoryStore struct {
	mu     sync.Mutex
	venues map[uuid.UUID]*Venue
	events map[uuid.UUID]*Event
	log    *eventstore.MemoryStore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		venues: make(map[uuid.UUID]*Venue),
		events: make(map[uuid.UUID]*Event),
		log:    eventstore.NewMemoryStore(),
	}
}

// Log exposes the event logs written by SaveEvent for reading.
func (m *MemoryStore) Log() eventstore.Store { return m.log }

func (m *MemoryStore) CreateVenue(_ context.Context, v *Venue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.venues {
		if existing.Name == v.Name {
			return apperr.Conflict(nil, "venue %q already exists", v.Name)
		}
	}
	cp := *v
	m.venues[v.ID] = &cp
	return nil
}

func (m *MemoryStore) GetVenue(_ context.Context, id uuid.UUID) (*Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.venues[id]
	if !ok {
		return nil, apperr.NotFound("venue", id)
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListVenues(_ context.Context, f VenueFilter) ([]*Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	search := strings.ToLower(f.Search)
	var out []*Venue
	for _, v := range m.venues {
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.Type != "" && v.Type != f.Type {
			continue
		}
		if v.Capacity < f.MinCapacity {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(v.Name), search) && !strings.Contains(strings.ToLower(v.Location), search) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateVenue(_ context.Context, v *Venue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.venues[v.ID]; !ok {
		return apperr.NotFound("venue", v.ID)
	}
	for id, existing := range m.venues {
		if id != v.ID && existing.Name == v.Name {
			return apperr.Conflict(nil, "venue %q already exists", v.Name)
		}
	}
	cp := *v
	m.venues[v.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteVenue(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.venues[id]; !ok {
		return apperr.NotFound("venue", id)
	}
	delete(m.venues, id)
	return nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id uuid.UUID) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, apperr.NotFound("event", id)
	}
	return cloneEvent(ev), nil
}

func (m *MemoryStore) ListEvents(_ context.Context, f EventFilter) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Event
	for _, ev := range m.events {
		if f.Category != "" && ev.Category != f.Category {
			continue
		}
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		if f.VenueID != uuid.Nil && ev.VenueID != f.VenueID {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *MemoryStore) LiveBookings(_ context.Context, venueID uuid.UUID, from, to Date) ([]BookingInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveBookings(venueID, from, to), nil
}

func (m *MemoryStore) liveBookings(venueID uuid.UUID, from, to Date) []BookingInterval {
	var out []BookingInterval
	for _, ev := range m.events {
		if ev.VenueID != venueID || !ev.Status.Live() {
			continue
		}
		if ev.StartDate.After(to) || from.After(ev.EndDate) {
			continue
		}
		out = append(out, ev.Interval())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

func (m *MemoryStore) SaveEvent(ctx context.Context, ev *Event, expectedVersion int, check BookingCheck, events ...eventstore.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.venues[ev.VenueID]; !ok {
		return apperr.NotFound("venue", ev.VenueID)
	}

	current, exists := m.events[ev.ID]
	switch {
	case expectedVersion == 0 && exists:
		return ErrStaleEvent
	case expectedVersion > 0 && !exists:
		return apperr.NotFound("event", ev.ID)
	case expectedVersion > 0 && current.Version != expectedVersion:
		return ErrStaleEvent
	}

	if check != nil {
		if err := check(m.liveBookings(ev.VenueID, ev.StartDate, ev.EndDate)); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		if err := m.log.AppendEvents(ctx, ev.ID, aggregateType, expectedVersion, events); err != nil {
			return err
		}
	}

	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

func cloneEvent(ev *Event) *Event {
	cp := *ev
	cp.Participants = append([]Participant(nil), ev.Participants...)
	for i, p := range cp.Participants {
		if p.Result != nil {
			r := *p.Result
			cp.Participants[i].Result = &r
		}
	}
	cp.Waitlist = append([]WaitlistEntry(nil), ev.Waitlist...)
	return &cp
}
