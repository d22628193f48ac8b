package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"campusevents/pkg/eventstore"
)

// ErrStaleEvent is returned by SaveEvent when the stored version moved on.
var ErrStaleEvent = errors.New("event was modified concurrently")

// BookingCheck inspects the venue's live bookings inside the booking
// transaction and returns an error to abort the write.
type BookingCheck func(live []BookingInterval) error

// VenueFilter narrows ListVenues. Zero values match everything.
type VenueFilter struct {
	Status      string
	Type        string
	MinCapacity int
	Search      string
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	Category string
	Status   Status
	VenueID  uuid.UUID
}

// Store persists venues, events and each event's log. SaveEvent is the single
// commit point for venue bookings: the check, the write and the log append
// happen under one venue lock.
type Store interface {
	CreateVenue(ctx context.Context, v *Venue) error
	GetVenue(ctx context.Context, id uuid.UUID) (*Venue, error)
	ListVenues(ctx context.Context, f VenueFilter) ([]*Venue, error)
	// UpdateVenue replaces the stored venue with v. Names stay unique.
	UpdateVenue(ctx context.Context, v *Venue) error
	DeleteVenue(ctx context.Context, id uuid.UUID) error

	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)
	LiveBookings(ctx context.Context, venueID uuid.UUID, from, to Date) ([]BookingInterval, error)

	// SaveEvent inserts ev when expectedVersion is 0, otherwise updates it if
	// the stored version still equals expectedVersion. A non-nil check runs
	// against the venue's live bookings before the write. events join the
	// event's log at expectedVersion in the same commit.
	SaveEvent(ctx context.Context, ev *Event, expectedVersion int, check BookingCheck, events ...eventstore.Event) error
}
