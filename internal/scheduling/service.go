// internal/scheduling/service.go
package scheduling

import (
	"context"

	"github.com/google/uuid"

	"campusevents/pkg/eventstore"
)

// Service defines the interface for the scheduling service.
type Service interface {
	CreateVenue(ctx context.Context, in NewVenue) (*Venue, error)
	GetVenue(ctx context.Context, id uuid.UUID) (*Venue, error)
	ListVenues(ctx context.Context, f VenueFilter) ([]*Venue, error)
	UpdateVenue(ctx context.Context, id uuid.UUID, in VenueUpdate) (*Venue, error)
	DeleteVenue(ctx context.Context, id uuid.UUID) error
	CheckAvailability(ctx context.Context, venueID uuid.UUID, slot Slot, excludeID uuid.UUID) (*Availability, error)

	CreateEvent(ctx context.Context, in NewEvent) (*Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)
	UpdateSchedule(ctx context.Context, id uuid.UUID, change ScheduleChange) (*Event, error)
	CancelEvent(ctx context.Context, id, actor uuid.UUID) (*Event, error)
	Register(ctx context.Context, eventID, userID uuid.UUID) (*Registration, error)
	MarkAttendance(ctx context.Context, eventID, userID uuid.UUID, attended bool, actor uuid.UUID) (*Event, error)
	PublishResults(ctx context.Context, eventID uuid.UUID, results []ResultEntry, actor uuid.UUID) (*Event, error)
	EventLog(ctx context.Context, eventID uuid.UUID) ([]eventstore.Event, error)
}

// NewVenue is the input for CreateVenue.
type NewVenue struct {
	Name        string    `json:"name" validate:"required"`
	Location    string    `json:"location" validate:"required"`
	Capacity    int       `json:"capacity" validate:"min=1"`
	Type        string    `json:"type" validate:"oneof=indoor outdoor classroom lab auditorium stadium court other"`
	Description string    `json:"description"`
	CreatedBy   uuid.UUID `json:"-"`
}

// VenueUpdate replaces a venue's details. An empty Status keeps the current one.
type VenueUpdate struct {
	Name        string    `json:"name" validate:"required"`
	Location    string    `json:"location" validate:"required"`
	Capacity    int       `json:"capacity" validate:"min=1"`
	Type        string    `json:"type" validate:"oneof=indoor outdoor classroom lab auditorium stadium court other"`
	Status      string    `json:"status" validate:"omitempty,oneof=available maintenance reserved"`
	Description string    `json:"description"`
	UpdatedBy   uuid.UUID `json:"-"`
}

// ResultEntry is one participant's placing in PublishResults.
type ResultEntry struct {
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Rank        int       `json:"rank" validate:"min=1"`
	Points      int       `json:"points" validate:"min=0"`
	Certificate string    `json:"certificate,omitempty"`
}

// NewEvent is the input for CreateEvent. Status defaults to draft.
type NewEvent struct {
	Title            string    `json:"title" validate:"required"`
	Description      string    `json:"description" validate:"required"`
	Category         string    `json:"category" validate:"required,oneof=Chess Basketball Swimming Athletics Cricket Badminton 'Table Tennis' Hackathons Cultural Music Dance Technical Academic Other"`
	VenueID          uuid.UUID `json:"venue_id" validate:"required"`
	Slot             Slot      `json:"slot"`
	Status           Status    `json:"status"`
	ParticipantLimit int       `json:"participant_limit" validate:"min=1"`
	RegistrationFee  float64   `json:"registration_fee" validate:"min=0"`
	OrganizerID      uuid.UUID `json:"-"`
}

// ScheduleChange moves an event to a new slot and optionally a new status.
type ScheduleChange struct {
	Slot   Slot    `json:"slot"`
	Status *Status `json:"status,omitempty"`
}

// Availability is the answer to a venue availability query.
type Availability struct {
	Available bool              `json:"available"`
	Conflicts []BookingInterval `json:"conflicts,omitempty"`
}

// Registration reports where a registering user ended up.
type Registration struct {
	EventID    uuid.UUID `json:"event_id"`
	UserID     uuid.UUID `json:"user_id"`
	Waitlisted bool      `json:"waitlisted"`
}
