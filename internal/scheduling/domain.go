// internal/scheduling/domain.go
package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Live reports whether an event in this state holds its venue slot.
func (s Status) Live() bool {
	return s != StatusDraft && s != StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusActive, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Venue is a bookable place on campus.
type Venue struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Location    string    `json:"location" db:"location"`
	Capacity    int       `json:"capacity" db:"capacity"`
	Type        string    `json:"type" db:"type"`
	Status      string    `json:"status" db:"status"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedBy   uuid.UUID `json:"created_by" db:"created_by"`
	UpdatedBy   uuid.UUID `json:"updated_by,omitzero" db:"updated_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Participant is a registered attendee of an event.
type Participant struct {
	UserID             uuid.UUID  `json:"user_id"`
	RegisteredAt       time.Time  `json:"registered_at"`
	PaymentStatus      string     `json:"payment_status"`
	Attended           bool       `json:"attended"`
	AttendanceMarkedBy uuid.UUID  `json:"attendance_marked_by,omitzero"`
	AttendanceMarkedAt *time.Time `json:"attendance_marked_at,omitempty"`
	Result             *Result    `json:"result,omitempty"`
}

// Result is a participant's placing once results are published.
type Result struct {
	Rank        int    `json:"rank"`
	Points      int    `json:"points"`
	Certificate string `json:"certificate,omitempty"`
}

// WaitlistEntry is a user queued for a full event.
type WaitlistEntry struct {
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Event is a scheduled university event occupying a venue slot.
type Event struct {
	ID                 uuid.UUID       `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Category           string          `json:"category"`
	VenueID            uuid.UUID       `json:"venue_id"`
	StartDate          Date            `json:"start_date"`
	EndDate            Date            `json:"end_date"`
	StartTime          string          `json:"start_time"`
	EndTime            string          `json:"end_time"`
	Status             Status          `json:"status"`
	OrganizerID        uuid.UUID       `json:"organizer_id"`
	ParticipantLimit   int             `json:"participant_limit"`
	RegistrationFee    float64         `json:"registration_fee"`
	Participants       []Participant   `json:"participants"`
	Waitlist           []WaitlistEntry `json:"waitlist"`
	ResultsPublished   bool            `json:"results_published"`
	ResultsPublishedAt *time.Time      `json:"results_published_at,omitempty"`
	ResultsPublishedBy uuid.UUID       `json:"results_published_by,omitzero"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Slot returns the date/time window the event occupies.
func (e *Event) Slot() Slot {
	return Slot{StartDate: e.StartDate, EndDate: e.EndDate, StartTime: e.StartTime, EndTime: e.EndTime}
}

// Interval returns the event as a booking interval for conflict checks.
func (e *Event) Interval() BookingInterval {
	return BookingInterval{
		ID:      e.ID,
		VenueID: e.VenueID,
		Title:   e.Title,
		Slot:    e.Slot(),
		Status:  e.Status,
	}
}

func (e *Event) participant(userID uuid.UUID) *Participant {
	for i := range e.Participants {
		if e.Participants[i].UserID == userID {
			return &e.Participants[i]
		}
	}
	return nil
}

func (e *Event) participantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(e.Participants))
	for _, p := range e.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func (e *Event) waitlisted(userID uuid.UUID) bool {
	for _, w := range e.Waitlist {
		if w.UserID == userID {
			return true
		}
	}
	return false
}

// EventScheduledEvent is appended when an event is created.
type EventScheduledEvent struct {
	ID          uuid.UUID `json:"id"`
	VenueID     uuid.UUID `json:"venue_id"`
	Slot        Slot      `json:"slot"`
	Status      Status    `json:"status"`
	OrganizerID uuid.UUID `json:"organizer_id"`
}

// EventRescheduledEvent is appended when an event's slot or status changes.
type EventRescheduledEvent struct {
	ID     uuid.UUID `json:"id"`
	Slot   Slot      `json:"slot"`
	Status Status    `json:"status"`
}

// EventCancelledEvent is appended when an event is cancelled.
type EventCancelledEvent struct {
	ID          uuid.UUID `json:"id"`
	CancelledBy uuid.UUID `json:"cancelled_by"`
}

// ParticipantRegisteredEvent is appended when a user registers or is waitlisted.
type ParticipantRegisteredEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	UserID     uuid.UUID `json:"user_id"`
	Waitlisted bool      `json:"waitlisted"`
}

// AttendanceMarkedEvent is appended when attendance is recorded.
type AttendanceMarkedEvent struct {
	EventID  uuid.UUID `json:"event_id"`
	UserID   uuid.UUID `json:"user_id"`
	Attended bool      `json:"attended"`
	MarkedBy uuid.UUID `json:"marked_by"`
}

// ResultsPublishedEvent is appended when an event's results are recorded.
type ResultsPublishedEvent struct {
	EventID     uuid.UUID     `json:"event_id"`
	Results     []ResultEntry `json:"results"`
	PublishedBy uuid.UUID     `json:"published_by"`
}
