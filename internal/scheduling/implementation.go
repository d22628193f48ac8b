// internal/scheduling/implementation.go
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"campusevents/internal/apperr"
	"campusevents/internal/notify"
	"campusevents/internal/platform"
	"campusevents/pkg/eventstore"
)

const aggregateType = "scheduled_event"

// service implements the Service interface.
type service struct {
	store     Store
	events    eventstore.Store
	publisher notify.Publisher
	log       *slog.Logger
	tracer    trace.Tracer
	conflicts metric.Int64Counter
	now       func() time.Time
}

// NewService creates a new scheduling service instance. events is where
// EventLog reads; writes reach the log through store.
func NewService(store Store, events eventstore.Store, publisher notify.Publisher, log *slog.Logger) Service {
	conflicts, err := otel.Meter("campusevents/scheduling").Int64Counter("scheduling.venue_conflicts",
		metric.WithDescription("Bookings rejected because the venue slot was taken"))
	if err != nil {
		log.Warn("metric registration failed", "err", err)
	}
	return &service{
		store:     store,
		events:    events,
		publisher: publisher,
		log:       log,
		tracer:    otel.Tracer("campusevents/scheduling"),
		conflicts: conflicts,
		now:       time.Now,
	}
}

// CreateVenue registers a new bookable venue.
func (s *service) CreateVenue(ctx context.Context, in NewVenue) (*Venue, error) {
	if in.Capacity < 1 {
		return nil, apperr.Invalid("capacity", "capacity must be at least 1")
	}
	now := s.now().UTC()
	v := &Venue{
		ID:          uuid.New(),
		Name:        in.Name,
		Location:    in.Location,
		Capacity:    in.Capacity,
		Type:        in.Type,
		Status:      "available",
		Description: in.Description,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateVenue(ctx, v); err != nil {
		return nil, fmt.Errorf("create venue: %w", err)
	}
	return v, nil
}

func (s *service) GetVenue(ctx context.Context, id uuid.UUID) (*Venue, error) {
	return s.store.GetVenue(ctx, id)
}

func (s *service) ListVenues(ctx context.Context, f VenueFilter) ([]*Venue, error) {
	return s.store.ListVenues(ctx, f)
}

// UpdateVenue replaces a venue's details, keeping names unique.
func (s *service) UpdateVenue(ctx context.Context, id uuid.UUID, in VenueUpdate) (*Venue, error) {
	if err := platform.Validate(in); err != nil {
		return nil, err
	}
	v, err := s.store.GetVenue(ctx, id)
	if err != nil {
		return nil, err
	}

	v.Name, v.Location, v.Capacity, v.Type = in.Name, in.Location, in.Capacity, in.Type
	v.Description = in.Description
	if in.Status != "" {
		v.Status = in.Status
	}
	v.UpdatedBy = in.UpdatedBy
	v.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateVenue(ctx, v); err != nil {
		return nil, fmt.Errorf("update venue: %w", err)
	}
	return v, nil
}

// DeleteVenue removes a venue unless an upcoming or running event still uses it.
func (s *service) DeleteVenue(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.GetVenue(ctx, id); err != nil {
		return err
	}
	events, err := s.store.ListEvents(ctx, EventFilter{VenueID: id})
	if err != nil {
		return fmt.Errorf("list venue events: %w", err)
	}

	var inUse []BookingInterval
	for _, ev := range events {
		if ev.Status != StatusCompleted && ev.Status != StatusCancelled {
			inUse = append(inUse, ev.Interval())
		}
	}
	if len(inUse) > 0 {
		return apperr.Conflict(inUse, "venue is used by %d active events", len(inUse))
	}
	return s.store.DeleteVenue(ctx, id)
}

// CheckAvailability reports whether slot is free at the venue. It reads
// without locking; CreateEvent and UpdateSchedule re-check at commit.
func (s *service) CheckAvailability(ctx context.Context, venueID uuid.UUID, slot Slot, excludeID uuid.UUID) (*Availability, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.check_availability",
		trace.WithAttributes(attribute.String("venue.id", venueID.String())))
	defer span.End()

	if err := slot.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetVenue(ctx, venueID); err != nil {
		return nil, err
	}

	live, err := s.store.LiveBookings(ctx, venueID, slot.StartDate, slot.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	conflicts, err := FindConflicts(venueID, slot, live, excludeID)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("conflicts", len(conflicts)))
	if len(conflicts) > 0 {
		return &Availability{Available: false, Conflicts: conflicts}, nil
	}
	return &Availability{Available: true}, nil
}

// CreateEvent stores a new event. Live events claim their venue slot in the
// same transaction that checks it.
func (s *service) CreateEvent(ctx context.Context, in NewEvent) (*Event, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.create_event",
		trace.WithAttributes(attribute.String("venue.id", in.VenueID.String())))
	defer span.End()

	if in.Status == "" {
		in.Status = StatusDraft
	}
	if !in.Status.Valid() {
		return nil, apperr.Invalid("status", "unknown status %q", in.Status)
	}
	if err := in.Slot.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ev := &Event{
		ID:               uuid.New(),
		Title:            in.Title,
		Description:      in.Description,
		Category:         in.Category,
		VenueID:          in.VenueID,
		StartDate:        in.Slot.StartDate,
		EndDate:          in.Slot.EndDate,
		StartTime:        in.Slot.StartTime,
		EndTime:          in.Slot.EndTime,
		Status:           in.Status,
		OrganizerID:      in.OrganizerID,
		ParticipantLimit: in.ParticipantLimit,
		RegistrationFee:  in.RegistrationFee,
		Participants:     []Participant{},
		Waitlist:         []WaitlistEntry{},
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.save(ctx, "create event", ev, 0, s.bookingCheck(ctx, ev), "EventScheduled", EventScheduledEvent{
		ID:          ev.ID,
		VenueID:     ev.VenueID,
		Slot:        ev.Slot(),
		Status:      ev.Status,
		OrganizerID: ev.OrganizerID,
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *service) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return s.store.GetEvent(ctx, id)
}

// EventLog returns the recorded changes of an event, oldest first.
func (s *service) EventLog(ctx context.Context, eventID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	entries, err := s.events.LoadEvents(ctx, eventID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("load event log: %w", err)
	}
	return entries, nil
}

func (s *service) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Invalid("status", "unknown status %q", f.Status)
	}
	return s.store.ListEvents(ctx, f)
}

// UpdateSchedule moves an event to a new slot, re-checking the venue while
// ignoring the event's own current booking.
func (s *service) UpdateSchedule(ctx context.Context, id uuid.UUID, change ScheduleChange) (*Event, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.update_schedule",
		trace.WithAttributes(attribute.String("event.id", id.String())))
	defer span.End()

	if err := change.Slot.Validate(); err != nil {
		return nil, err
	}
	if change.Status != nil && !change.Status.Valid() {
		return nil, apperr.Invalid("status", "unknown status %q", *change.Status)
	}

	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := ev.Version

	ev.StartDate, ev.EndDate = change.Slot.StartDate, change.Slot.EndDate
	ev.StartTime, ev.EndTime = change.Slot.StartTime, change.Slot.EndTime
	if change.Status != nil {
		ev.Status = *change.Status
	}
	ev.Version++
	ev.UpdatedAt = s.now().UTC()

	err = s.save(ctx, "update schedule", ev, expected, s.bookingCheck(ctx, ev), "EventRescheduled", EventRescheduledEvent{
		ID:     ev.ID,
		Slot:   ev.Slot(),
		Status: ev.Status,
	})
	if err != nil {
		return nil, err
	}
	if recipients := ev.participantIDs(); len(recipients) > 0 {
		s.notify(ctx, "scheduling.rescheduled", notify.New("event_update",
			"Event rescheduled",
			fmt.Sprintf("%s now runs %s to %s, %s-%s.", ev.Title, ev.StartDate, ev.EndDate, ev.StartTime, ev.EndTime),
			notify.PriorityHigh, ev.OrganizerID, recipients...))
	}
	return ev, nil
}

// CancelEvent releases the venue slot and tells registered participants.
func (s *service) CancelEvent(ctx context.Context, id, actor uuid.UUID) (*Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status == StatusCancelled {
		return ev, nil
	}
	if ev.Status == StatusCompleted {
		return nil, apperr.Invalid("status", "completed events cannot be cancelled")
	}

	expected := ev.Version
	ev.Status = StatusCancelled
	ev.Version++
	ev.UpdatedAt = s.now().UTC()
	err = s.save(ctx, "cancel event", ev, expected, nil, "EventCancelled", EventCancelledEvent{ID: ev.ID, CancelledBy: actor})
	if err != nil {
		return nil, err
	}

	if recipients := ev.participantIDs(); len(recipients) > 0 {
		s.notify(ctx, "scheduling.cancelled", notify.New("cancellation",
			"Event cancelled",
			fmt.Sprintf("%s on %s has been cancelled.", ev.Title, ev.StartDate),
			notify.PriorityHigh, actor, recipients...))
	}
	return ev, nil
}

// Register adds userID to the event, or to its waitlist once the participant
// limit is reached.
func (s *service) Register(ctx context.Context, eventID, userID uuid.UUID) (*Registration, error) {
	if userID == uuid.Nil {
		return nil, apperr.Invalid("user_id", "user id is required")
	}
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status != StatusPublished && ev.Status != StatusActive {
		return nil, apperr.Invalid("status", "event is %s and not open for registration", ev.Status)
	}
	if ev.participant(userID) != nil || ev.waitlisted(userID) {
		return nil, apperr.Conflict(nil, "user is already registered")
	}

	now := s.now().UTC()
	reg := &Registration{EventID: eventID, UserID: userID}
	if len(ev.Participants) >= ev.ParticipantLimit {
		ev.Waitlist = append(ev.Waitlist, WaitlistEntry{UserID: userID, JoinedAt: now})
		reg.Waitlisted = true
	} else {
		status := "pending"
		if ev.RegistrationFee == 0 {
			status = "waived"
		}
		ev.Participants = append(ev.Participants, Participant{UserID: userID, RegisteredAt: now, PaymentStatus: status})
	}

	expected := ev.Version
	ev.Version++
	ev.UpdatedAt = now
	err = s.save(ctx, "register", ev, expected, nil, "ParticipantRegistered", ParticipantRegisteredEvent{
		EventID:    ev.ID,
		UserID:     userID,
		Waitlisted: reg.Waitlisted,
	})
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("You are registered for %s.", ev.Title)
	if reg.Waitlisted {
		msg = fmt.Sprintf("%s is full. You are on the waitlist.", ev.Title)
	}
	s.notify(ctx, "scheduling.registered", notify.New("registration",
		"Registration received", msg, notify.PriorityNormal, userID, userID))
	return reg, nil
}

// MarkAttendance records whether a registered participant attended.
func (s *service) MarkAttendance(ctx context.Context, eventID, userID uuid.UUID, attended bool, actor uuid.UUID) (*Event, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	p := ev.participant(userID)
	if p == nil {
		return nil, apperr.NotFound("participant", userID)
	}

	now := s.now().UTC()
	p.Attended = attended
	p.AttendanceMarkedBy = actor
	if attended {
		p.AttendanceMarkedAt = &now
	} else {
		p.AttendanceMarkedAt = nil
	}

	expected := ev.Version
	ev.Version++
	ev.UpdatedAt = now
	err = s.save(ctx, "mark attendance", ev, expected, nil, "AttendanceMarked", AttendanceMarkedEvent{
		EventID:  ev.ID,
		UserID:   userID,
		Attended: attended,
		MarkedBy: actor,
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// PublishResults records each listed participant's placing and completes the
// event. Users who are not participants are skipped.
func (s *service) PublishResults(ctx context.Context, eventID uuid.UUID, results []ResultEntry, actor uuid.UUID) (*Event, error) {
	for i, r := range results {
		if err := platform.Validate(r); err != nil {
			return nil, fmt.Errorf("results[%d]: %w", i, err)
		}
	}

	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status == StatusCancelled {
		return nil, apperr.Invalid("status", "cancelled events have no results")
	}

	recorded := make([]ResultEntry, 0, len(results))
	for _, r := range results {
		p := ev.participant(r.UserID)
		if p == nil {
			continue
		}
		p.Result = &Result{Rank: r.Rank, Points: r.Points, Certificate: r.Certificate}
		recorded = append(recorded, r)
	}

	now := s.now().UTC()
	expected := ev.Version
	ev.Status = StatusCompleted
	ev.ResultsPublished = true
	ev.ResultsPublishedAt = &now
	ev.ResultsPublishedBy = actor
	ev.Version++
	ev.UpdatedAt = now

	err = s.save(ctx, "publish results", ev, expected, nil, "ResultsPublished", ResultsPublishedEvent{
		EventID:     ev.ID,
		Results:     recorded,
		PublishedBy: actor,
	})
	if err != nil {
		return nil, err
	}

	if recipients := ev.participantIDs(); len(recipients) > 0 {
		s.notify(ctx, "scheduling.results", notify.New("result",
			"Results published",
			fmt.Sprintf("Results for %s are out.", ev.Title),
			notify.PriorityNormal, actor, recipients...))
	}
	return ev, nil
}

// bookingCheck returns the in-transaction conflict check for ev, or nil when
// ev does not hold its venue slot.
func (s *service) bookingCheck(ctx context.Context, ev *Event) BookingCheck {
	if !ev.Status.Live() {
		return nil
	}
	slot, venueID, id := ev.Slot(), ev.VenueID, ev.ID
	return func(live []BookingInterval) error {
		conflicts, err := FindConflicts(venueID, slot, live, id)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			if s.conflicts != nil {
				s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("venue.id", venueID.String())))
			}
			return apperr.Conflict(conflicts, "venue is already booked for %d overlapping events", len(conflicts))
		}
		return nil
	}
}

// save commits ev and the log entry describing the change in one write.
func (s *service) save(ctx context.Context, op string, ev *Event, expected int, check BookingCheck, eventType string, data any) error {
	entry, err := eventstore.NewEvent(aggregateType, eventType, data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.SaveEvent(ctx, ev, expected, check, entry); err != nil {
		return wrapStale(op, err)
	}
	return nil
}

func wrapStale(op string, err error) error {
	if errors.Is(err, ErrStaleEvent) || errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return apperr.Conflict(nil, "%s: event was modified concurrently, retry", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *service) notify(ctx context.Context, key string, n notify.Notification) {
	if err := s.publisher.Publish(ctx, key, n); err != nil {
		s.log.Warn("notification publish failed", "key", key, "err", err)
	}
}
