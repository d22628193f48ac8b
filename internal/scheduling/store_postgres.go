package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"campusevents/internal/apperr"
	"campusevents/internal/platform"
	"campusevents/pkg/eventstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS venues (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	location TEXT NOT NULL,
	capacity INT NOT NULL CHECK (capacity >= 1),
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'available',
	description TEXT NOT NULL DEFAULT '',
	created_by UUID,
	updated_by UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scheduled_events (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	category TEXT NOT NULL,
	venue_id UUID NOT NULL REFERENCES venues (id),
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	status TEXT NOT NULL,
	organizer_id UUID NOT NULL,
	participant_limit INT NOT NULL,
	registration_fee DOUBLE PRECISION NOT NULL DEFAULT 0,
	participants JSONB NOT NULL DEFAULT '[]',
	waitlist JSONB NOT NULL DEFAULT '[]',
	results_published BOOLEAN NOT NULL DEFAULT FALSE,
	results_published_at TIMESTAMPTZ,
	results_published_by UUID,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS scheduled_events_venue_idx ON scheduled_events (venue_id, status, start_date);
`

type eventRow struct {
	ID               uuid.UUID                            `db:"id"`
	Title            string                               `db:"title"`
	Description      string                               `db:"description"`
	Category         string                               `db:"category"`
	VenueID          uuid.UUID                            `db:"venue_id"`
	StartDate        Date                                 `db:"start_date"`
	EndDate          Date                                 `db:"end_date"`
	StartTime        string                               `db:"start_time"`
	EndTime          string                               `db:"end_time"`
	Status           string                               `db:"status"`
	OrganizerID      uuid.UUID                            `db:"organizer_id"`
	ParticipantLimit int                                  `db:"participant_limit"`
	RegistrationFee  float64                              `db:"registration_fee"`
	Participants     platform.JSONColumn[[]Participant]   `db:"participants"`
	Waitlist         platform.JSONColumn[[]WaitlistEntry] `db:"waitlist"`
	ResultsPublished bool                                 `db:"results_published"`
	PublishedAt      *time.Time                           `db:"results_published_at"`
	PublishedBy      *uuid.UUID                           `db:"results_published_by"`
	Version          int                                  `db:"version"`
	ExpectedVersion  int                                  `db:"expected_version"`
	CreatedAt        time.Time                            `db:"created_at"`
	UpdatedAt        time.Time                            `db:"updated_at"`
}

func toRow(ev *Event) eventRow {
	row := eventRow{
		ID:               ev.ID,
		Title:            ev.Title,
		Description:      ev.Description,
		Category:         ev.Category,
		VenueID:          ev.VenueID,
		StartDate:        ev.StartDate,
		EndDate:          ev.EndDate,
		StartTime:        ev.StartTime,
		EndTime:          ev.EndTime,
		Status:           string(ev.Status),
		OrganizerID:      ev.OrganizerID,
		ParticipantLimit: ev.ParticipantLimit,
		RegistrationFee:  ev.RegistrationFee,
		Participants:     platform.JSONColumn[[]Participant]{V: nonNil(ev.Participants)},
		Waitlist:         platform.JSONColumn[[]WaitlistEntry]{V: nonNil(ev.Waitlist)},
		ResultsPublished: ev.ResultsPublished,
		PublishedAt:      ev.ResultsPublishedAt,
		Version:          ev.Version,
		CreatedAt:        ev.CreatedAt,
		UpdatedAt:        ev.UpdatedAt,
	}
	if ev.ResultsPublishedBy != uuid.Nil {
		row.PublishedBy = &ev.ResultsPublishedBy
	}
	return row
}

func (r eventRow) toEvent() *Event {
	ev := &Event{
		ID:                 r.ID,
		Title:              r.Title,
		Description:        r.Description,
		Category:           r.Category,
		VenueID:            r.VenueID,
		StartDate:          r.StartDate,
		EndDate:            r.EndDate,
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		Status:             Status(r.Status),
		OrganizerID:        r.OrganizerID,
		ParticipantLimit:   r.ParticipantLimit,
		RegistrationFee:    r.RegistrationFee,
		Participants:       r.Participants.V,
		Waitlist:           r.Waitlist.V,
		ResultsPublished:   r.ResultsPublished,
		ResultsPublishedAt: r.PublishedAt,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.PublishedBy != nil {
		ev.ResultsPublishedBy = *r.PublishedBy
	}
	return ev
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

const eventColumns = `id, title, description, category, venue_id, start_date, end_date, start_time, end_time,
	status, organizer_id, participant_limit, registration_fee, participants, waitlist, results_published,
	results_published_at, results_published_by, version, created_at, updated_at`

const venueColumns = `id, name, location, capacity, type, status, description, created_by, updated_by, created_at, updated_at`

// PostgresStore is the production Store.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the scheduling tables, and the event log they write to, if
// they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema+eventstore.Schema); err != nil {
		return fmt.Errorf("migrate scheduling: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateVenue(ctx context.Context, v *Venue) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO venues (`+venueColumns+`)
		VALUES (:id, :name, :location, :capacity, :type, :status, :description, :created_by, :updated_by,
			:created_at, :updated_at)
	`, v)
	if isUniqueViolation(err) {
		return apperr.Conflict(nil, "venue %q already exists", v.Name)
	}
	return err
}

func (s *PostgresStore) GetVenue(ctx context.Context, id uuid.UUID) (*Venue, error) {
	var v Venue
	err := s.db.GetContext(ctx, &v, `
		SELECT `+venueColumns+`
		FROM venues
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("venue", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get venue: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) ListVenues(ctx context.Context, f VenueFilter) ([]*Venue, error) {
	query := `
		SELECT ` + venueColumns + `
		FROM venues
		WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR type = $2)
		AND capacity >= $3
		AND ($4 = '' OR name ILIKE '%' || $4 || '%' OR location ILIKE '%' || $4 || '%')
		ORDER BY name ASC
	`
	var venues []*Venue
	if err := s.db.SelectContext(ctx, &venues, query, f.Status, f.Type, f.MinCapacity, f.Search); err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	return venues, nil
}

func (s *PostgresStore) UpdateVenue(ctx context.Context, v *Venue) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE venues
		SET name = :name, location = :location, capacity = :capacity, type = :type, status = :status,
			description = :description, updated_by = :updated_by, updated_at = :updated_at
		WHERE id = :id
	`, v)
	if isUniqueViolation(err) {
		return apperr.Conflict(nil, "venue %q already exists", v.Name)
	}
	if err != nil {
		return fmt.Errorf("update venue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("venue", v.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteVenue(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM venues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete venue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("venue", id)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, `SELECT `+eventColumns+` FROM scheduled_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return row.toEvent(), nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM scheduled_events
		WHERE ($1 = '' OR category = $1)
		AND ($2 = '' OR status = $2)
		AND ($3::uuid IS NULL OR venue_id = $3)
		ORDER BY start_date ASC, start_time ASC
	`
	var venueID any
	if f.VenueID != uuid.Nil {
		venueID = f.VenueID
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, f.Category, string(f.Status), venueID); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]*Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

func (s *PostgresStore) LiveBookings(ctx context.Context, venueID uuid.UUID, from, to Date) ([]BookingInterval, error) {
	return liveBookings(ctx, s.db, venueID, from, to)
}

type bookingRow struct {
	ID        uuid.UUID `db:"id"`
	VenueID   uuid.UUID `db:"venue_id"`
	Title     string    `db:"title"`
	StartDate Date      `db:"start_date"`
	EndDate   Date      `db:"end_date"`
	StartTime string    `db:"start_time"`
	EndTime   string    `db:"end_time"`
	Status    string    `db:"status"`
}

// liveBookings pre-filters by date range in SQL; FindConflicts applies the
// exact date and time rules.
func liveBookings(ctx context.Context, q sqlx.QueryerContext, venueID uuid.UUID, from, to Date) ([]BookingInterval, error) {
	var rows []bookingRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT id, venue_id, title, start_date, end_date, start_time, end_time, status
		FROM scheduled_events
		WHERE venue_id = $1
		AND status NOT IN ('draft', 'cancelled')
		AND start_date <= $3
		AND end_date >= $2
		ORDER BY start_date ASC, start_time ASC
	`, venueID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query live bookings: %w", err)
	}

	out := make([]BookingInterval, 0, len(rows))
	for _, r := range rows {
		out = append(out, BookingInterval{
			ID:      r.ID,
			VenueID: r.VenueID,
			Title:   r.Title,
			Slot:    Slot{StartDate: r.StartDate, EndDate: r.EndDate, StartTime: r.StartTime, EndTime: r.EndTime},
			Status:  Status(r.Status),
		})
	}
	return out, nil
}

func (s *PostgresStore) SaveEvent(ctx context.Context, ev *Event, expectedVersion int, check BookingCheck, events ...eventstore.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Every booking for a venue serialises on its row.
	var locked uuid.UUID
	err = tx.GetContext(ctx, &locked, `SELECT id FROM venues WHERE id = $1 FOR UPDATE`, ev.VenueID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("venue", ev.VenueID)
	}
	if err != nil {
		return fmt.Errorf("lock venue: %w", err)
	}

	if check != nil {
		live, err := liveBookings(ctx, tx, ev.VenueID, ev.StartDate, ev.EndDate)
		if err != nil {
			return err
		}
		if err := check(live); err != nil {
			return err
		}
	}

	row := toRow(ev)
	if expectedVersion == 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO scheduled_events (`+eventColumns+`)
			VALUES (:id, :title, :description, :category, :venue_id, :start_date, :end_date, :start_time, :end_time,
				:status, :organizer_id, :participant_limit, :registration_fee, :participants, :waitlist,
				:results_published, :results_published_at, :results_published_by, :version, :created_at, :updated_at)
		`, row)
		if isUniqueViolation(err) {
			return ErrStaleEvent
		}
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	} else {
		row.ExpectedVersion = expectedVersion
		res, err := tx.NamedExecContext(ctx, `
			UPDATE scheduled_events
			SET title = :title, description = :description, category = :category, venue_id = :venue_id,
				start_date = :start_date, end_date = :end_date, start_time = :start_time, end_time = :end_time,
				status = :status, participant_limit = :participant_limit, registration_fee = :registration_fee,
				participants = :participants, waitlist = :waitlist, results_published = :results_published,
				results_published_at = :results_published_at, results_published_by = :results_published_by,
				version = :version, updated_at = :updated_at
			WHERE id = :id AND version = :expected_version
		`, row)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStaleEvent
		}
	}

	if len(events) > 0 {
		if err := eventstore.AppendTx(ctx, tx, ev.ID, aggregateType, expectedVersion, events); err != nil {
			if errors.Is(err, eventstore.ErrConcurrencyConflict) {
				return err
			}
			return fmt.Errorf("append event log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
