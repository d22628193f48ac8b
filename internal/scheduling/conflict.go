package scheduling

import (
	"fmt"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
)

// Slot is a recurring daily time window over an inclusive range of dates.
type Slot struct {
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// BookingInterval is an existing venue booking as seen by the conflict checker.
type BookingInterval struct {
	ID      uuid.UUID `json:"id"`
	VenueID uuid.UUID `json:"venue_id"`
	Title   string    `json:"title,omitempty"`
	Slot
	Status Status `json:"status"`
}

// Validate checks a proposed slot: parseable times, start date not after end
// date, and a positive time window on single-day slots.
func (s Slot) Validate() error {
	start, end, err := s.minutes()
	if err != nil {
		return err
	}
	if s.StartDate.IsZero() || s.EndDate.IsZero() {
		return apperr.Invalid("start_date", "start and end dates are required")
	}
	if s.StartDate.After(s.EndDate) {
		return apperr.Invalid("end_date", "end date %s is before start date %s", s.EndDate, s.StartDate)
	}
	if s.StartDate.Equal(s.EndDate) && start >= end {
		return apperr.Invalid("end_time", "end time %s must be after start time %s", s.EndTime, s.StartTime)
	}
	return nil
}

func (s Slot) minutes() (int, int, error) {
	start, err := ParseTimeOfDay("start_time", s.StartTime)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimeOfDay("end_time", s.EndTime)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// FindConflicts returns the live bookings of venueID that overlap candidate,
// in input order. excludeID (if not uuid.Nil) is skipped, so an event being
// edited never conflicts with itself.
//
// Two bookings conflict when their date ranges intersect and their daily time
// windows overlap; a window ending exactly when another starts does not count.
func FindConflicts(venueID uuid.UUID, candidate Slot, live []BookingInterval, excludeID uuid.UUID) ([]BookingInterval, error) {
	cStart, cEnd, err := candidate.minutes()
	if err != nil {
		return nil, err
	}

	conflicts := []BookingInterval{}
	for _, existing := range live {
		if excludeID != uuid.Nil && existing.ID == excludeID {
			continue
		}
		if existing.VenueID != venueID || !existing.Status.Live() {
			continue
		}
		if !datesOverlap(candidate, existing.Slot) {
			continue
		}

		eStart, eEnd, err := existing.minutes()
		if err != nil {
			return nil, fmt.Errorf("booking %s: %w", existing.ID, err)
		}
		if timesOverlap(cStart, cEnd, eStart, eEnd) {
			conflicts = append(conflicts, existing)
		}
	}
	return conflicts, nil
}

// datesOverlap is the closed-interval intersection test. It also catches an
// existing booking that strictly contains the candidate.
func datesOverlap(c, e Slot) bool {
	return !c.StartDate.After(e.EndDate) && !e.StartDate.After(c.EndDate)
}

func timesOverlap(cStart, cEnd, eStart, eEnd int) bool {
	return (cStart >= eStart && cStart < eEnd) ||
		(cEnd > eStart && cEnd <= eEnd) ||
		(cStart <= eStart && cEnd >= eEnd)
}
