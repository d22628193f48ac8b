// internal/scheduling/handler.go
package scheduling

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"campusevents/internal/apperr"
	"campusevents/internal/platform"
	"campusevents/pkg/eventstore"
)

type Handler struct {
	service Service
	log     *slog.Logger
	writes  *rate.Limiter
}

func NewHandler(service Service, log *slog.Logger, writes *rate.Limiter) *Handler {
	return &Handler{service: service, log: log, writes: writes}
}

// Routes mounts the scheduling API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/venues", func(r chi.Router) {
		r.Get("/", h.handleListVenues)
		r.With(platform.RateLimit(h.writes)).Post("/", h.handleCreateVenue)
		r.Get("/{id}", h.handleGetVenue)
		r.With(platform.RateLimit(h.writes)).Put("/{id}", h.handleUpdateVenue)
		r.With(platform.RateLimit(h.writes)).Delete("/{id}", h.handleDeleteVenue)
		r.Get("/{id}/availability", h.handleAvailability)
	})
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.handleListEvents)
		r.Get("/{id}", h.handleGetEvent)
		r.Get("/{id}/log", h.handleEventLog)

		r.Group(func(r chi.Router) {
			r.Use(platform.RateLimit(h.writes))
			r.Post("/", h.handleCreateEvent)
			r.Put("/{id}/schedule", h.handleUpdateSchedule)
			r.Post("/{id}/cancel", h.handleCancel)
			r.Post("/{id}/register", h.handleRegister)
			r.Post("/{id}/attendance", h.handleAttendance)
			r.Post("/{id}/results", h.handleResults)
		})
	})
}

func (h *Handler) handleCreateVenue(w http.ResponseWriter, r *http.Request) {
	var req NewVenue
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	req.CreatedBy = platform.ActorID(r)

	venue, err := h.service.CreateVenue(r.Context(), req)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusCreated, venue)
}

func (h *Handler) handleListVenues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	venues, err := h.service.ListVenues(r.Context(), VenueFilter{
		Status:      q.Get("status"),
		Type:        q.Get("type"),
		MinCapacity: platform.QueryInt(r, "min_capacity", 0),
		Search:      q.Get("search"),
	})
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	if venues == nil {
		venues = []*Venue{}
	}
	platform.WriteJSON(w, http.StatusOK, venues)
}

func (h *Handler) handleGetVenue(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	venue, err := h.service.GetVenue(r.Context(), id)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, venue)
}

func (h *Handler) handleUpdateVenue(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req VenueUpdate
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	req.UpdatedBy = platform.ActorID(r)

	venue, err := h.service.UpdateVenue(r.Context(), id, req)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, venue)
}

func (h *Handler) handleDeleteVenue(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	if err := h.service.DeleteVenue(r.Context(), id); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	q := r.URL.Query()
	slot := Slot{StartTime: q.Get("start_time"), EndTime: q.Get("end_time")}
	if slot.StartDate, err = ParseDate("start_date", q.Get("start_date")); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	slot.EndDate = slot.StartDate
	if end := q.Get("end_date"); end != "" {
		if slot.EndDate, err = ParseDate("end_date", end); err != nil {
			platform.WriteError(w, h.log, err)
			return
		}
	}

	exclude := uuid.Nil
	if raw := q.Get("exclude"); raw != "" {
		if exclude, err = platform.PathUUID("exclude", raw); err != nil {
			platform.WriteError(w, h.log, err)
			return
		}
	}

	avail, err := h.service.CheckAvailability(r.Context(), id, slot, exclude)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, avail)
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req NewEvent
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	req.OrganizerID = platform.ActorID(r)

	ev, err := h.service.CreateEvent(r.Context(), req)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := EventFilter{Category: q.Get("category"), Status: Status(q.Get("status"))}
	if raw := q.Get("venue_id"); raw != "" {
		venueID, err := platform.PathUUID("venue_id", raw)
		if err != nil {
			platform.WriteError(w, h.log, err)
			return
		}
		filter.VenueID = venueID
	}

	events, err := h.service.ListEvents(r.Context(), filter)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}
	platform.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	ev, err := h.service.GetEvent(r.Context(), id)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleEventLog(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	entries, err := h.service.EventLog(r.Context(), id)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	if entries == nil {
		entries = []eventstore.Event{}
	}
	platform.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req ScheduleChange
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	ev, err := h.service.UpdateSchedule(r.Context(), id, req)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	ev, err := h.service.CancelEvent(r.Context(), id, platform.ActorID(r))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	user := platform.ActorID(r)
	if user == uuid.Nil {
		platform.WriteError(w, h.log, apperr.Invalid(platform.ActorHeader, "caller identity is required"))
		return
	}

	reg, err := h.service.Register(r.Context(), id, user)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	status := http.StatusCreated
	if reg.Waitlisted {
		status = http.StatusAccepted
	}
	platform.WriteJSON(w, status, reg)
}

func (h *Handler) handleAttendance(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req struct {
		UserID   uuid.UUID `json:"user_id" validate:"required"`
		Attended bool      `json:"attended"`
	}
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	ev, err := h.service.MarkAttendance(r.Context(), id, req.UserID, req.Attended, platform.ActorID(r))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req struct {
		Results []ResultEntry `json:"results" validate:"required,dive"`
	}
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	ev, err := h.service.PublishResults(r.Context(), id, req.Results, platform.ActorID(r))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, ev)
}
