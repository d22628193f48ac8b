package platform

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
)

// ActorHeader carries the authenticated user id set by the gateway.
const ActorHeader = "X-User-ID"

type errorBody struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code. Unclassified errors are logged and
// reported as 500 without leaking their text.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		conflict   *apperr.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: validation.Message, Field: validation.Field})
	case errors.As(err, &notFound):
		WriteJSON(w, http.StatusNotFound, errorBody{Error: notFound.Error()})
	case errors.As(err, &conflict):
		WriteJSON(w, http.StatusConflict, errorBody{Error: conflict.Message, Details: conflict.Details})
	default:
		log.Error("request failed", "err", err)
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

// ActorID returns the caller's user id, or uuid.Nil if the header is absent or malformed.
func ActorID(r *http.Request) uuid.UUID {
	id, err := uuid.Parse(r.Header.Get(ActorHeader))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// PathUUID parses a uuid path parameter value.
func PathUUID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperr.Invalid(name, "invalid id %q", value)
	}
	return id, nil
}

// QueryInt reads a positive integer query parameter, falling back to def.
func QueryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
