package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/catalog"
)

// apiError is the JSON body written for any non-2xx response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps err's apperr kind to an HTTP status and writes the
// corresponding JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Error: kind, Message: err.Error()})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrSessionStateInvalid):
		return http.StatusBadRequest, "session_state_invalid"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, apperr.ErrFormat):
		return http.StatusBadRequest, "format_error"
	case errors.Is(err, apperr.ErrUnexpectedEOF):
		return http.StatusBadRequest, "unexpected_eof"
	case errors.Is(err, apperr.ErrCorrupt):
		return http.StatusUnprocessableEntity, "corrupt"
	case errors.Is(err, apperr.ErrCancelled):
		return http.StatusRequestTimeout, "cancelled"
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable, "transient"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
