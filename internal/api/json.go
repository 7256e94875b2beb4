package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/postsync/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps sentinel errors to status codes. Unknown errors are logged
// and reported as internal.
func writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrMalformedDocument):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrBusy), errors.Is(err, apperr.ErrAlreadyPublished):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrRequestFailed),
		errors.Is(err, apperr.ErrInvalidResponse),
		errors.Is(err, apperr.ErrNotAuthenticated),
		errors.Is(err, apperr.ErrInvalidURL):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}
