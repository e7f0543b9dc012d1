package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/mdview/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// decode reads a JSON body into v and validates it. It writes the 400
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

// errorStatus maps domain errors to HTTP statuses. The first match wins.
// A fixed message hides the wrapped detail from the client.
var errorStatus = []struct {
	target  error
	status  int
	message string
}{
	{apperr.ErrUnsupportedFile, http.StatusBadRequest, ""},
	{apperr.ErrUnsupportedFormat, http.StatusBadRequest, ""},
	{apperr.ErrInvalidPosition, http.StatusBadRequest, ""},
	{apperr.ErrPositionNotFound, http.StatusBadRequest, ""},
	{apperr.ErrPositionUnparsable, http.StatusBadRequest, ""},
	{apperr.ErrNoDocument, http.StatusConflict, "open a file first"},
	{apperr.ErrBusy, http.StatusConflict, ""},
	{apperr.ErrNotFound, http.StatusNotFound, "not found"},
	{apperr.ErrClosed, http.StatusServiceUnavailable, "shutting down"},
	{context.Canceled, http.StatusServiceUnavailable, "shutting down"},
}

func writeError(w http.ResponseWriter, op string, err error) {
	for _, e := range errorStatus {
		if !errors.Is(err, e.target) {
			continue
		}
		msg := e.message
		if msg == "" {
			msg = err.Error()
		}
		writeJSON(w, e.status, errorBody(msg))
		return
	}
	slog.Error(op+" failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}
