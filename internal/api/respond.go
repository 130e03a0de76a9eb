package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/internal/patient"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty, including
// chunked requests with no content.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseTime accepts RFC 3339 timestamps and bare dates (midnight UTC).
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp or YYYY-MM-DD date", raw)
}

// writeServiceError maps core errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation), errors.Is(err, patient.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound), errors.Is(err, patient.ErrNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, identity.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrSchedulingConflict):
		writeError(w, http.StatusConflict, "scheduling_conflict", err.Error())
	case errors.Is(err, appointment.ErrProviderBusy):
		writeError(w, http.StatusConflict, "provider_busy", err.Error())
	case errors.Is(err, appointment.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrStoreUnavailable):
		logger.Error("store unavailable", "request_id", GetRequestID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "please retry later")
	default:
		logger.Error("request failed", "request_id", GetRequestID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
