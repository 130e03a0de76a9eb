package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

// AppointmentService is the scheduling core as seen by the HTTP layer.
type AppointmentService interface {
	Create(ctx context.Context, in appointment.CreateInput, actor appointment.Actor) (*appointment.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, in appointment.UpdateInput, actor appointment.Actor) (*appointment.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, to appointment.Status, actor appointment.Actor, meta appointment.TransitionMeta) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
}

func createAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		patientID, err := uuid.Parse(req.Patient)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.Provider)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider must be a valid UUID")
			return
		}
		start, err := time.Parse(time.RFC3339, req.DateTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_time", "dateTime must be an RFC 3339 timestamp")
			return
		}

		appt, err := svc.Create(r.Context(), appointment.CreateInput{
			PatientID:  patientID,
			ProviderID: providerID,
			DateTime:   start,
			Duration:   req.Duration,
			Type:       appointment.Type(strings.ToUpper(req.Type)),
			Reason:     req.Reason,
			Notes:      req.Notes,
		}, actor)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		in := appointment.UpdateInput{
			Duration: req.Duration,
			Reason:   req.Reason,
			Notes:    req.Notes,
		}
		if req.Provider != nil {
			providerID, err := uuid.Parse(*req.Provider)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider must be a valid UUID")
				return
			}
			in.ProviderID = &providerID
		}
		if req.DateTime != nil {
			start, err := time.Parse(time.RFC3339, *req.DateTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date_time", "dateTime must be an RFC 3339 timestamp")
				return
			}
			in.DateTime = &start
		}
		if req.Type != nil {
			t := appointment.Type(strings.ToUpper(*req.Type))
			in.Type = &t
		}

		appt, err := svc.Update(r.Context(), id, in, actor)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// transitionHandler serves the PUT /{id}/<action> endpoints. Only cancel reads a body.
func transitionHandler(svc AppointmentService, to appointment.Status, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var meta appointment.TransitionMeta
		if to == appointment.StatusCancelled {
			var req CancelAppointmentRequest
			if !decodeOptionalJSON(w, r, &req) {
				return
			}
			meta.Reason = req.Reason
		}

		appt, err := svc.Transition(r.Context(), id, to, actor, meta)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, code, details := parseAppointmentFilter(r)
		if code != "" {
			writeError(w, http.StatusBadRequest, code, details)
			return
		}

		appts, err := svc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := ListResponse[AppointmentResponse]{Count: len(appts), Data: make([]AppointmentResponse, 0, len(appts))}
		for i := range appts {
			resp.Data = append(resp.Data, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// parseAppointmentFilter reads startDate/endDate or a single date, plus provider,
// patient, status, type, limit and offset. A non-empty code means a bad parameter.
func parseAppointmentFilter(r *http.Request) (appointment.Filter, string, string) {
	q := r.URL.Query()
	var f appointment.Filter

	switch {
	case q.Get("startDate") != "" || q.Get("endDate") != "":
		if raw := q.Get("startDate"); raw != "" {
			from, err := parseTime(raw)
			if err != nil {
				return f, "invalid_start_date", err.Error()
			}
			f.From = &from
		}
		if raw := q.Get("endDate"); raw != "" {
			to, err := parseTime(raw)
			if err != nil {
				return f, "invalid_end_date", err.Error()
			}
			f.To = &to
		}
	case q.Get("date") != "":
		day, err := parseTime(q.Get("date"))
		if err != nil {
			return f, "invalid_date", err.Error()
		}
		from := day
		to := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		f.From, f.To = &from, &to
	}

	if raw := q.Get("provider"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, "invalid_provider_id", "provider must be a valid UUID"
		}
		f.ProviderID = &id
	}
	if raw := q.Get("patient"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, "invalid_patient_id", "patient must be a valid UUID"
		}
		f.PatientID = &id
	}
	if raw := q.Get("status"); raw != "" {
		s := appointment.Status(strings.ToUpper(raw))
		f.Status = &s
	}
	if raw := q.Get("type"); raw != "" {
		t := appointment.Type(strings.ToUpper(raw))
		f.Type = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, "invalid_limit", "limit must be a non-negative integer"
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, "invalid_offset", "offset must be a non-negative integer"
		}
		f.Offset = n
	}
	return f, "", ""
}
