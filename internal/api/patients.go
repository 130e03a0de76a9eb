package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/patient"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

const (
	ActionPatientCreated        = "PATIENT_CREATED"
	ActionPatientUpdated        = "PATIENT_UPDATED"
	ActionPatientInsuranceAdded = "PATIENT_INSURANCE_ADDED"
	ActionPatientReferralAdded  = "PATIENT_REFERRAL_ADDED"
	ActionPatientAlertAdded     = "PATIENT_ALERT_ADDED"
)

func listPatientsHandler(store patient.Store, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := patient.Filter{Search: q.Get("search")}
		if raw := q.Get("status"); raw != "" {
			s := patient.Status(strings.ToUpper(raw))
			if !s.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "status must be ACTIVE, INACTIVE, PENDING or DISCHARGED")
				return
			}
			f.Status = &s
		}
		for _, p := range []struct {
			name string
			dst  *int
		}{{"page", &f.Page}, {"limit", &f.Limit}} {
			raw := q.Get(p.name)
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be a positive integer")
				return
			}
			*p.dst = n
		}

		page, err := store.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		now := time.Now()
		resp := PatientPageResponse{
			Count:       len(page.Patients),
			Total:       page.Total,
			Pages:       page.Pages(),
			CurrentPage: page.Page,
			Data:        make([]PatientResponse, 0, len(page.Patients)),
		}
		for i := range page.Patients {
			resp.Data = append(resp.Data, toPatientResponse(&page.Patients[i], now))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getPatientHandler(store patient.Store, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		p, err := store.FindByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientResponse(p, time.Now()))
	}
}

func createPatientHandler(store patient.Store, sink audit.Sink, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		var req CreatePatientRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		in := patient.CreateInput{
			FirstName:        req.FirstName,
			LastName:         req.LastName,
			Gender:           patient.Gender(strings.ToUpper(req.Gender)),
			Email:            deref(req.ContactInfo.Email),
			Phone:            deref(req.ContactInfo.Phone),
			AlternatePhone:   deref(req.ContactInfo.AlternatePhone),
			PreferredContact: patient.ContactMethod(strings.ToUpper(deref(req.ContactInfo.PreferredContact))),
			Address:          req.Address,
			EmergencyContact: req.EmergencyContact,
			MedicalHistory:   req.MedicalHistory,
			Status:           patient.Status(strings.ToUpper(req.Status)),
			Notes:            req.Notes,
		}
		if req.DateOfBirth != "" {
			dob, err := parseTime(req.DateOfBirth)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "dateOfBirth: "+err.Error())
				return
			}
			in.DateOfBirth = dob
		}

		now := time.Now()
		if err := in.Prepare(now); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		created, err := store.Create(r.Context(), in, caller.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		recordAudit(r, sink, logger, ActionPatientCreated, caller.ID, audit.ResourcePatient, created.ID,
			map[string]any{"patientName": created.FullName()})
		writeJSON(w, http.StatusCreated, toPatientResponse(created, now))
	}
}

func updatePatientHandler(store patient.Store, sink audit.Sink, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req UpdatePatientRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		upd := patient.Update{
			FirstName:        req.FirstName,
			LastName:         req.LastName,
			Gender:           upperAs[patient.Gender](req.Gender),
			Address:          req.Address,
			EmergencyContact: req.EmergencyContact,
			MedicalHistory:   req.MedicalHistory,
			Status:           upperAs[patient.Status](req.Status),
			Notes:            req.Notes,
		}
		if c := req.ContactInfo; c != nil {
			upd.Email = c.Email
			upd.Phone = c.Phone
			upd.AlternatePhone = c.AlternatePhone
			upd.PreferredContact = upperAs[patient.ContactMethod](c.PreferredContact)
		}
		dob, ok := optionalDate(w, "dateOfBirth", req.DateOfBirth)
		if !ok {
			return
		}
		upd.DateOfBirth = dob

		now := time.Now()
		if err := upd.Prepare(now); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		fields := upd.Fields()
		if len(fields) == 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "no fields to update")
			return
		}

		updated, err := store.Update(r.Context(), id, upd, caller.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		recordAudit(r, sink, logger, ActionPatientUpdated, caller.ID, audit.ResourcePatient, updated.ID,
			map[string]any{"patientName": updated.FullName(), "updatedFields": fields})
		writeJSON(w, http.StatusOK, toPatientResponse(updated, now))
	}
}

func addInsuranceHandler(store patient.Store, sink audit.Sink, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req AddInsuranceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start, ok := optionalDate(w, "coverageStartDate", req.CoverageStartDate)
		if !ok {
			return
		}
		end, ok := optionalDate(w, "coverageEndDate", req.CoverageEndDate)
		if !ok {
			return
		}
		carrier := req.InsuranceProvider
		if carrier == "" {
			carrier = req.Provider
		}

		now := time.Now()
		ins, err := patient.InsuranceInput{
			Provider:          carrier,
			PolicyNumber:      req.PolicyNumber,
			GroupNumber:       req.GroupNumber,
			PrimaryInsured:    req.PrimaryInsured,
			CoverageStartDate: start,
			CoverageEndDate:   end,
			Notes:             req.Notes,
		}.Build(caller.ID, now)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		p, err := store.AddInsurance(r.Context(), id, ins, caller.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		recordAudit(r, sink, logger, ActionPatientInsuranceAdded, caller.ID, audit.ResourcePatient, p.ID,
			map[string]any{"patientName": p.FullName(), "insuranceProvider": ins.Provider, "policyNumber": ins.PolicyNumber})
		writeJSON(w, http.StatusOK, toPatientResponse(p, now))
	}
}

func addReferralHandler(store patient.Store, sink audit.Sink, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req AddReferralRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		issued, ok := optionalDate(w, "referralDate", req.ReferralDate)
		if !ok {
			return
		}
		expires, ok := optionalDate(w, "expirationDate", req.ExpirationDate)
		if !ok {
			return
		}

		now := time.Now()
		ref, err := patient.ReferralInput{
			ReferringProvider: req.ReferringProvider,
			ReferralDate:      issued,
			ExpirationDate:    expires,
			AuthorizedVisits:  req.VisitCount.Authorized,
			Diagnosis:         req.Diagnosis,
			Notes:             req.Notes,
		}.Build(caller.ID, now)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		p, err := store.AddReferral(r.Context(), id, ref, caller.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		recordAudit(r, sink, logger, ActionPatientReferralAdded, caller.ID, audit.ResourcePatient, p.ID,
			map[string]any{"patientName": p.FullName(), "referringProvider": ref.ReferringProvider, "authorizedVisits": ref.VisitCount.Authorized})
		writeJSON(w, http.StatusOK, toPatientResponse(p, now))
	}
}

func addAlertHandler(store patient.Store, sink audit.Sink, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req AddAlertRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		expires, ok := optionalDate(w, "expirationDate", req.ExpirationDate)
		if !ok {
			return
		}

		now := time.Now()
		alert, err := patient.AlertInput{
			Type:           patient.AlertType(strings.ToUpper(req.Type)),
			Message:        req.Message,
			Severity:       patient.Severity(strings.ToUpper(req.Severity)),
			ExpirationDate: expires,
		}.Build(caller.ID, now)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		p, err := store.AddAlert(r.Context(), id, alert, caller.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		recordAudit(r, sink, logger, ActionPatientAlertAdded, caller.ID, audit.ResourcePatient, p.ID,
			map[string]any{"patientName": p.FullName(), "alertType": string(alert.Type), "alertSeverity": string(alert.Severity)})
		writeJSON(w, http.StatusOK, toPatientResponse(p, now))
	}
}

// optionalDate parses an optional date field, writing a 400 when it is malformed.
func optionalDate(w http.ResponseWriter, field string, raw *string) (*time.Time, bool) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, true
	}
	t, err := parseTime(*raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", field+": "+err.Error())
		return nil, false
	}
	return &t, true
}

func upperAs[T ~string](raw *string) *T {
	if raw == nil {
		return nil
	}
	v := T(strings.ToUpper(strings.TrimSpace(*raw)))
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
