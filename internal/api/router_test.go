package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

type fakeVerifier map[string]identity.Subject

func (f fakeVerifier) Verify(_ context.Context, raw string) (*identity.Subject, error) {
	s, ok := f[raw]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return &s, nil
}

type memDirectory struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*identity.User
	touched int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{byID: map[uuid.UUID]*identity.User{}}
}

func (d *memDirectory) add(u identity.User) *identity.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	d.byID[u.ID] = &u
	return &u
}

func (d *memDirectory) FindByExternalID(_ context.Context, ext string) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.byID {
		if u.ExternalID == ext {
			c := *u
			return &c, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (d *memDirectory) FindByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (d *memDirectory) Create(_ context.Context, u *identity.User) (*identity.User, error) {
	c := *u
	c.IsActive = true
	return d.add(c), nil
}

func (d *memDirectory) TouchLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.LastLogin = &at
	d.touched++
	return nil
}

func (d *memDirectory) List(_ context.Context, f identity.UserFilter) ([]identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []identity.User
	for _, u := range d.byID {
		if f.Role != nil && u.Role != *f.Role {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (d *memDirectory) Update(_ context.Context, id uuid.UUID, upd identity.UserUpdate) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	c := *u
	return &c, nil
}

func (d *memDirectory) SetActive(_ context.Context, id uuid.UUID, active bool) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	u.IsActive = active
	c := *u
	return &c, nil
}

type fakeAppointments struct {
	create     func(appointment.CreateInput, appointment.Actor) (*appointment.Appointment, error)
	transition func(uuid.UUID, appointment.Status, appointment.Actor, appointment.TransitionMeta) (*appointment.Appointment, error)
	list       func(appointment.Filter) ([]appointment.Appointment, error)
	update     func(uuid.UUID, appointment.UpdateInput) (*appointment.Appointment, error)
}

func (f *fakeAppointments) Create(_ context.Context, in appointment.CreateInput, a appointment.Actor) (*appointment.Appointment, error) {
	return f.create(in, a)
}

func (f *fakeAppointments) Update(_ context.Context, id uuid.UUID, in appointment.UpdateInput, _ appointment.Actor) (*appointment.Appointment, error) {
	return f.update(id, in)
}

func (f *fakeAppointments) Transition(_ context.Context, id uuid.UUID, to appointment.Status, a appointment.Actor, m appointment.TransitionMeta) (*appointment.Appointment, error) {
	return f.transition(id, to, a, m)
}

func (f *fakeAppointments) Get(context.Context, uuid.UUID) (*appointment.Appointment, error) {
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeAppointments) List(_ context.Context, flt appointment.Filter) ([]appointment.Appointment, error) {
	return f.list(flt)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Record(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

type testServer struct {
	handler  http.Handler
	users    *memDirectory
	appts    *fakeAppointments
	patients *memPatients
	sink     *recordingSink

	secretary *identity.User
	doctor    *identity.User
	admin     *identity.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		users:    newMemDirectory(),
		appts:    &fakeAppointments{},
		patients: newMemPatients(),
		sink:     &recordingSink{},
	}
	ts.secretary = ts.users.add(identity.User{ExternalID: "sec", Email: "sec@clinic.test", Role: identity.RoleSecretary, IsActive: true})
	ts.doctor = ts.users.add(identity.User{ExternalID: "doc", Email: "doc@clinic.test", Role: identity.RoleDoctor, IsActive: true})
	ts.admin = ts.users.add(identity.User{ExternalID: "adm", Email: "adm@clinic.test", Role: identity.RoleAdmin, IsActive: true})

	verifier := fakeVerifier{
		"sec-token":  {ID: "sec"},
		"doc-token":  {ID: "doc"},
		"adm-token":  {ID: "adm"},
		"new-token":  {ID: "new-uid", Email: "new@clinic.test", DisplayName: "New Hire"},
		"gone-token": {ID: "gone"},
	}
	ts.users.add(identity.User{ExternalID: "gone", Role: identity.RoleDoctor, IsActive: false})

	logger := logging.NewWithWriter(io.Discard, "error")
	ts.handler = NewRouter(RouterConfig{
		Appointments: ts.appts,
		Patients:     ts.patients,
		Users:        ts.users,
		AuditLog:     auditReaderFunc(func(context.Context, audit.Filter) ([]audit.Entry, error) { return nil, nil }),
		AuditSink:    ts.sink,
		Auth:         NewAuthenticator(verifier, ts.users, ts.sink, logger),
		Health:       NewHealthHandler(PingFunc(func(context.Context) error { return nil }), nil, "test", "v0"),
		Logger:       logger,
	})
	return ts
}

type auditReaderFunc func(context.Context, audit.Filter) ([]audit.Entry, error)

func (f auditReaderFunc) List(ctx context.Context, flt audit.Filter) ([]audit.Entry, error) {
	return f(ctx, flt)
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func sampleAppointment(status appointment.Status) *appointment.Appointment {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &appointment.Appointment{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		ProviderID: uuid.New(),
		DateTime:   start,
		EndTime:    start.Add(30 * time.Minute),
		Duration:   30,
		Type:       appointment.TypeAdjustment,
		Status:     status,
		Reason:     "lower back pain",
		Version:    1,
	}
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/api/users/me", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decodeError(t, rec).Error)
}

func TestAuthProvisionsNewUser(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/users/me", "new-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var me UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "secretary", me.Role)
	assert.Equal(t, "New Hire", me.FullName)
	assert.Equal(t, []string{ActionUserCreated}, ts.sink.actions())

	rec = ts.do(t, http.MethodGet, "/api/users/me", "new-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{ActionUserCreated, ActionUserLogin}, ts.sink.actions())
	assert.Equal(t, 1, ts.users.touched)
}

func TestAuthRejectsDeactivatedUser(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/users/me", "gone-token", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account_deactivated", decodeError(t, rec).Error)
}

func TestCreateAppointment(t *testing.T) {
	ts := newTestServer(t)
	patient, provider := uuid.New(), uuid.New()

	var gotIn appointment.CreateInput
	var gotActor appointment.Actor
	ts.appts.create = func(in appointment.CreateInput, a appointment.Actor) (*appointment.Appointment, error) {
		gotIn, gotActor = in, a
		appt := sampleAppointment(appointment.StatusScheduled)
		appt.PatientID, appt.ProviderID = in.PatientID, in.ProviderID
		return appt, nil
	}

	body := `{"patient":"` + patient.String() + `","provider":"` + provider.String() +
		`","dateTime":"2026-03-02T09:00:00Z","type":"adjustment","reason":"lower back pain"}`
	rec := ts.do(t, http.MethodPost, "/api/appointments", "sec-token", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, appointment.TypeAdjustment, gotIn.Type)
	assert.Equal(t, ts.secretary.ID, gotActor.ID)
	assert.Equal(t, identity.RoleSecretary, gotActor.Role)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SCHEDULED", resp.Status)
	assert.Equal(t, provider, resp.Provider)
}

func TestCreateAppointmentBadInput(t *testing.T) {
	ts := newTestServer(t)
	ts.appts.create = func(appointment.CreateInput, appointment.Actor) (*appointment.Appointment, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}

	tests := []struct {
		name string
		body string
		code string
	}{
		{"not json", `{`, "invalid_request_body"},
		{"bad patient", `{"patient":"x","provider":"` + uuid.NewString() + `"}`, "invalid_patient_id"},
		{"bad provider", `{"patient":"` + uuid.NewString() + `","provider":"x"}`, "invalid_provider_id"},
		{"bad time", `{"patient":"` + uuid.NewString() + `","provider":"` + uuid.NewString() + `","dateTime":"tomorrow"}`, "invalid_date_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/appointments", "sec-token", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	logger := logging.NewWithWriter(io.Discard, "error")
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&appointment.ValidationError{Field: "reason", Message: "is required"}, http.StatusBadRequest, "validation_error"},
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{appointment.ErrProviderNotFound, http.StatusNotFound, "provider_not_found"},
		{&appointment.TransitionError{From: appointment.StatusCancelled, To: appointment.StatusCancelled}, http.StatusConflict, "invalid_transition"},
		{appointment.ErrSchedulingConflict, http.StatusConflict, "scheduling_conflict"},
		{appointment.ErrProviderBusy, http.StatusConflict, "provider_busy"},
		{appointment.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
		{appointment.ErrForbidden, http.StatusForbidden, "forbidden"},
		{errors.Join(appointment.ErrStoreUnavailable, errors.New("conn refused")), http.StatusServiceUnavailable, "service_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), logger, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestTransitionRoutes(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.New()

	var got []appointment.Status
	var gotMeta appointment.TransitionMeta
	ts.appts.transition = func(gotID uuid.UUID, to appointment.Status, _ appointment.Actor, m appointment.TransitionMeta) (*appointment.Appointment, error) {
		assert.Equal(t, id, gotID)
		got = append(got, to)
		gotMeta = m
		return sampleAppointment(to), nil
	}

	for _, action := range []string{"confirm", "checkin", "no-show"} {
		rec := ts.do(t, http.MethodPut, "/api/appointments/"+id.String()+"/"+action, "sec-token", "")
		require.Equal(t, http.StatusOK, rec.Code, action)
	}
	rec := ts.do(t, http.MethodPut, "/api/appointments/"+id.String()+"/cancel", "sec-token", `{"reason":"flu"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "flu", gotMeta.Reason)

	rec = ts.do(t, http.MethodPut, "/api/appointments/"+id.String()+"/complete", "doc-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []appointment.Status{
		appointment.StatusConfirmed, appointment.StatusCheckedIn, appointment.StatusNoShow,
		appointment.StatusCancelled, appointment.StatusCompleted,
	}, got)
}

func TestClinicalRoutesRequireDoctor(t *testing.T) {
	ts := newTestServer(t)
	ts.appts.transition = func(uuid.UUID, appointment.Status, appointment.Actor, appointment.TransitionMeta) (*appointment.Appointment, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}
	id := uuid.New()

	for _, action := range []string{"start", "complete"} {
		rec := ts.do(t, http.MethodPut, "/api/appointments/"+id.String()+"/"+action, "sec-token", "")
		assert.Equal(t, http.StatusForbidden, rec.Code, action)
	}
}

func TestTransitionConflictStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.appts.transition = func(uuid.UUID, appointment.Status, appointment.Actor, appointment.TransitionMeta) (*appointment.Appointment, error) {
		return nil, &appointment.TransitionError{From: appointment.StatusCancelled, To: appointment.StatusCancelled}
	}

	rec := ts.do(t, http.MethodPut, "/api/appointments/"+uuid.NewString()+"/cancel", "sec-token", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Error)
}

func TestCancelAcceptsEmptyChunkedBody(t *testing.T) {
	ts := newTestServer(t)
	var gotMeta appointment.TransitionMeta
	ts.appts.transition = func(_ uuid.UUID, to appointment.Status, _ appointment.Actor, m appointment.TransitionMeta) (*appointment.Appointment, error) {
		gotMeta = m
		return sampleAppointment(to), nil
	}
	path := "/api/appointments/" + uuid.NewString() + "/cancel"

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, path, nil)
		req.Body = io.NopCloser(strings.NewReader(body))
		req.ContentLength = -1
		req.Header.Set("Authorization", "Bearer sec-token")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send("")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotMeta.Reason)

	rec = send(`{"reason":"travel"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "travel", gotMeta.Reason)

	rec = send(`{"reason":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)
}

func TestListAppointmentsParsesFilters(t *testing.T) {
	ts := newTestServer(t)
	provider := uuid.New()

	var got appointment.Filter
	ts.appts.list = func(f appointment.Filter) ([]appointment.Appointment, error) {
		got = f
		return []appointment.Appointment{*sampleAppointment(appointment.StatusScheduled)}, nil
	}

	rec := ts.do(t, http.MethodGet, "/api/appointments?date=2026-03-02&provider="+provider.String()+"&status=scheduled&limit=20", "sec-token", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, got.From)
	require.NotNil(t, got.To)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), *got.From)
	assert.True(t, got.To.Before(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, provider, *got.ProviderID)
	assert.Equal(t, appointment.StatusScheduled, *got.Status)
	assert.Equal(t, 20, got.Limit)

	var resp ListResponse[AppointmentResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = ts.do(t, http.MethodGet, "/api/appointments?limit=-1", "sec-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/appointments?startDate=yesterday", "sec-token", "")
	assert.Equal(t, "invalid_start_date", decodeError(t, rec).Error)
}

func TestUpdateAppointmentPassesOnlySetFields(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.New()

	var got appointment.UpdateInput
	ts.appts.update = func(_ uuid.UUID, in appointment.UpdateInput) (*appointment.Appointment, error) {
		got = in
		return sampleAppointment(appointment.StatusScheduled), nil
	}

	rec := ts.do(t, http.MethodPut, "/api/appointments/"+id.String(), "sec-token", `{"dateTime":"2026-03-02T10:00:00Z","notes":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.DateTime)
	assert.Equal(t, "x", *got.Notes)
	assert.Nil(t, got.Duration)
	assert.Nil(t, got.ProviderID)
}

func TestUserRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/users", "sec-token", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/users?role=doctor", "adm-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse[UserResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	rec = ts.do(t, http.MethodPut, "/api/users/"+ts.secretary.ID.String(), "sec-token", `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/users/"+ts.doctor.ID.String(), "sec-token", `{"fullName":"Someone"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/users/"+ts.secretary.ID.String(), "sec-token", `{"fullName":"Front Desk"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/users/"+ts.secretary.ID.String(), "adm-token", `{"role":"doctor"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "doctor", updated.Role)

	rec = ts.do(t, http.MethodPut, "/api/users/"+ts.doctor.ID.String()+"/deactivate", "adm-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/users/me", "doc-token", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/users/"+ts.admin.ID.String()+"/deactivate", "adm-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Contains(t, ts.sink.actions(), ActionUserUpdated)
	assert.Contains(t, ts.sink.actions(), ActionUserDeactivated)
}

func TestAuditRouteIsAdminOnly(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/audit", "doc-token", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit?action=user_login", "adm-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit?resource_id=nope", "adm-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
