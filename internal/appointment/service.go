package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/config"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/internal/metrics"
	redisclient "github.com/Zecruu/SpineLineDemo/internal/redis"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

const (
	ActionCreated = "APPOINTMENT_CREATED"
	ActionUpdated = "APPOINTMENT_UPDATED"

	defaultAuditTimeout = 2 * time.Second
	sweepBatchSize      = 100
)

type Service struct {
	store    Store
	detector *ConflictDetector
	locker   redisclient.Locker
	sink     audit.Sink
	cfg      config.Config
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, locker redisclient.Locker, sink audit.Sink, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		detector: NewConflictDetector(store),
		locker:   locker,
		sink:     sink,
		cfg:      cfg,
		logger:   logging.Default(),
		tracer:   otel.Tracer("github.com/Zecruu/SpineLineDemo/internal/appointment"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker{}
	}
	if s.sink == nil {
		s.sink = audit.Discard
	}
	return s
}

// CreateInput is a validated booking request.
type CreateInput struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	DateTime   time.Time
	Duration   int // minutes; zero means the configured default
	Type       Type
	Reason     string
	Notes      string
}

// UpdateInput carries the fields to change. Nil fields are left alone.
// Setting DateTime, Duration or ProviderID reschedules the appointment.
type UpdateInput struct {
	DateTime   *time.Time
	Duration   *int
	ProviderID *uuid.UUID
	Type       *Type
	Reason     *string
	Notes      *string
}

func (in UpdateInput) reschedules() bool {
	return in.DateTime != nil || in.Duration != nil || in.ProviderID != nil
}

// Create books an appointment after checking the provider's schedule for overlaps.
// The check and the insert run under the provider lock so two concurrent bookings
// cannot both pass the check.
func (s *Service) Create(ctx context.Context, in CreateInput, actor Actor) (_ *Appointment, err error) {
	ctx, done := s.observe(ctx, "create",
		attribute.String("provider_id", in.ProviderID.String()),
		attribute.String("patient_id", in.PatientID.String()))
	defer func() { done(err) }()

	if err := s.validateCreate(&in, actor); err != nil {
		return nil, err
	}
	if err := s.ensurePatient(ctx, in.PatientID); err != nil {
		return nil, err
	}
	if err := s.ensureProvider(ctx, in.ProviderID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	appt := &Appointment{
		ID:         uuid.New(),
		PatientID:  in.PatientID,
		ProviderID: in.ProviderID,
		DateTime:   in.DateTime.UTC(),
		Type:       in.Type,
		Status:     StatusScheduled,
		Reason:     in.Reason,
		Notes:      in.Notes,
		Duration:   in.Duration,
		CreatedBy:  actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	appt.EndTime = NewInterval(appt.DateTime, appt.Duration).End

	var created *Appointment
	err = s.withProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
		if err := s.checkConflict(lockCtx, appt.ProviderID, appt.Interval(), uuid.Nil); err != nil {
			return err
		}
		saved, err := s.store.Save(lockCtx, appt)
		if err != nil {
			return storeError("insert appointment", err)
		}
		created = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveCreated()
	s.logger.Info("appointment created",
		"appointment_id", created.ID,
		"provider_id", created.ProviderID,
		"date_time", created.DateTime,
		"end_time", created.EndTime,
	)
	s.recordAudit(ctx, ActionCreated, actor, created.ID, map[string]any{
		"patientId":  created.PatientID.String(),
		"providerId": created.ProviderID.String(),
		"dateTime":   created.DateTime,
		"endTime":    created.EndTime,
	})
	return created, nil
}

func (s *Service) validateCreate(in *CreateInput, actor Actor) error {
	if actor.ID == uuid.Nil {
		return invalid("actor", "is required")
	}
	if in.PatientID == uuid.Nil {
		return invalid("patient", "is required")
	}
	if in.ProviderID == uuid.Nil {
		return invalid("provider", "is required")
	}
	if in.DateTime.IsZero() {
		return invalid("dateTime", "is required")
	}
	if !in.Type.Valid() {
		return invalid("type", fmt.Sprintf("%q is not a known appointment type", in.Type))
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return invalid("reason", "is required")
	}
	if in.Duration == 0 {
		in.Duration = s.defaultDuration()
	}
	return checkSpan(in.DateTime, in.Duration)
}

// checkSpan rejects durations outside (0, MaxDurationMinutes] and any span that does not
// end after it starts.
func checkSpan(start time.Time, minutes int) error {
	if minutes <= 0 {
		return invalid("duration", "must be a positive number of minutes")
	}
	if minutes > MaxDurationMinutes {
		return invalid("duration", fmt.Sprintf("must be at most %d minutes", MaxDurationMinutes))
	}
	if !NewInterval(start, minutes).Valid() {
		return invalid("duration", "end time must be after the start time")
	}
	return nil
}

// Update edits an appointment that has not reached a terminal status. A change of
// time, length or provider is re-checked against the (new) provider's schedule,
// ignoring the appointment itself.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput, actor Actor) (_ *Appointment, err error) {
	ctx, done := s.observe(ctx, "update", attribute.String("appointment_id", id.String()))
	defer func() { done(err) }()

	if actor.ID == uuid.Nil {
		return nil, invalid("actor", "is required")
	}

	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.IsTerminal() {
		return nil, &TransitionError{From: appt.Status}
	}

	var fields []string
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, invalid("type", fmt.Sprintf("%q is not a known appointment type", *in.Type))
		}
		appt.Type = *in.Type
		fields = append(fields, "type")
	}
	if in.Reason != nil {
		reason := strings.TrimSpace(*in.Reason)
		if reason == "" {
			return nil, invalid("reason", "must not be empty")
		}
		appt.Reason = reason
		fields = append(fields, "reason")
	}
	if in.Notes != nil {
		appt.Notes = *in.Notes
		fields = append(fields, "notes")
	}
	if in.DateTime != nil {
		if in.DateTime.IsZero() {
			return nil, invalid("dateTime", "must not be empty")
		}
		appt.DateTime = in.DateTime.UTC()
		fields = append(fields, "dateTime")
	}
	if in.Duration != nil {
		appt.Duration = *in.Duration
		fields = append(fields, "duration")
	}
	if in.ProviderID != nil {
		if *in.ProviderID == uuid.Nil {
			return nil, invalid("provider", "must not be empty")
		}
		if *in.ProviderID != appt.ProviderID {
			if err := s.ensureProvider(ctx, *in.ProviderID); err != nil {
				return nil, err
			}
		}
		appt.ProviderID = *in.ProviderID
		fields = append(fields, "provider")
	}
	if len(fields) == 0 {
		return appt, nil
	}
	if in.reschedules() {
		if err := checkSpan(appt.DateTime, appt.Duration); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	appt.EndTime = NewInterval(appt.DateTime, appt.Duration).End
	appt.UpdatedBy = &actor.ID
	appt.UpdatedAt = now

	var updated *Appointment
	save := func(ctx context.Context) error {
		saved, err := s.save(ctx, appt)
		if err != nil {
			return err
		}
		updated = saved
		return nil
	}

	if in.reschedules() {
		err = s.withProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
			if err := s.checkConflict(lockCtx, appt.ProviderID, appt.Interval(), appt.ID); err != nil {
				return err
			}
			return save(lockCtx)
		})
	} else {
		err = save(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment updated", "appointment_id", updated.ID, "fields", fields)
	s.recordAudit(ctx, ActionUpdated, actor, updated.ID, map[string]any{
		"patientId":     updated.PatientID.String(),
		"providerId":    updated.ProviderID.String(),
		"updatedFields": fields,
	})
	return updated, nil
}

// Transition moves an appointment to status to. The stored row is only replaced if
// nobody else changed it since it was read.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, actor Actor, meta TransitionMeta) (_ *Appointment, err error) {
	ctx, done := s.observe(ctx, "transition",
		attribute.String("appointment_id", id.String()),
		attribute.String("to", string(to)))
	defer func() { done(err) }()

	if actor.ID == uuid.Nil {
		return nil, invalid("actor", "is required")
	}
	if !to.Valid() {
		return nil, invalid("status", fmt.Sprintf("%q is not a known status", to))
	}
	if !Permitted(actor.Role, to) {
		return nil, fmt.Errorf("%w: %s may not set %s", ErrForbidden, actor.Role, to)
	}

	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, appt, to, actor, meta)
}

func (s *Service) transition(ctx context.Context, appt *Appointment, to Status, actor Actor, meta TransitionMeta) (*Appointment, error) {
	from := appt.Status
	meta.Reason = strings.TrimSpace(meta.Reason)
	if err := applyTransition(appt, to, actor.ID, meta, s.now().UTC()); err != nil {
		return nil, err
	}

	updated, err := s.save(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(to))
	s.logger.Info("appointment status changed",
		"appointment_id", updated.ID,
		"from", from,
		"to", to,
		"actor", actor.ID,
	)

	details := map[string]any{
		"patientId":  updated.PatientID.String(),
		"providerId": updated.ProviderID.String(),
		"from":       string(from),
		"to":         string(to),
	}
	if to == StatusCancelled && meta.Reason != "" {
		details["reason"] = meta.Reason
	}
	s.recordAudit(ctx, AuditAction(to), actor, updated.ID, details)
	return updated, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusConfirmed, actor, TransitionMeta{})
}

func (s *Service) CheckIn(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCheckedIn, actor, TransitionMeta{})
}

func (s *Service) Start(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusInProgress, actor, TransitionMeta{})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCompleted, actor, TransitionMeta{})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled, actor, TransitionMeta{Reason: reason})
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusNoShow, actor, TransitionMeta{})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.load(ctx, id)
}

// List returns appointments matching f, earliest first.
func (s *Service) List(ctx context.Context, f Filter) (_ []Appointment, err error) {
	ctx, done := s.observe(ctx, "list")
	defer func() { done(err) }()

	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, invalid("endDate", "must not be before startDate")
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("%q is not a known status", *f.Status))
	}
	if f.Type != nil && !f.Type.Valid() {
		return nil, invalid("type", fmt.Sprintf("%q is not a known appointment type", *f.Type))
	}

	appts, err := s.store.List(ctx, f)
	if err != nil {
		return nil, storeError("list appointments", err)
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, nil
}

// SweepNoShows marks scheduled or confirmed appointments whose end time passed more
// than the configured grace period ago as NO_SHOW, crediting the system actor.
// It returns how many appointments were marked.
func (s *Service) SweepNoShows(ctx context.Context) (_ int, err error) {
	ctx, done := s.observe(ctx, "sweep_no_shows")
	defer func() { done(err) }()

	cutoff := s.now().UTC().Add(-s.cfg.NoShowGrace)
	overdue, err := s.store.FindOverdue(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, storeError("find overdue appointments", err)
	}

	actor := Actor{ID: s.cfg.SystemActorID, Role: identity.RoleSystem}
	marked := 0
	for i := range overdue {
		appt := overdue[i]
		_, err := s.transition(ctx, &appt, StatusNoShow, actor, TransitionMeta{})
		switch {
		case err == nil:
			marked++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentModification):
			// Someone moved it on between the query and the write.
			s.logger.Debug("skip no-show", "appointment_id", appt.ID, "error", err)
		default:
			s.logger.Error("mark no-show failed", "appointment_id", appt.ID, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.metrics.ObserveNoShowsSwept(marked)
	return marked, ctx.Err()
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, storeError("load appointment", err)
	}
	return appt, nil
}

func (s *Service) save(ctx context.Context, appt *Appointment) (*Appointment, error) {
	saved, err := s.store.Save(ctx, appt)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		return nil, storeError("save appointment", err)
	}
	return saved, nil
}

func (s *Service) checkConflict(ctx context.Context, providerID uuid.UUID, candidate Interval, exclude uuid.UUID) error {
	existing, err := s.detector.FindConflict(ctx, providerID, candidate, exclude)
	if err != nil {
		return err
	}
	if existing != nil {
		s.metrics.ObserveConflict()
		s.logger.Info("scheduling conflict",
			"provider_id", providerID,
			"requested_start", candidate.Start,
			"requested_end", candidate.End,
			"conflicting_id", existing.ID,
		)
		return ErrSchedulingConflict
	}
	return nil
}

func (s *Service) withProviderLock(ctx context.Context, providerID uuid.UUID, fn func(context.Context) error) error {
	ran := false
	err := s.locker.WithProviderLock(ctx, providerID, func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.ObserveLockBusy()
		return ErrProviderBusy
	case !ran:
		return storeError("lock provider schedule", err)
	}
	return err
}

func (s *Service) ensurePatient(ctx context.Context, id uuid.UUID) error {
	ok, err := s.store.PatientExists(ctx, id)
	if err != nil {
		return storeError("look up patient", err)
	}
	if !ok {
		return ErrPatientNotFound
	}
	return nil
}

func (s *Service) ensureProvider(ctx context.Context, id uuid.UUID) error {
	ok, err := s.store.ProviderExists(ctx, id)
	if err != nil {
		return storeError("look up provider", err)
	}
	if !ok {
		return ErrProviderNotFound
	}
	return nil
}

// recordAudit writes an audit entry without letting a sink failure reach the caller.
// The write gets its own deadline so it survives the request being cancelled.
func (s *Service) recordAudit(ctx context.Context, action string, actor Actor, appointmentID uuid.UUID, details map[string]any) {
	timeout := s.cfg.AuditTimeout
	if timeout <= 0 {
		timeout = defaultAuditTimeout
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	id := appointmentID
	err := s.sink.Record(auditCtx, audit.Entry{
		Action:       action,
		Actor:        actor.ID,
		ResourceType: audit.ResourceAppointment,
		ResourceID:   &id,
		Details:      details,
		Timestamp:    s.now().UTC(),
	})
	if err != nil {
		s.metrics.ObserveAuditFailure(action)
		s.logger.Warn("audit write failed", "action", action, "appointment_id", appointmentID, "error", err)
	}
}

func (s *Service) defaultDuration() int {
	if s.cfg.DefaultDuration > 0 {
		return s.cfg.DefaultDuration
	}
	return 30
}

func (s *Service) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "appointment."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveOperation(op, err, time.Since(start).Seconds())
	}
}
