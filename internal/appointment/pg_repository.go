package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Zecruu/SpineLineDemo/internal/db"
)

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, provider_id, date_time, end_time, type, status, reason,
	COALESCE(notes, ''), duration_minutes, COALESCE(cancellation_reason, ''), cancellation_date,
	cancelled_by, checkin_time, completion_time, created_by, updated_by, created_at, updated_at, version`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.DateTime,
		&a.EndTime,
		&a.Type,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.Duration,
		&a.CancellationReason,
		&a.CancellationDate,
		&a.CancelledBy,
		&a.CheckinTime,
		&a.CompletionTime,
		&a.CreatedBy,
		&a.UpdatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByProvider(ctx context.Context, providerID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND status NOT IN ('CANCELLED', 'NO_SHOW')
		ORDER BY date_time
	`, providerID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Save(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.Version == 0 {
		return r.insert(ctx, a)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    provider_id = $3,
		    date_time = $4,
		    end_time = $5,
		    type = $6,
		    status = $7,
		    reason = $8,
		    notes = NULLIF($9, ''),
		    duration_minutes = $10,
		    cancellation_reason = NULLIF($11, ''),
		    cancellation_date = $12,
		    cancelled_by = $13,
		    checkin_time = $14,
		    completion_time = $15,
		    updated_by = $16,
		    updated_at = now(),
		    version = version + 1
		WHERE id = $1
		  AND version = $17
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.ProviderID, a.DateTime, a.EndTime, a.Type, a.Status, a.Reason, a.Notes,
		a.Duration, a.CancellationReason, a.CancellationDate, a.CancelledBy, a.CheckinTime,
		a.CompletionTime, a.UpdatedBy, a.Version,
	)

	saved, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Either the row vanished or another writer bumped the version first.
		return nil, ErrConcurrentModification
	}
	return saved, err
}

func (r *PgRepository) insert(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, date_time, end_time, type, status, reason,
			notes, duration_minutes, created_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, now(), now(), 1)
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.ProviderID, a.DateTime, a.EndTime, a.Type, a.Status, a.Reason, a.Notes,
		a.Duration, a.CreatedBy,
	)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	f = f.normalized()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.From != nil {
		add("date_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("date_time <= $%d", *f.To)
	}
	if f.ProviderID != nil {
		add("provider_id = $%d", *f.ProviderID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Type != nil {
		add("type = $%d", *f.Type)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY date_time ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindOverdue(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('SCHEDULED', 'CONFIRMED')
		  AND end_time < $1
		ORDER BY end_time
		LIMIT $2
	`, endedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *PgRepository) ProviderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active)`, id).Scan(&exists)
	return exists, err
}
