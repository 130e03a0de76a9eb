package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var apptCols = []string{
	"id", "patient_id", "provider_id", "date_time", "end_time", "type", "status", "reason",
	"notes", "duration_minutes", "cancellation_reason", "cancellation_date", "cancelled_by",
	"checkin_time", "completion_time", "created_by", "updated_by", "created_at", "updated_at", "version",
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func sampleRow(a Appointment) []any {
	return []any{
		a.ID, a.PatientID, a.ProviderID, a.DateTime, a.EndTime, a.Type, a.Status, a.Reason,
		a.Notes, a.Duration, a.CancellationReason, nil, nil,
		nil, nil, a.CreatedBy, nil, a.CreatedAt, a.UpdatedAt, a.Version,
	}
}

func sampleAppointment() Appointment {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Appointment{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		ProviderID: uuid.New(),
		DateTime:   at(9, 0),
		EndTime:    at(9, 30),
		Type:       TypeAdjustment,
		Status:     StatusScheduled,
		Reason:     "lower back pain",
		Duration:   30,
		CreatedBy:  uuid.New(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

func TestPgFindByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	want := sampleAppointment()

	mock.ExpectQuery("SELECT id, patient_id, provider_id").
		WithArgs(want.ID).
		WillReturnRows(pgxmock.NewRows(apptCols).AddRow(sampleRow(want)...))

	got, err := repo.FindByID(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, at(9, 30), got.EndTime)
	assert.Nil(t, got.CheckinTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, patient_id, provider_id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(apptCols))

	_, err := repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestPgFindActiveByProvider(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	b := sampleAppointment()
	b.ProviderID = a.ProviderID
	b.DateTime, b.EndTime = at(10, 0), at(10, 30)

	mock.ExpectQuery(`status NOT IN \('CANCELLED', 'NO_SHOW'\)`).
		WithArgs(a.ProviderID).
		WillReturnRows(pgxmock.NewRows(apptCols).AddRow(sampleRow(a)...).AddRow(sampleRow(b)...))

	got, err := repo.FindActiveByProvider(context.Background(), a.ProviderID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSaveInsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	a.Version = 0

	stored := a
	stored.Version = 1
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(a.ID, a.PatientID, a.ProviderID, a.DateTime, a.EndTime, a.Type, a.Status, a.Reason,
			a.Notes, a.Duration, a.CreatedBy).
		WillReturnRows(pgxmock.NewRows(apptCols).AddRow(sampleRow(stored)...))

	got, err := repo.Save(context.Background(), &a)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSaveUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	a.Status = StatusConfirmed

	stored := a
	stored.Version = 2
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, a.PatientID, a.ProviderID, a.DateTime, a.EndTime, a.Type, a.Status, a.Reason,
			a.Notes, a.Duration, a.CancellationReason, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), 1).
		WillReturnRows(pgxmock.NewRows(apptCols).AddRow(sampleRow(stored)...))

	got, err := repo.Save(context.Background(), &a)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSaveLostRace(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectQuery("UPDATE appointments").WillReturnRows(pgxmock.NewRows(apptCols))

	_, err := repo.Save(context.Background(), &a)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestPgListBuildsFilter(t *testing.T) {
	repo, mock := newMockRepo(t)
	provider := uuid.New()
	status := StatusConfirmed
	from := at(0, 0)

	mock.ExpectQuery(`WHERE date_time >= \$1 AND provider_id = \$2 AND status = \$3 ORDER BY date_time ASC LIMIT \$4 OFFSET \$5`).
		WithArgs(from, provider, StatusConfirmed, 100, 0).
		WillReturnRows(pgxmock.NewRows(apptCols))

	got, err := repo.List(context.Background(), Filter{From: &from, ProviderID: &provider, Status: &status})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListClampsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM appointments ORDER BY date_time ASC LIMIT \$1 OFFSET \$2`).
		WithArgs(500, 0).
		WillReturnRows(pgxmock.NewRows(apptCols))

	_, err := repo.List(context.Background(), Filter{Limit: 10000, Offset: -3})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindOverdue(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := at(11, 0)
	a := sampleAppointment()

	mock.ExpectQuery(`status IN \('SCHEDULED', 'CONFIRMED'\)`).
		WithArgs(cutoff, 100).
		WillReturnRows(pgxmock.NewRows(apptCols).AddRow(sampleRow(a)...))

	got, err := repo.FindOverdue(context.Background(), cutoff, 100)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPgExists(t *testing.T) {
	repo, mock := newMockRepo(t)
	patient := uuid.New()
	provider := uuid.New()

	mock.ExpectQuery("FROM patients").
		WithArgs(patient).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FROM users").
		WithArgs(provider).
		WillReturnError(errors.New("conn closed"))

	ok, err := repo.PatientExists(context.Background(), patient)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.ProviderExists(context.Background(), provider)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
