package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutJoinsErrors(t *testing.T) {
	var got []string
	ok := SinkFunc(func(_ context.Context, e Entry) error {
		got = append(got, e.Action)
		return nil
	})
	boom := errors.New("boom")
	failing := SinkFunc(func(context.Context, Entry) error { return boom })

	err := Fanout{ok, failing, ok}.Record(context.Background(), Entry{Action: "APPOINTMENT_CREATED"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"APPOINTMENT_CREATED", "APPOINTMENT_CREATED"}, got)

	assert.NoError(t, Fanout{ok, Discard}.Record(context.Background(), Entry{}))
}

func TestFanoutSharesEntryIdentity(t *testing.T) {
	var seen []Entry
	capture := SinkFunc(func(_ context.Context, e Entry) error {
		seen = append(seen, e)
		return nil
	})
	w := &fakeWriter{}

	err := Fanout{capture, NewKafkaSink(w, "clinic.audit.v1"), capture}.
		Record(context.Background(), Entry{Action: "APPOINTMENT_CREATED"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.NotEqual(t, uuid.Nil, seen[0].ID)
	assert.Equal(t, seen[0].ID, seen[1].ID)
	assert.Equal(t, seen[0].Timestamp, seen[1].Timestamp)

	require.Len(t, w.msgs, 1)
	var eventID string
	for _, h := range w.msgs[0].Headers {
		if h.Key == "event_id" {
			eventID = string(h.Value)
		}
	}
	assert.Equal(t, seen[0].ID.String(), eventID)
}

func TestPgSinkRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	actor := uuid.New()
	resource := uuid.New()
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), "APPOINTMENT_CANCELLED", actor, "APPOINTMENT", pgxmock.AnyArg(),
			pgxmock.AnyArg(), "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPgSink(mock).Record(context.Background(), Entry{
		Action:       "APPOINTMENT_CANCELLED",
		Actor:        actor,
		ResourceType: ResourceAppointment,
		ResourceID:   &resource,
		Details:      map[string]any{"reason": "sick"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSinkRecordError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("connection refused"))

	err = NewPgSink(mock).Record(context.Background(), Entry{Action: "USER_LOGIN", Actor: uuid.New()})
	assert.ErrorContains(t, err, "insert audit log")
}

func TestPgSinkList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	resource := uuid.New()
	actor := uuid.New()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM audit_logs WHERE action = \$1 AND resource_id = \$2 ORDER BY timestamp DESC LIMIT \$3`).
		WithArgs("APPOINTMENT_CHECKED_IN", resource, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "action", "performed_by", "resource_type", "resource_id",
			"details", "ip_address", "user_agent", "timestamp"}).
			AddRow(uuid.New(), "APPOINTMENT_CHECKED_IN", actor, "APPOINTMENT", &resource,
				[]byte(`{"from":"CONFIRMED"}`), "10.0.0.1", "", ts))

	entries, err := NewPgSink(mock).List(context.Background(), Filter{Action: "APPOINTMENT_CHECKED_IN", ResourceID: &resource})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ResourceAppointment, entries[0].ResourceType)
	assert.Equal(t, "CONFIRMED", entries[0].Details["from"])
	assert.Equal(t, actor, entries[0].Actor)
	require.NoError(t, mock.ExpectationsWereMet())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkKeysByResource(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, "clinic.audit.v1")
	resource := uuid.New()

	err := sink.Record(context.Background(), Entry{
		Action:       "APPOINTMENT_COMPLETED",
		Actor:        uuid.New(),
		ResourceType: ResourceAppointment,
		ResourceID:   &resource,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "clinic.audit.v1", msg.Topic)
	assert.Equal(t, resource.String(), string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "APPOINTMENT_COMPLETED", headers["event_type"])
	assert.NotEmpty(t, headers["event_id"])

	var ev map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "APPOINTMENT", ev["resource_type"])
	assert.Equal(t, resource.String(), ev["resource_id"])
}

func TestKafkaSinkWriteError(t *testing.T) {
	sink := NewKafkaSink(&fakeWriter{err: errors.New("broker down")}, "t")
	err := sink.Record(context.Background(), Entry{Action: "USER_LOGIN"})
	assert.ErrorContains(t, err, "broker down")
}
