package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type ResourceType string

const (
	ResourceUser        ResourceType = "USER"
	ResourcePatient     ResourceType = "PATIENT"
	ResourceAppointment ResourceType = "APPOINTMENT"
	ResourceSystem      ResourceType = "SYSTEM"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           uuid.UUID
	Action       string
	Actor        uuid.UUID
	ResourceType ResourceType
	ResourceID   *uuid.UUID
	Details      map[string]any
	IPAddress    string
	UserAgent    string
	Timestamp    time.Time
}

// Sink receives audit entries. Callers treat it as best effort.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// Discard drops every entry.
var Discard Sink = SinkFunc(func(context.Context, Entry) error { return nil })

// Fanout records to every sink and joins their errors. The entry is normalized once so
// every sink stores the same id and timestamp.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, e Entry) error {
	e = normalize(e)
	var errs []error
	for _, s := range f {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalize(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	return e
}
