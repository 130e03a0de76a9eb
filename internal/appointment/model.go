package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/identity"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// BlocksSchedule reports whether an appointment in this status occupies its provider's time.
func (s Status) BlocksSchedule() bool {
	return s != StatusCancelled && s != StatusNoShow
}

type Type string

const (
	TypeInitialConsultation Type = "INITIAL_CONSULTATION"
	TypeFollowUp            Type = "FOLLOW_UP"
	TypeAdjustment          Type = "ADJUSTMENT"
	TypeTherapy             Type = "THERAPY"
	TypeEvaluation          Type = "EVALUATION"
	TypeOther               Type = "OTHER"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInitialConsultation, TypeFollowUp, TypeAdjustment, TypeTherapy, TypeEvaluation, TypeOther:
		return true
	}
	return false
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	DateTime   time.Time
	EndTime    time.Time
	Type       Type
	Status     Status
	Reason     string
	Notes      string
	Duration   int // minutes

	CancellationReason string
	CancellationDate   *time.Time
	CancelledBy        *uuid.UUID
	CheckinTime        *time.Time
	CompletionTime     *time.Time

	CreatedBy uuid.UUID
	UpdatedBy *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is bumped on every save; zero means not yet persisted.
	Version int
}

// Interval is the provider time the appointment occupies.
func (a Appointment) Interval() Interval {
	return Interval{Start: a.DateTime, End: a.EndTime}
}

// Actor is the identity credited with a change.
type Actor struct {
	ID   uuid.UUID
	Role identity.Role
}

// Filter narrows List results. Nil fields are ignored.
type Filter struct {
	From       *time.Time // inclusive
	To         *time.Time // inclusive
	ProviderID *uuid.UUID
	PatientID  *uuid.UUID
	Status     *Status
	Type       *Type
	Limit      int
	Offset     int
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
