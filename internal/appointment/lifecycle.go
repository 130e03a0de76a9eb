package appointment

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/identity"
)

// transitions lists every legal target per source status. Terminal statuses map to nothing.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

// clinicalTargets may only be entered by clinicians.
var clinicalTargets = map[Status][]identity.Role{
	StatusInProgress: {identity.RoleDoctor, identity.RoleAdmin},
	StatusCompleted:  {identity.RoleDoctor, identity.RoleAdmin},
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Permitted reports whether role may move an appointment into status to.
func Permitted(role identity.Role, to Status) bool {
	roles, gated := clinicalTargets[to]
	if !gated {
		return true
	}
	return slices.Contains(roles, role)
}

// TransitionMeta carries caller-supplied details for a transition.
type TransitionMeta struct {
	Reason string // cancellation reason
}

// AuditAction is the audit tag for entering status to.
func AuditAction(to Status) string {
	return "APPOINTMENT_" + string(to)
}

// applyTransition moves a to the target status and stamps the fields owned by that
// transition. On error a is left untouched.
func applyTransition(a *Appointment, to Status, actor uuid.UUID, meta TransitionMeta, now time.Time) error {
	if !CanTransition(a.Status, to) {
		return &TransitionError{From: a.Status, To: to}
	}

	switch to {
	case StatusCheckedIn:
		a.CheckinTime = &now
	case StatusCompleted:
		a.CompletionTime = &now
	case StatusCancelled:
		a.CancellationReason = meta.Reason
		a.CancellationDate = &now
		a.CancelledBy = &actor
	}

	a.Status = to
	a.UpdatedBy = &actor
	a.UpdatedAt = now
	return nil
}
