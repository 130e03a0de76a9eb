package appointment

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zecruu/SpineLineDemo/internal/identity"
)

var allStatuses = []Status{
	StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress,
	StatusCompleted, StatusCancelled, StatusNoShow,
}

func TestCanTransitionTable(t *testing.T) {
	allowed := map[Status]map[Status]bool{
		StatusScheduled:  {StatusConfirmed: true, StatusCheckedIn: true, StatusCancelled: true, StatusNoShow: true},
		StatusConfirmed:  {StatusCheckedIn: true, StatusCancelled: true, StatusNoShow: true},
		StatusCheckedIn:  {StatusInProgress: true, StatusCompleted: true, StatusCancelled: true},
		StatusInProgress: {StatusCompleted: true, StatusCancelled: true},
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.Equal(t, allowed[from][to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range allStatuses {
		want := s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
		assert.Equal(t, want, s.IsTerminal(), s)
	}
	assert.False(t, Status("BOGUS").IsTerminal())
	assert.False(t, Status("BOGUS").Valid())
}

func TestApplyTransitionStampsOnlyItsFields(t *testing.T) {
	actor := uuid.New()
	now := at(10, 0)

	t.Run("check in", func(t *testing.T) {
		a := &Appointment{Status: StatusConfirmed}
		require.NoError(t, applyTransition(a, StatusCheckedIn, actor, TransitionMeta{}, now))
		assert.Equal(t, StatusCheckedIn, a.Status)
		assert.Equal(t, now, *a.CheckinTime)
		assert.Nil(t, a.CompletionTime)
		assert.Nil(t, a.CancellationDate)
		assert.Equal(t, actor, *a.UpdatedBy)
	})

	t.Run("complete", func(t *testing.T) {
		a := &Appointment{Status: StatusInProgress}
		require.NoError(t, applyTransition(a, StatusCompleted, actor, TransitionMeta{}, now))
		assert.Equal(t, now, *a.CompletionTime)
		assert.Nil(t, a.CheckinTime)
		assert.Nil(t, a.CancelledBy)
	})

	t.Run("cancel", func(t *testing.T) {
		a := &Appointment{Status: StatusScheduled}
		require.NoError(t, applyTransition(a, StatusCancelled, actor, TransitionMeta{Reason: "patient sick"}, now))
		assert.Equal(t, "patient sick", a.CancellationReason)
		assert.Equal(t, now, *a.CancellationDate)
		assert.Equal(t, actor, *a.CancelledBy)
		assert.Nil(t, a.CheckinTime)
		assert.Nil(t, a.CompletionTime)
	})

	t.Run("confirm stamps nothing else", func(t *testing.T) {
		a := &Appointment{Status: StatusScheduled}
		require.NoError(t, applyTransition(a, StatusConfirmed, actor, TransitionMeta{}, now))
		assert.Nil(t, a.CheckinTime)
		assert.Nil(t, a.CompletionTime)
		assert.Nil(t, a.CancellationDate)
	})
}

func TestApplyTransitionRejectsIllegal(t *testing.T) {
	a := &Appointment{Status: StatusCheckedIn}
	err := applyTransition(a, StatusConfirmed, uuid.New(), TransitionMeta{}, at(10, 0))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusCheckedIn, te.From)
	assert.Equal(t, StatusConfirmed, te.To)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusCheckedIn, a.Status)
	assert.Nil(t, a.UpdatedBy)
}

func TestTerminalRejectsEverything(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		for _, to := range allStatuses {
			a := &Appointment{Status: from}
			err := applyTransition(a, to, uuid.New(), TransitionMeta{}, at(10, 0))
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			assert.Equal(t, from, a.Status)
		}
	}
}

func TestPermitted(t *testing.T) {
	assert.True(t, Permitted(identity.RoleSecretary, StatusCheckedIn))
	assert.True(t, Permitted(identity.RoleSecretary, StatusCancelled))
	assert.False(t, Permitted(identity.RoleSecretary, StatusCompleted))
	assert.False(t, Permitted(identity.RoleSecretary, StatusInProgress))
	assert.True(t, Permitted(identity.RoleDoctor, StatusCompleted))
	assert.True(t, Permitted(identity.RoleAdmin, StatusInProgress))
	assert.True(t, Permitted(identity.RoleSystem, StatusNoShow))
	assert.False(t, Permitted(identity.RoleSystem, StatusCompleted))
}

func TestAuditAction(t *testing.T) {
	assert.Equal(t, "APPOINTMENT_CHECKED_IN", AuditAction(StatusCheckedIn))
	assert.Equal(t, "APPOINTMENT_NO_SHOW", AuditAction(StatusNoShow))
}
