package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckInvariants(t *testing.T) {
	scope := newScope()
	mk := func(code string, seq int, status Status) Appointment {
		reason := ReasonScheduled
		if seq > 0 {
			reason = ReasonUnscheduled
		}
		return Appointment{
			SubjectIdentifier: scope.SubjectIdentifier,
			VisitScheduleName: scope.VisitScheduleName,
			ScheduleName:      scope.ScheduleName,
			VisitCode:         code,
			VisitCodeSequence: seq,
			Status:            status,
			Reason:            reason,
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, CheckInvariants([]Appointment{
			mk("1000", 0, StatusComplete),
			mk("1000", 1, StatusCancelled),
			mk("1000", 2, StatusInProgress),
			mk("2000", 0, StatusNew),
		}))
	})

	t.Run("sequence gap", func(t *testing.T) {
		err := CheckInvariants([]Appointment{mk("1000", 0, StatusNew), mk("1000", 2, StatusNew)})
		assert.ErrorIs(t, err, ErrInvariantViolated)
		assert.Contains(t, err.Error(), "not contiguous")
	})

	t.Run("missing canonical", func(t *testing.T) {
		assert.ErrorIs(t, CheckInvariants([]Appointment{mk("1000", 1, StatusNew)}), ErrInvariantViolated)
	})

	t.Run("reason mismatch", func(t *testing.T) {
		a := mk("1000", 0, StatusNew)
		a.Reason = ReasonUnscheduled
		assert.ErrorIs(t, CheckInvariants([]Appointment{a}), ErrInvariantViolated)
	})

	t.Run("cancelled canonical", func(t *testing.T) {
		err := CheckInvariants([]Appointment{mk("1000", 0, StatusCancelled)})
		assert.Contains(t, err.Error(), "cancelled canonical")
	})

	t.Run("two in progress", func(t *testing.T) {
		err := CheckInvariants([]Appointment{mk("1000", 0, StatusInProgress), mk("2000", 0, StatusInProgress)})
		assert.Contains(t, err.Error(), "in progress")
	})

	t.Run("in progress in different scopes", func(t *testing.T) {
		other := mk("1000", 0, StatusInProgress)
		other.SubjectIdentifier += "-x"
		assert.NoError(t, CheckInvariants([]Appointment{mk("1000", 0, StatusInProgress), other}))
	})
}
