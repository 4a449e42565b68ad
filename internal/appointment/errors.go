package appointment

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAppointmentNotFound      = errors.New("appointment not found")
	ErrEnrollmentNotFound       = errors.New("enrollment not found")
	ErrDuplicateAppointment     = errors.New("appointment already exists")
	ErrWindowPeriod             = errors.New("appointment date outside window period")
	ErrVisitReportExists        = errors.New("appointment has a visit report")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrCanonicalNotCancellable  = errors.New("scheduled appointments cannot be cancelled")
	ErrMissedNotAllowed         = errors.New("appointment cannot be marked missed")
	ErrSkipNotAllowed           = errors.New("appointments cannot be skipped")
	ErrUnknownVisit             = errors.New("visit code not in schedule")
	ErrInterimAppointmentsExist = errors.New("delete the unscheduled appointments of this visit first")
)

const dateLayout = "2006-01-02 15:04 MST"

// ScheduledWindowError is raised when a canonical appointment date falls
// outside [lower, upper].
type ScheduledWindowError struct {
	VisitCode string
	Datetime  time.Time
	Lower     time.Time
	Upper     time.Time
}

func (e *ScheduledWindowError) Error() string {
	return fmt.Sprintf("visit %s: %s is outside the window period %s to %s",
		e.VisitCode, e.Datetime.Format(dateLayout), e.Lower.Format(dateLayout), e.Upper.Format(dateLayout))
}

func (e *ScheduledWindowError) Is(target error) bool { return target == ErrWindowPeriod }

// UnscheduledWindowError is raised when an interim appointment date falls
// outside [lower, upper). A zero Upper means the window is open-ended.
type UnscheduledWindowError struct {
	VisitCode string
	Datetime  time.Time
	Lower     time.Time
	Upper     time.Time
}

func (e *UnscheduledWindowError) Error() string {
	if e.Upper.IsZero() {
		return fmt.Sprintf("visit %s: unscheduled date %s must be on or after %s",
			e.VisitCode, e.Datetime.Format(dateLayout), e.Lower.Format(dateLayout))
	}
	return fmt.Sprintf("visit %s: unscheduled date %s must be on or after %s and before %s",
		e.VisitCode, e.Datetime.Format(dateLayout), e.Lower.Format(dateLayout), e.Upper.Format(dateLayout))
}

func (e *UnscheduledWindowError) Is(target error) bool { return target == ErrWindowPeriod }

// SequenceError reports a gap in visit_code_sequence numbering.
type SequenceError struct {
	VisitCode string
	Expected  int
	Got       int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("visit %s: sequence %d is out of order, expected %d", e.VisitCode, e.Got, e.Expected)
}

type InvalidParentAppointmentStatusError struct {
	VisitCode         string
	VisitCodeSequence int
	Status            Status
}

func (e *InvalidParentAppointmentStatusError) Error() string {
	return fmt.Sprintf("visit %s.%d: parent appointment must be complete or incomplete, got %s",
		e.VisitCode, e.VisitCodeSequence, e.Status)
}

type InvalidParentAppointmentMissingVisitError struct {
	VisitCode         string
	VisitCodeSequence int
}

func (e *InvalidParentAppointmentMissingVisitError) Error() string {
	return fmt.Sprintf("visit %s.%d: parent appointment has no visit report", e.VisitCode, e.VisitCodeSequence)
}

type UnscheduledAppointmentNotAllowed struct {
	VisitCode string
	Reason    string
}

func (e *UnscheduledAppointmentNotAllowed) Error() string {
	return fmt.Sprintf("visit %s: unscheduled appointment not allowed: %s", e.VisitCode, e.Reason)
}

// StatusConsistencyError means a stored status cannot be reached by any
// transition from where it is being read. It indicates a bug or corrupted
// data and is never recovered from.
type StatusConsistencyError struct {
	Label  string
	Status Status
	Branch string
}

func (e *StatusConsistencyError) Error() string {
	return fmt.Sprintf("appointment %s: unexpected status %q while %s", e.Label, e.Status, e.Branch)
}
