package appointment

import (
	"time"

	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

// Siblings carries what the window check needs to know about the next
// canonical visit.
type Siblings struct {
	// NextVisit is the visit after this one in timepoint order, if any.
	NextVisit *visitschedule.Visit
	// Next is the persisted canonical appointment for NextVisit, if any.
	Next               *Appointment
	NextHasVisitReport bool
}

// WindowValidator checks candidate datetimes against visit windows. Window
// arithmetic is always relative to the schedule origin derived from the
// subject's baseline appointment, never to a neighbour's adjusted date.
type WindowValidator struct{}

// Check returns nil when dt is acceptable for a visit at the given sequence,
// or a *ScheduledWindowError / *UnscheduledWindowError carrying the bounds.
func (WindowValidator) Check(dt time.Time, sequence int, visit visitschedule.Visit, origin time.Time, sib Siblings) error {
	lower, upper := visit.Window(origin)

	if sequence == 0 {
		if dt.Before(lower) || dt.After(upper) {
			return &ScheduledWindowError{VisitCode: visit.Code, Datetime: dt, Lower: lower, Upper: upper}
		}
		return nil
	}

	if sib.Next != nil && sib.NextHasVisitReport &&
		(sib.Next.Status == StatusComplete || sib.Next.Status == StatusIncomplete) &&
		dt.Before(sib.Next.ApptDatetime) {
		return nil
	}

	var unscheduledUpper time.Time
	if sib.NextVisit != nil {
		unscheduledUpper, _ = sib.NextVisit.Window(origin)
	}

	if dt.Before(lower) || (!unscheduledUpper.IsZero() && !dt.Before(unscheduledUpper)) {
		return &UnscheduledWindowError{VisitCode: visit.Code, Datetime: dt, Lower: lower, Upper: unscheduledUpper}
	}
	return nil
}

// Origin converts the baseline appointment's ideal datetime into the
// schedule anchor that visit offsets are measured from.
func Origin(baseline time.Time, schedule *visitschedule.Schedule) time.Time {
	return baseline.AddDate(0, 0, -schedule.First().RBaseDays)
}
