package appointment

import (
	"time"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/facility"
	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

// AnchorTolerance is the largest difference between a persisted and a
// recomputed timepoint_datetime that is not treated as an anchor change.
const AnchorTolerance = 59 * time.Second

// Drifted reports whether computed differs from persisted by more than
// AnchorTolerance.
func Drifted(persisted, computed time.Time) bool {
	d := computed.Sub(persisted)
	if d < 0 {
		d = -d
	}
	return d > AnchorTolerance
}

// DateResolver produces appt_datetime and timepoint_datetime for new and
// edited appointments.
type DateResolver struct {
	Calendar   facility.Calendar
	Facilities facility.Provider
	Window     WindowValidator
}

type NewRequest struct {
	Visit  visitschedule.Visit
	Origin time.Time
	// Suggested is the requested datetime; zero means the visit's ideal date.
	Suggested time.Time
	// Taken holds dates already used by siblings in the same batch.
	Taken []time.Time
	// Booked counts facility appointments per day; nil disables capacity.
	Booked map[string]int
	// Canonical keeps the result inside the visit window: the calendar scan
	// stops at the upper bound and falls back to the ideal date.
	Canonical bool
}

// ResolveNew returns the adjusted appt_datetime and the ideal
// timepoint_datetime (origin + rbase) for an appointment not yet persisted.
func (r DateResolver) ResolveNew(req NewRequest) (apptDatetime, timepointDatetime time.Time, err error) {
	if req.Origin.IsZero() {
		return time.Time{}, time.Time{}, &config.ConfigurationError{Field: "anchor_datetime", Reason: "datetime is not set"}
	}

	f, err := r.Facilities.Facility(req.Visit.Facility)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	timepointDatetime = req.Visit.IdealDatetime(req.Origin)
	suggested := req.Suggested
	if suggested.IsZero() {
		suggested = timepointDatetime
	}

	creq := facility.Request{
		Suggested: suggested,
		Facility:  f,
		Excluded:  req.Taken,
		Booked:    req.Booked,
	}
	if req.Canonical {
		_, creq.Latest = req.Visit.Window(req.Origin)
	}

	apptDatetime, err = r.Calendar.Resolve(creq)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if req.Canonical {
		if err := r.Window.Check(apptDatetime, 0, req.Visit, req.Origin, Siblings{}); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return apptDatetime, timepointDatetime, nil
}

type ChangeRequest struct {
	Previous time.Time
	Proposed time.Time
	Sequence int
	Visit    visitschedule.Visit
	Origin   time.Time
	Siblings Siblings
}

// DateChange is the outcome of an edit. A rejected proposal is not an
// error for the caller: ApptDatetime snaps back to Previous and Rejection
// holds the window error to show the user.
type DateChange struct {
	ApptDatetime time.Time
	Reverted     bool
	Rejection    error
}

func (r DateResolver) ResolveChanged(req ChangeRequest) (DateChange, error) {
	if req.Proposed.IsZero() {
		return DateChange{}, &config.ConfigurationError{Field: "appt_datetime", Reason: "datetime is not set"}
	}
	if err := r.Window.Check(req.Proposed, req.Sequence, req.Visit, req.Origin, req.Siblings); err != nil {
		return DateChange{ApptDatetime: req.Previous, Reverted: true, Rejection: err}, nil
	}
	return DateChange{ApptDatetime: req.Proposed}, nil
}
