package facility

import (
	"errors"
	"time"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
)

const DefaultHorizonDays = 30

var ErrNoAvailableSlot = errors.New("no available facility date within horizon")

// Calendar finds the nearest acceptable facility date for a suggested
// datetime. It holds no state beyond its settings, so resolving the same
// request twice yields the same answer.
type Calendar struct {
	HorizonDays int
	// Strict returns ErrNoAvailableSlot on horizon exhaustion instead of
	// handing back the suggested datetime unchanged.
	Strict bool
}

func NewCalendar(horizonDays int) Calendar {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return Calendar{HorizonDays: horizonDays}
}

type Request struct {
	Suggested time.Time
	Facility  *Facility
	// Excluded are datetimes already taken by siblings; their days are skipped.
	Excluded []time.Time
	// Booked counts appointments per facility day (DayLayout). Nil disables
	// capacity tracking.
	Booked map[string]int
	// Latest bounds the scan; no candidate after it is returned. Zero leaves
	// only the horizon.
	Latest time.Time
}

func (c Calendar) Resolve(req Request) (time.Time, error) {
	if req.Suggested.IsZero() {
		return time.Time{}, &config.ConfigurationError{Field: "suggested_datetime", Reason: "datetime is not set"}
	}
	if req.Facility == nil {
		return time.Time{}, &config.ConfigurationError{Field: "facility", Reason: "missing facility"}
	}

	f := req.Facility
	excluded := make(map[string]struct{}, len(req.Excluded))
	for _, t := range req.Excluded {
		excluded[f.Day(t)] = struct{}{}
	}

	horizon := c.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}

	for i := 0; i < horizon; i++ {
		candidate := req.Suggested.AddDate(0, 0, i)
		if !req.Latest.IsZero() && candidate.After(req.Latest) {
			break
		}
		day := f.Day(candidate)

		if !f.IsOpen(candidate) || f.Holidays.Contains(day) {
			continue
		}
		if _, taken := excluded[day]; taken {
			continue
		}
		if req.Booked != nil {
			if capacity := f.Capacity(candidate); capacity > 0 && req.Booked[day] >= capacity {
				continue
			}
		}
		return candidate, nil
	}

	if c.Strict {
		return time.Time{}, ErrNoAvailableSlot
	}
	return req.Suggested, nil
}
