package visitschedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
)

// Visit is one timepoint of a schedule. Offsets are whole days relative to
// the schedule anchor: the ideal date is anchor+RBaseDays and the window is
// [ideal+RLowerDays, ideal+RUpperDays], so RLowerDays is never positive.
type Visit struct {
	Code             string
	Title            string
	Timepoint        decimal.Decimal
	RBaseDays        int
	RLowerDays       int
	RUpperDays       int
	Facility         string
	AllowUnscheduled bool
	CRFs             []string
	Requisitions     []string
}

func (v Visit) IdealDatetime(anchor time.Time) time.Time {
	return anchor.AddDate(0, 0, v.RBaseDays)
}

// Window returns the closed window bounds around the ideal date.
func (v Visit) Window(anchor time.Time) (lower, upper time.Time) {
	ideal := v.IdealDatetime(anchor)
	return ideal.AddDate(0, 0, v.RLowerDays), ideal.AddDate(0, 0, v.RUpperDays)
}

func (v Visit) CollectsData() bool {
	return len(v.CRFs) > 0 || len(v.Requisitions) > 0
}

// Schedule is an ordered, immutable list of visits.
type Schedule struct {
	VisitScheduleName string
	Name              string
	visits            []Visit
	index             map[string]int
}

func NewSchedule(visitScheduleName, name string, visits []Visit) (*Schedule, error) {
	field := visitScheduleName + "." + name
	if visitScheduleName == "" || name == "" {
		return nil, &config.ConfigurationError{Field: field, Reason: "visit schedule and schedule names are required"}
	}
	if len(visits) == 0 {
		return nil, &config.ConfigurationError{Field: field, Reason: "schedule has no visits"}
	}

	sorted := make([]Visit, len(visits))
	copy(sorted, visits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timepoint.LessThan(sorted[j].Timepoint)
	})

	s := &Schedule{
		VisitScheduleName: visitScheduleName,
		Name:              name,
		visits:            sorted,
		index:             make(map[string]int, len(sorted)),
	}

	for i, v := range sorted {
		vf := field + "." + v.Code
		if v.Code == "" {
			return nil, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("visit at position %d has no code", i)}
		}
		if _, dup := s.index[v.Code]; dup {
			return nil, &config.ConfigurationError{Field: vf, Reason: "duplicate visit code"}
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Timepoint.Equal(v.Timepoint) {
				return nil, &config.ConfigurationError{Field: vf, Reason: "duplicate timepoint " + v.Timepoint.String()}
			}
			if v.RBaseDays < prev.RBaseDays {
				return nil, &config.ConfigurationError{Field: vf, Reason: "rbase goes backwards relative to " + prev.Code}
			}
		}
		if v.RLowerDays > 0 {
			return nil, &config.ConfigurationError{Field: vf, Reason: "rlower must not be positive"}
		}
		if v.RUpperDays < 0 {
			return nil, &config.ConfigurationError{Field: vf, Reason: "rupper must not be negative"}
		}
		if v.Facility == "" {
			return nil, &config.ConfigurationError{Field: vf, Reason: "facility is required"}
		}
		s.index[v.Code] = i
	}

	return s, nil
}

// Visits returns the visits in timepoint order.
func (s *Schedule) Visits() []Visit {
	out := make([]Visit, len(s.visits))
	copy(out, s.visits)
	return out
}

func (s *Schedule) Visit(code string) (Visit, bool) {
	i, ok := s.index[code]
	if !ok {
		return Visit{}, false
	}
	return s.visits[i], true
}

func (s *Schedule) First() Visit {
	return s.visits[0]
}

// Next returns the visit after code in timepoint order.
func (s *Schedule) Next(code string) (Visit, bool) {
	i, ok := s.index[code]
	if !ok || i+1 >= len(s.visits) {
		return Visit{}, false
	}
	return s.visits[i+1], true
}

func (s *Schedule) Previous(code string) (Visit, bool) {
	i, ok := s.index[code]
	if !ok || i == 0 {
		return Visit{}, false
	}
	return s.visits[i-1], true
}

// Between returns the visits strictly after from and strictly before to.
func (s *Schedule) Between(from, to string) []Visit {
	i, ok1 := s.index[from]
	j, ok2 := s.index[to]
	if !ok1 || !ok2 || j <= i+1 {
		return nil
	}
	out := make([]Visit, j-i-1)
	copy(out, s.visits[i+1:j])
	return out
}

// Provider resolves schedule definitions. It is passed explicitly to the
// engine rather than looked up from package state.
type Provider interface {
	Schedule(visitScheduleName, scheduleName string) (*Schedule, error)
}

type Registry struct {
	schedules map[string]*Schedule
}

func registryKey(visitScheduleName, scheduleName string) string {
	return visitScheduleName + "." + scheduleName
}

func NewRegistry(schedules ...*Schedule) (*Registry, error) {
	r := &Registry{schedules: make(map[string]*Schedule, len(schedules))}
	for _, s := range schedules {
		key := registryKey(s.VisitScheduleName, s.Name)
		if _, dup := r.schedules[key]; dup {
			return nil, &config.ConfigurationError{Field: key, Reason: "schedule defined twice"}
		}
		r.schedules[key] = s
	}
	return r, nil
}

func (r *Registry) Schedule(visitScheduleName, scheduleName string) (*Schedule, error) {
	s, ok := r.schedules[registryKey(visitScheduleName, scheduleName)]
	if !ok {
		return nil, &config.ConfigurationError{
			Field:  "visit_schedule",
			Reason: fmt.Sprintf("unknown schedule %s", registryKey(visitScheduleName, scheduleName)),
		}
	}
	return s, nil
}

// All returns every registered schedule, ordered by key.
func (r *Registry) All() []*Schedule {
	keys := make([]string, 0, len(r.schedules))
	for k := range r.schedules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Schedule, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.schedules[k])
	}
	return out
}
