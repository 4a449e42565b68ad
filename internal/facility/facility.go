package facility

import (
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
)

// DayLayout keys civil dates in holiday sets and booking counts.
const DayLayout = "2006-01-02"

// Facility is a schedule-agnostic site where visits happen. Slots maps each
// open weekday to its daily capacity; a capacity of 0 means unlimited.
type Facility struct {
	Name     string
	Location *time.Location
	Slots    map[time.Weekday]int
	Holidays HolidaySet
}

// HolidaySet holds civil dates (DayLayout) on which no facility is open.
type HolidaySet map[string]string

func NewHolidaySet(days ...time.Time) HolidaySet {
	hs := make(HolidaySet, len(days))
	for _, d := range days {
		hs[d.Format(DayLayout)] = ""
	}
	return hs
}

func (h HolidaySet) Add(day time.Time, name string) {
	h[day.Format(DayLayout)] = name
}

func (h HolidaySet) Contains(day string) bool {
	_, ok := h[day]
	return ok
}

func (f *Facility) location() *time.Location {
	if f.Location == nil {
		return time.UTC
	}
	return f.Location
}

// Day returns the civil date of t as seen from the facility.
func (f *Facility) Day(t time.Time) string {
	return t.In(f.location()).Format(DayLayout)
}

func (f *Facility) IsOpen(t time.Time) bool {
	_, ok := f.Slots[t.In(f.location()).Weekday()]
	return ok
}

func (f *Facility) Capacity(t time.Time) int {
	return f.Slots[t.In(f.location()).Weekday()]
}

func (f *Facility) IsHoliday(t time.Time) bool {
	return f.Holidays.Contains(f.Day(t))
}

// OpenDays lists open weekdays in Sunday-first order.
func (f *Facility) OpenDays() []time.Weekday {
	days := make([]time.Weekday, 0, len(f.Slots))
	for d := range f.Slots {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

func (f *Facility) Validate() error {
	if f.Name == "" {
		return &config.ConfigurationError{Field: "facility.name", Reason: "is required"}
	}
	if len(f.Slots) == 0 {
		return &config.ConfigurationError{Field: "facility." + f.Name, Reason: "has no open weekdays"}
	}
	for d, c := range f.Slots {
		if c < 0 {
			return &config.ConfigurationError{
				Field:  "facility." + f.Name,
				Reason: fmt.Sprintf("negative capacity %d on %s", c, d),
			}
		}
	}
	return nil
}

// Provider resolves facilities by name.
type Provider interface {
	Facility(name string) (*Facility, error)
}

// Registry is an immutable, name-keyed set of facilities.
type Registry struct {
	facilities map[string]*Facility
}

func NewRegistry(facilities ...*Facility) (*Registry, error) {
	r := &Registry{facilities: make(map[string]*Facility, len(facilities))}
	for _, f := range facilities {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.facilities[f.Name]; dup {
			return nil, &config.ConfigurationError{Field: "facility." + f.Name, Reason: "defined twice"}
		}
		r.facilities[f.Name] = f
	}
	return r, nil
}

func (r *Registry) Facility(name string) (*Facility, error) {
	f, ok := r.facilities[name]
	if !ok {
		return nil, &config.ConfigurationError{Field: "facility", Reason: fmt.Sprintf("unknown facility %q", name)}
	}
	return f, nil
}
