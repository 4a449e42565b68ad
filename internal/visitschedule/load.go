package visitschedule

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/facility"
)

type document struct {
	Facilities     []facilityDoc      `yaml:"facilities"`
	VisitSchedules []visitScheduleDoc `yaml:"visit_schedules"`
}

type facilityDoc struct {
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Days     map[string]int `yaml:"days"`
	Holidays []holidayDoc   `yaml:"holidays"`
}

type holidayDoc struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

type visitScheduleDoc struct {
	Name      string        `yaml:"name"`
	Schedules []scheduleDoc `yaml:"schedules"`
}

type scheduleDoc struct {
	Name   string     `yaml:"name"`
	Visits []visitDoc `yaml:"visits"`
}

type visitDoc struct {
	Code             string   `yaml:"code"`
	Title            string   `yaml:"title"`
	Timepoint        string   `yaml:"timepoint"`
	RBaseDays        int      `yaml:"rbase_days"`
	RLowerDays       int      `yaml:"rlower_days"`
	RUpperDays       int      `yaml:"rupper_days"`
	Facility         string   `yaml:"facility"`
	AllowUnscheduled bool     `yaml:"allow_unscheduled"`
	CRFs             []string `yaml:"crfs"`
	Requisitions     []string `yaml:"requisitions"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadFile reads facilities and visit schedules from a YAML file.
func LoadFile(path string) (*Registry, *facility.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open schedule config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Registry, *facility.Registry, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode schedule config: %w", err)
	}

	facilities := make([]*facility.Facility, 0, len(doc.Facilities))
	for _, fd := range doc.Facilities {
		f, err := fd.build()
		if err != nil {
			return nil, nil, err
		}
		facilities = append(facilities, f)
	}
	facilityRegistry, err := facility.NewRegistry(facilities...)
	if err != nil {
		return nil, nil, err
	}

	var schedules []*Schedule
	for _, vsd := range doc.VisitSchedules {
		for _, sd := range vsd.Schedules {
			visits := make([]Visit, 0, len(sd.Visits))
			for _, vd := range sd.Visits {
				v, err := vd.build()
				if err != nil {
					return nil, nil, err
				}
				if _, err := facilityRegistry.Facility(v.Facility); err != nil {
					return nil, nil, &config.ConfigurationError{
						Field:  vsd.Name + "." + sd.Name + "." + v.Code,
						Reason: fmt.Sprintf("references unknown facility %q", v.Facility),
					}
				}
				visits = append(visits, v)
			}
			s, err := NewSchedule(vsd.Name, sd.Name, visits)
			if err != nil {
				return nil, nil, err
			}
			schedules = append(schedules, s)
		}
	}

	registry, err := NewRegistry(schedules...)
	if err != nil {
		return nil, nil, err
	}
	return registry, facilityRegistry, nil
}

func (fd facilityDoc) build() (*facility.Facility, error) {
	loc := time.UTC
	if fd.Timezone != "" {
		l, err := time.LoadLocation(fd.Timezone)
		if err != nil {
			return nil, &config.ConfigurationError{Field: "facility." + fd.Name + ".timezone", Reason: err.Error()}
		}
		loc = l
	}

	slots := make(map[time.Weekday]int, len(fd.Days))
	for name, capacity := range fd.Days {
		wd, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return nil, &config.ConfigurationError{Field: "facility." + fd.Name + ".days", Reason: "unknown weekday " + name}
		}
		slots[wd] = capacity
	}

	holidays := make(facility.HolidaySet, len(fd.Holidays))
	for _, h := range fd.Holidays {
		day, err := time.ParseInLocation(facility.DayLayout, h.Date, loc)
		if err != nil {
			return nil, &config.ConfigurationError{Field: "facility." + fd.Name + ".holidays", Reason: err.Error()}
		}
		holidays.Add(day, h.Name)
	}

	return &facility.Facility{Name: fd.Name, Location: loc, Slots: slots, Holidays: holidays}, nil
}

func (vd visitDoc) build() (Visit, error) {
	tp, err := decimal.NewFromString(vd.Timepoint)
	if err != nil {
		return Visit{}, &config.ConfigurationError{Field: "visit." + vd.Code + ".timepoint", Reason: err.Error()}
	}
	return Visit{
		Code:             vd.Code,
		Title:            vd.Title,
		Timepoint:        tp,
		RBaseDays:        vd.RBaseDays,
		RLowerDays:       vd.RLowerDays,
		RUpperDays:       vd.RUpperDays,
		Facility:         vd.Facility,
		AllowUnscheduled: vd.AllowUnscheduled,
		CRFs:             vd.CRFs,
		Requisitions:     vd.Requisitions,
	}, nil
}
