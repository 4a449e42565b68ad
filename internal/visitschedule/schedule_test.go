package visitschedule

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
)

const sampleYAML = `
facilities:
  - name: clinic
    timezone: UTC
    days: {monday: 0, tuesday: 0, wednesday: 0, thursday: 0, friday: 0}
    holidays:
      - {date: "2025-01-01", name: New Year}
visit_schedules:
  - name: visit_schedule1
    schedules:
      - name: schedule1
        visits:
          - {code: "1010", title: Week 1, timepoint: "1", rbase_days: 7, rlower_days: -2, rupper_days: 3, facility: clinic, allow_unscheduled: true, crfs: [vitals]}
          - {code: "1000", title: Baseline, timepoint: "0", rbase_days: 0, facility: clinic, allow_unscheduled: true, crfs: [enrolment]}
          - {code: "1020", title: Week 2, timepoint: "2", rbase_days: 14, rlower_days: -2, rupper_days: 3, facility: clinic}
`

func TestLoad_SortsVisitsByTimepoint(t *testing.T) {
	schedules, facilities, err := Load(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	s, err := schedules.Schedule("visit_schedule1", "schedule1")
	require.NoError(t, err)

	var codes []string
	for _, v := range s.Visits() {
		codes = append(codes, v.Code)
	}
	assert.Equal(t, []string{"1000", "1010", "1020"}, codes)
	assert.Equal(t, "1000", s.First().Code)

	next, ok := s.Next("1000")
	require.True(t, ok)
	assert.Equal(t, "1010", next.Code)
	_, ok = s.Next("1020")
	assert.False(t, ok)

	prev, ok := s.Previous("1020")
	require.True(t, ok)
	assert.Equal(t, "1010", prev.Code)

	f, err := facilities.Facility("clinic")
	require.NoError(t, err)
	assert.True(t, f.Holidays.Contains("2025-01-01"))
}

func TestVisitWindow(t *testing.T) {
	anchor := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	v := Visit{Code: "1010", Timepoint: decimal.NewFromInt(1), RBaseDays: 7, RLowerDays: -2, RUpperDays: 3}

	lower, upper := v.Window(anchor)
	assert.Equal(t, time.Date(2025, 3, 8, 8, 0, 0, 0, time.UTC), lower)
	assert.Equal(t, time.Date(2025, 3, 13, 8, 0, 0, 0, time.UTC), upper)
	assert.Equal(t, time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), v.IdealDatetime(anchor))
}

func TestBetween(t *testing.T) {
	schedules, _, err := Load(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	s, _ := schedules.Schedule("visit_schedule1", "schedule1")

	between := s.Between("1000", "1020")
	require.Len(t, between, 1)
	assert.Equal(t, "1010", between[0].Code)
	assert.Empty(t, s.Between("1000", "1010"))
}

func TestNewSchedule_Validation(t *testing.T) {
	base := Visit{Code: "1000", Timepoint: decimal.Zero, Facility: "clinic"}

	cases := map[string][]Visit{
		"duplicate code":      {base, {Code: "1000", Timepoint: decimal.NewFromInt(1), Facility: "clinic"}},
		"duplicate timepoint": {base, {Code: "1010", Timepoint: decimal.Zero, Facility: "clinic"}},
		"positive rlower":     {{Code: "1000", Timepoint: decimal.Zero, RLowerDays: 1, Facility: "clinic"}},
		"negative rupper":     {{Code: "1000", Timepoint: decimal.Zero, RUpperDays: -1, Facility: "clinic"}},
		"missing facility":    {{Code: "1000", Timepoint: decimal.Zero}},
		"rbase backwards":     {{Code: "1000", Timepoint: decimal.Zero, RBaseDays: 7, Facility: "clinic"}, {Code: "1010", Timepoint: decimal.NewFromInt(1), Facility: "clinic"}},
		"no visits":           nil,
	}

	for name, visits := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSchedule("vs", "s", visits)
			assert.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}

func TestLoad_UnknownFacility(t *testing.T) {
	doc := `
facilities: []
visit_schedules:
  - name: vs
    schedules:
      - name: s
        visits:
          - {code: "1000", timepoint: "0", facility: ghost}
`
	_, _, err := Load(strings.NewReader(doc))
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestRegistry_UnknownSchedule(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.Schedule("vs", "missing")
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestLoadFile_ShippedConfig(t *testing.T) {
	schedules, facilities, err := LoadFile("../../schedules.yaml")
	require.NoError(t, err)

	s, err := schedules.Schedule("visit_schedule1", "schedule1")
	require.NoError(t, err)
	assert.Equal(t, "1000", s.First().Code)

	clinic, err := facilities.Facility("clinic")
	require.NoError(t, err)
	assert.True(t, clinic.IsHoliday(time.Date(2025, 12, 25, 12, 0, 0, 0, clinic.Location)))
	assert.False(t, clinic.IsOpen(time.Date(2025, 12, 27, 12, 0, 0, 0, clinic.Location)))
}

func TestLoadFile_Missing(t *testing.T) {
	_, _, err := LoadFile("does-not-exist.yaml")
	assert.Error(t, err)
}
