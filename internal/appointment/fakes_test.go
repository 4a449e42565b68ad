package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/facility"
	redisclient "github.com/hackgods/trial-visit-scheduling/internal/redis"
	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

// memRepo is an in-memory Repository and TxRunner. A transaction snapshots
// both maps and restores them if fn fails. It mirrors the database's unique
// keys and its single in-progress index.
type memRepo struct {
	mu          sync.Mutex
	appts       map[uuid.UUID]Appointment
	enrollments map[Scope]Enrollment

	// failUpdateSequence makes the nth UpdateSequence call fail.
	failUpdateSequence int
	updateSequenceHits int
}

func newMemRepo() *memRepo {
	return &memRepo{
		appts:       make(map[uuid.UUID]Appointment),
		enrollments: make(map[Scope]Enrollment),
	}
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	appts := make(map[uuid.UUID]Appointment, len(r.appts))
	for k, v := range r.appts {
		appts[k] = v
	}
	enrollments := make(map[Scope]Enrollment, len(r.enrollments))
	for k, v := range r.enrollments {
		enrollments[k] = v
	}
	r.mu.Unlock()

	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.appts, r.enrollments = appts, enrollments
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) Find(_ context.Context, key Key) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.Key() == key {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) List(_ context.Context, scope Scope, order Order) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Scope() == scope {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if order == OrderByApptDatetime && !out[i].ApptDatetime.Equal(out[j].ApptDatetime) {
			return out[i].ApptDatetime.Before(out[j].ApptDatetime)
		}
		if !out[i].Timepoint.Equal(out[j].Timepoint) {
			return out[i].Timepoint.LessThan(out[j].Timepoint)
		}
		return out[i].VisitCodeSequence < out[j].VisitCodeSequence
	})
	return out, nil
}

func (r *memRepo) ListVisitCode(ctx context.Context, scope Scope, visitCode string) ([]Appointment, error) {
	all, _ := r.List(ctx, scope, OrderByTimepoint)
	var out []Appointment
	for _, a := range all {
		if a.VisitCode == visitCode {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.appts {
		if other.Key() == a.Key() {
			return ErrDuplicateAppointment
		}
		if other.Scope() == a.Scope() && other.Timepoint.Equal(a.Timepoint) && other.VisitCodeSequence == a.VisitCodeSequence {
			return ErrDuplicateAppointment
		}
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.appts[a.ID] = *a
	return nil
}

func (r *memRepo) Save(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	cur.TimepointDatetime = a.TimepointDatetime
	cur.ApptDatetime = a.ApptDatetime
	cur.FacilityName = a.FacilityName
	cur.Status = a.Status
	cur.Type = a.Type
	cur.TypeBeforeSkip = a.TypeBeforeSkip
	cur.Timing = a.Timing
	cur.UpdatedAt = time.Now()
	r.appts[a.ID] = cur
	return nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appts[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if status == StatusInProgress {
		for _, other := range r.appts {
			if other.ID != id && other.Scope() == cur.Scope() && other.Status == StatusInProgress {
				return ErrDuplicateAppointment
			}
		}
	}
	if cur.Status == StatusSkipped && status != StatusSkipped {
		cur.Type = cur.RestoredType()
		cur.TypeBeforeSkip = ""
	}
	cur.Status = status
	r.appts[id] = cur
	return nil
}

func (r *memRepo) UpdateSequence(_ context.Context, id uuid.UUID, sequence int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateSequenceHits++
	if r.failUpdateSequence > 0 && r.updateSequenceHits == r.failUpdateSequence {
		return errors.New("storage unavailable")
	}
	cur, ok := r.appts[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	cur.VisitCodeSequence = sequence
	for _, other := range r.appts {
		if other.ID != id && other.Key() == cur.Key() {
			return ErrDuplicateAppointment
		}
	}
	r.appts[id] = cur
	return nil
}

func (r *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appts, id)
	return nil
}

func (r *memRepo) CountBooked(_ context.Context, facilityName string, from, to time.Time, loc *time.Location) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var datetimes []time.Time
	for _, a := range r.appts {
		if a.FacilityName != facilityName || a.Status == StatusCancelled || a.Status == StatusSkipped {
			continue
		}
		if a.ApptDatetime.Before(from) || !a.ApptDatetime.Before(to) {
			continue
		}
		datetimes = append(datetimes, a.ApptDatetime)
	}
	return countByDay(datetimes, loc), nil
}

func (r *memRepo) GetEnrollment(_ context.Context, scope Scope) (*Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[scope]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	return &e, nil
}

func (r *memRepo) SaveEnrollment(_ context.Context, e *Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrollments[e.Scope] = *e
	return nil
}

func (r *memRepo) ListEnrollments(_ context.Context) ([]Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Enrollment
	for _, e := range r.enrollments {
		out = append(out, e)
	}
	return out, nil
}

// all returns a snapshot of every stored appointment.
func (r *memRepo) all() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0, len(r.appts))
	for _, a := range r.appts {
		out = append(out, a)
	}
	return out
}

// fakeMetadata answers completion questions from maps keyed by appointment id.
type fakeMetadata struct {
	mu      sync.Mutex
	reports map[uuid.UUID]bool
	unkeyed map[uuid.UUID]bool
	noData  map[uuid.UUID]bool
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		reports: make(map[uuid.UUID]bool),
		unkeyed: make(map[uuid.UUID]bool),
		noData:  make(map[uuid.UUID]bool),
	}
}

func (m *fakeMetadata) report(id uuid.UUID, unkeyed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[id] = true
	m.unkeyed[id] = unkeyed
}

func (m *fakeMetadata) HasVisitReport(_ context.Context, a *Appointment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[a.ID], nil
}

func (m *fakeMetadata) RequiredFormsUnkeyed(_ context.Context, a *Appointment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unkeyed[a.ID], nil
}

func (m *fakeMetadata) CollectsData(_ context.Context, a *Appointment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.noData[a.ID], nil
}

const (
	testVisitSchedule = "visit_schedule1"
	testSchedule      = "schedule1"
	testFacility      = "clinic"
)

// 2025-01-06 is a Monday.
var testAnchor = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func weekdays() map[time.Weekday]int {
	return map[time.Weekday]int{
		time.Monday: 0, time.Tuesday: 0, time.Wednesday: 0, time.Thursday: 0, time.Friday: 0,
	}
}

func testVisits() []visitschedule.Visit {
	return []visitschedule.Visit{
		{Code: "1000", Timepoint: decimal.NewFromInt(0), RBaseDays: 0, RLowerDays: 0, RUpperDays: 0, Facility: testFacility, AllowUnscheduled: true, CRFs: []string{"vitals"}},
		{Code: "2000", Timepoint: decimal.NewFromInt(1), RBaseDays: 7, RLowerDays: -2, RUpperDays: 2, Facility: testFacility, AllowUnscheduled: true, CRFs: []string{"vitals"}},
		{Code: "3000", Timepoint: decimal.NewFromInt(2), RBaseDays: 14, RLowerDays: -2, RUpperDays: 2, Facility: testFacility, CRFs: []string{"vitals"}},
		{Code: "4000", Timepoint: decimal.NewFromInt(3), RBaseDays: 28, RLowerDays: -3, RUpperDays: 3, Facility: testFacility, CRFs: []string{"vitals"}},
	}
}

type harness struct {
	svc  *Service
	repo *memRepo
	meta *fakeMetadata
}

func newHarness(t *testing.T, holidays ...time.Time) *harness {
	t.Helper()
	return newHarnessWithSlots(t, weekdays(), holidays...)
}

// newHarnessWithSlots builds a harness whose facility has the given
// weekday capacities.
func newHarnessWithSlots(t *testing.T, slots map[time.Weekday]int, holidays ...time.Time) *harness {
	t.Helper()

	schedule, err := visitschedule.NewSchedule(testVisitSchedule, testSchedule, testVisits())
	require.NoError(t, err)
	schedules, err := visitschedule.NewRegistry(schedule)
	require.NoError(t, err)
	facilities, err := facility.NewRegistry(&facility.Facility{
		Name:     testFacility,
		Location: time.UTC,
		Slots:    slots,
		Holidays: facility.NewHolidaySet(holidays...),
	})
	require.NoError(t, err)

	repo := newMemRepo()
	meta := newFakeMetadata()
	svc := NewService(Dependencies{
		Repo:       repo,
		Tx:         repo,
		Locker:     redisclient.NewLocalLocker(),
		Metadata:   meta,
		Schedules:  schedules,
		Facilities: facilities,
		Logger:     zerolog.Nop(),
	}, config.Config{CalendarHorizonDays: 30, CalendarTrackCapacity: true})

	return &harness{svc: svc, repo: repo, meta: meta}
}

func newScope() Scope {
	return Scope{
		SubjectIdentifier: gofakeit.Numerify("S-###-####"),
		VisitScheduleName: testVisitSchedule,
		ScheduleName:      testSchedule,
	}
}

// enroll creates the canonical schedule and returns it keyed by visit code.
func (h *harness) enroll(t *testing.T, scope Scope) map[string]Appointment {
	t.Helper()
	appts, err := h.svc.CreateSchedule(context.Background(), scope, testAnchor)
	require.NoError(t, err)
	byCode := make(map[string]Appointment, len(appts))
	for _, a := range appts {
		byCode[a.VisitCode] = a
	}
	return byCode
}

func (h *harness) get(t *testing.T, id uuid.UUID) *Appointment {
	t.Helper()
	a, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

// setStatus writes a status directly, as the data-collection side would
// after the visit.
func (h *harness) setStatus(t *testing.T, id uuid.UUID, status Status) {
	t.Helper()
	require.NoError(t, h.repo.UpdateStatus(context.Background(), id, status))
}

func (h *harness) sequences(t *testing.T, scope Scope, visitCode string) map[int]uuid.UUID {
	t.Helper()
	appts, err := h.repo.ListVisitCode(context.Background(), scope, visitCode)
	require.NoError(t, err)
	out := make(map[int]uuid.UUID, len(appts))
	for _, a := range appts {
		out[a.VisitCodeSequence] = a.ID
	}
	return out
}
