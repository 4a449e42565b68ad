package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/metadata"
	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

// fakeService embeds the interface so each test only stubs what it calls.
type fakeService struct {
	AppointmentService

	createSchedule    func(scope appointment.Scope, anchor time.Time) ([]appointment.Appointment, error)
	get               func(id uuid.UUID) (*appointment.Appointment, error)
	list              func(scope appointment.Scope, order appointment.Order) ([]appointment.Appointment, error)
	createUnscheduled func(id uuid.UUID, suggested time.Time) (*appointment.Appointment, error)
	changeDatetime    func(id uuid.UUID, proposed time.Time) (*appointment.Appointment, appointment.DateChange, error)
	start             func(id uuid.UUID) (*appointment.Transition, error)
	refresh           func(id uuid.UUID) (*appointment.Transition, error)
	deleteAppt        func(id uuid.UUID) ([]appointment.Appointment, error)
}

func (f *fakeService) CreateSchedule(_ context.Context, scope appointment.Scope, anchor time.Time) ([]appointment.Appointment, error) {
	return f.createSchedule(scope, anchor)
}

func (f *fakeService) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return f.get(id)
}

func (f *fakeService) ListAppointments(_ context.Context, scope appointment.Scope, order appointment.Order) ([]appointment.Appointment, error) {
	return f.list(scope, order)
}

func (f *fakeService) VisitOf(a *appointment.Appointment) (visitschedule.Visit, error) {
	return visitschedule.Visit{Code: a.VisitCode, CRFs: []string{"vitals"}, Requisitions: []string{"cbc"}}, nil
}

func (f *fakeService) CreateUnscheduled(_ context.Context, id uuid.UUID, suggested time.Time) (*appointment.Appointment, error) {
	return f.createUnscheduled(id, suggested)
}

func (f *fakeService) ChangeApptDatetime(_ context.Context, id uuid.UUID, proposed time.Time) (*appointment.Appointment, appointment.DateChange, error) {
	return f.changeDatetime(id, proposed)
}

func (f *fakeService) Start(_ context.Context, id uuid.UUID) (*appointment.Transition, error) {
	return f.start(id)
}

func (f *fakeService) RefreshStatus(_ context.Context, id uuid.UUID) (*appointment.Transition, error) {
	return f.refresh(id)
}

func (f *fakeService) DeleteAppointment(_ context.Context, id uuid.UUID) ([]appointment.Appointment, error) {
	return f.deleteAppt(id)
}

type fakeMetadata struct {
	reports []metadata.VisitReport
	seeded  map[uuid.UUID][]string
	entries []metadata.FormEntry
}

func (m *fakeMetadata) SaveVisitReport(_ context.Context, r *metadata.VisitReport) error {
	m.reports = append(m.reports, *r)
	return nil
}

func (m *fakeMetadata) DeleteVisitReport(_ context.Context, id uuid.UUID) error {
	return metadata.ErrVisitReportNotFound
}

func (m *fakeMetadata) SeedRequiredForms(_ context.Context, id uuid.UUID, crfs, requisitions []string) error {
	if m.seeded == nil {
		m.seeded = make(map[uuid.UUID][]string)
	}
	m.seeded[id] = append(append([]string{}, crfs...), requisitions...)
	return nil
}

func (m *fakeMetadata) SaveFormEntry(_ context.Context, e metadata.FormEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *fakeMetadata) ListFormEntries(_ context.Context, id uuid.UUID) ([]metadata.FormEntry, error) {
	var out []metadata.FormEntry
	for _, e := range m.entries {
		if e.AppointmentID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

func sampleAppointment() *appointment.Appointment {
	at := time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC)
	return &appointment.Appointment{
		ID:                uuid.New(),
		SubjectIdentifier: "S-001",
		VisitScheduleName: "vs1",
		ScheduleName:      "s1",
		VisitCode:         "2000",
		Timepoint:         decimal.RequireFromString("1.0"),
		TimepointDatetime: at,
		ApptDatetime:      at,
		FacilityName:      "clinic",
		Status:            appointment.StatusNew,
		Type:              appointment.TypeClinic,
		Reason:            appointment.ReasonScheduled,
		Timing:            appointment.TimingOnTime,
	}
}

func newTestRouter(svc AppointmentService, meta MetadataWriter) http.Handler {
	return NewRouter(RouterConfig{
		Service:  svc,
		Metadata: meta,
		Postgres: okPinger{},
		Logger:   zerolog.Nop(),
		Env:      "test",
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestEnroll(t *testing.T) {
	a := sampleAppointment()
	svc := &fakeService{createSchedule: func(scope appointment.Scope, anchor time.Time) ([]appointment.Appointment, error) {
		assert.Equal(t, "S-001", scope.SubjectIdentifier)
		assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), anchor.UTC())
		return []appointment.Appointment{*a}, nil
	}}

	rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/enrollments",
		`{"subject_identifier":"S-001","visit_schedule_name":"vs1","schedule_name":"s1","anchor_datetime":"2025-01-06T09:00:00Z"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	got := decodeBody[[]AppointmentResponse](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.True(t, got[0].Timepoint.Equal(decimal.NewFromInt(1)))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestEnroll_BadRequests(t *testing.T) {
	h := newTestRouter(&fakeService{}, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/enrollments", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/enrollments", `{"subject_identifier":"S-001"}`).Code)
}

func TestList_Order(t *testing.T) {
	var gotOrder appointment.Order
	svc := &fakeService{list: func(scope appointment.Scope, order appointment.Order) ([]appointment.Appointment, error) {
		assert.Equal(t, appointment.Scope{SubjectIdentifier: "S-001", VisitScheduleName: "vs1", ScheduleName: "s1"}, scope)
		gotOrder = order
		return nil, nil
	}}
	h := newTestRouter(svc, nil)

	rec := do(t, h, http.MethodGet, "/subjects/S-001/schedules/vs1/s1/appointments?order=appt_datetime", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.OrderByApptDatetime, gotOrder)

	rec = do(t, h, http.MethodGet, "/subjects/S-001/schedules/vs1/s1/appointments?order=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet_InvalidAndMissing(t *testing.T) {
	svc := &fakeService{get: func(id uuid.UUID) (*appointment.Appointment, error) {
		return nil, fmt.Errorf("get appointment: %w", appointment.ErrAppointmentNotFound)
	}}
	h := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/appointments/not-a-uuid", "").Code)

	rec := do(t, h, http.MethodGet, "/appointments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeBody[ErrorResponse](t, rec).Error)
}

func TestErrorMapping(t *testing.T) {
	lower := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	upper := time.Date(2025, 1, 11, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&appointment.UnscheduledWindowError{VisitCode: "1000", Lower: lower, Upper: upper}, http.StatusUnprocessableEntity, "unscheduled_window"},
		{&appointment.ScheduledWindowError{VisitCode: "1000", Lower: lower, Upper: upper}, http.StatusUnprocessableEntity, "scheduled_window"},
		{&appointment.InvalidParentAppointmentMissingVisitError{VisitCode: "1000"}, http.StatusConflict, "parent_missing_visit_report"},
		{&appointment.InvalidParentAppointmentStatusError{VisitCode: "1000", Status: appointment.StatusNew}, http.StatusConflict, "invalid_parent_status"},
		{&appointment.UnscheduledAppointmentNotAllowed{VisitCode: "1000"}, http.StatusConflict, "unscheduled_not_allowed"},
		{&appointment.SequenceError{VisitCode: "1000", Expected: 2, Got: 3}, http.StatusConflict, "sequence_error"},
		{appointment.ErrSubjectBusy, http.StatusConflict, "subject_busy"},
		{&config.ConfigurationError{Field: "suggested_datetime", Reason: "datetime is not set"}, http.StatusUnprocessableEntity, "configuration_error"},
		{&appointment.StatusConsistencyError{Label: "1000.0", Status: "x"}, http.StatusInternalServerError, "status_consistency_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &fakeService{createUnscheduled: func(uuid.UUID, time.Time) (*appointment.Appointment, error) {
				return nil, tc.err
			}}
			rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/appointments/"+uuid.NewString()+"/unscheduled",
				`{"suggested_datetime":"2025-01-09T09:00:00Z"}`)

			assert.Equal(t, tc.status, rec.Code)
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tc.code, resp.Error)
			if tc.status == http.StatusUnprocessableEntity && tc.code != "configuration_error" {
				assert.Equal(t, "2025-01-06T09:00:00Z", resp.Lower)
				assert.Equal(t, "2025-01-11T09:00:00Z", resp.Upper)
			}
		})
	}
}

func TestChangeDatetime_Reverted(t *testing.T) {
	a := sampleAppointment()
	svc := &fakeService{changeDatetime: func(id uuid.UUID, proposed time.Time) (*appointment.Appointment, appointment.DateChange, error) {
		return a, appointment.DateChange{
			ApptDatetime: a.ApptDatetime,
			Reverted:     true,
			Rejection:    &appointment.ScheduledWindowError{VisitCode: "2000"},
		}, nil
	}}

	rec := do(t, newTestRouter(svc, nil), http.MethodPatch, "/appointments/"+a.ID.String()+"/appt-datetime",
		`{"appt_datetime":"2025-02-01T09:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[DateChangeResponse](t, rec)
	assert.True(t, resp.Reverted)
	assert.Contains(t, resp.Rejection, "2000")
	assert.Equal(t, a.ApptDatetime, resp.Appointment.ApptDatetime)
}

func TestStart_ReportsCascade(t *testing.T) {
	a := sampleAppointment()
	sibling := uuid.New()
	svc := &fakeService{start: func(id uuid.UUID) (*appointment.Transition, error) {
		started := *a
		started.Status = appointment.StatusInProgress
		return &appointment.Transition{
			Appointment: &started,
			From:        appointment.StatusNew,
			Cascaded:    []appointment.CascadeChange{{ID: sibling, Label: "1000.0", From: appointment.StatusInProgress, To: appointment.StatusComplete}},
		}, nil
	}}

	rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/appointments/"+a.ID.String()+"/start", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[TransitionResponse](t, rec)
	assert.Equal(t, "in_progress", resp.Appointment.Status)
	require.Len(t, resp.Cascaded, 1)
	assert.Equal(t, "complete", resp.Cascaded[0].To)
}

func TestDelete_ReturnsResequenced(t *testing.T) {
	a := sampleAppointment()
	a.VisitCodeSequence = 1
	svc := &fakeService{deleteAppt: func(id uuid.UUID) ([]appointment.Appointment, error) {
		return []appointment.Appointment{*a}, nil
	}}

	rec := do(t, newTestRouter(svc, nil), http.MethodDelete, "/appointments/"+uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"resequenced"`)
}

func TestSaveVisitReport_SeedsFormsAndRefreshes(t *testing.T) {
	a := sampleAppointment()
	refreshed := false
	svc := &fakeService{
		get: func(uuid.UUID) (*appointment.Appointment, error) { return a, nil },
		refresh: func(id uuid.UUID) (*appointment.Transition, error) {
			refreshed = true
			return &appointment.Transition{Appointment: a, From: appointment.StatusNew}, nil
		},
	}
	meta := &fakeMetadata{}

	rec := do(t, newTestRouter(svc, meta), http.MethodPut, "/appointments/"+a.ID.String()+"/visit-report",
		`{"reason":"scheduled","report_datetime":"2025-01-13T10:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, refreshed)
	require.Len(t, meta.reports, 1)
	assert.Equal(t, "scheduled", meta.reports[0].Reason)
	assert.Equal(t, []string{"vitals", "cbc"}, meta.seeded[a.ID])
}

func TestDeleteVisitReport_NotFound(t *testing.T) {
	rec := do(t, newTestRouter(&fakeService{}, &fakeMetadata{}), http.MethodDelete, "/appointments/"+uuid.NewString()+"/visit-report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveFormEntry_Validates(t *testing.T) {
	a := sampleAppointment()
	svc := &fakeService{refresh: func(uuid.UUID) (*appointment.Transition, error) {
		return &appointment.Transition{Appointment: a, From: a.Status}, nil
	}}
	meta := &fakeMetadata{}
	h := newTestRouter(svc, meta)

	rec := do(t, h, http.MethodPut, "/appointments/"+a.ID.String()+"/forms/crf/vitals", `{"entry_status":"keyed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, meta.entries, 1)
	assert.Equal(t, metadata.EntryKeyed, meta.entries[0].Status)

	rec = do(t, h, http.MethodPut, "/appointments/"+a.ID.String()+"/forms/lab/vitals", `{"entry_status":"keyed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFormEntries(t *testing.T) {
	a := sampleAppointment()
	svc := &fakeService{get: func(id uuid.UUID) (*appointment.Appointment, error) {
		if id == a.ID {
			return a, nil
		}
		return nil, appointment.ErrAppointmentNotFound
	}}
	meta := &fakeMetadata{entries: []metadata.FormEntry{
		{AppointmentID: a.ID, Name: "vitals", Kind: metadata.FormCRF, Status: metadata.EntryRequired},
		{AppointmentID: uuid.New(), Name: "cbc", Kind: metadata.FormRequisition, Status: metadata.EntryKeyed},
	}}
	h := newTestRouter(svc, meta)

	rec := do(t, h, http.MethodGet, "/appointments/"+a.ID.String()+"/forms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]FormEntryResponse](t, rec)
	assert.Equal(t, []FormEntryResponse{{Name: "vitals", Kind: "crf", EntryStatus: "required"}}, entries)

	rec = do(t, h, http.MethodGet, "/appointments/"+uuid.NewString()+"/forms", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := NewRouter(RouterConfig{Postgres: okPinger{}, Redis: okPinger{err: errors.New("down")}, Logger: zerolog.Nop()})

	rec := do(t, h, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["redis"])

	h = NewRouter(RouterConfig{Postgres: okPinger{err: errors.New("down")}, Logger: zerolog.Nop()})
	rec = do(t, h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/live", "").Code)
}
