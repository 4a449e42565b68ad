package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/metadata"
)

type EnrollRequest struct {
	SubjectIdentifier string    `json:"subject_identifier"`
	VisitScheduleName string    `json:"visit_schedule_name"`
	ScheduleName      string    `json:"schedule_name"`
	AnchorDatetime    time.Time `json:"anchor_datetime"`
}

type UnscheduledRequest struct {
	SuggestedDatetime time.Time `json:"suggested_datetime"`
}

type ChangeDatetimeRequest struct {
	ApptDatetime time.Time `json:"appt_datetime"`
}

type SkipRequest struct {
	NextVisitCode    string    `json:"next_visit_code"`
	NextApptDatetime time.Time `json:"next_appt_datetime"`
}

type VisitReportRequest struct {
	Reason         string    `json:"reason"`
	ReportDatetime time.Time `json:"report_datetime"`
}

type FormEntryRequest struct {
	EntryStatus string `json:"entry_status"`
}

type FormEntryResponse struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	EntryStatus string `json:"entry_status"`
}

type AppointmentResponse struct {
	ID                uuid.UUID       `json:"id"`
	SubjectIdentifier string          `json:"subject_identifier"`
	VisitScheduleName string          `json:"visit_schedule_name"`
	ScheduleName      string          `json:"schedule_name"`
	VisitCode         string          `json:"visit_code"`
	VisitCodeSequence int             `json:"visit_code_sequence"`
	Timepoint         decimal.Decimal `json:"timepoint"`
	TimepointDatetime time.Time       `json:"timepoint_datetime"`
	ApptDatetime      time.Time       `json:"appt_datetime"`
	FacilityName      string          `json:"facility_name"`
	Status            string          `json:"appt_status"`
	Type              string          `json:"appt_type"`
	Reason            string          `json:"appt_reason"`
	Timing            string          `json:"appt_timing"`
}

type CascadeResponse struct {
	ID    uuid.UUID `json:"id"`
	Label string    `json:"label"`
	From  string    `json:"from"`
	To    string    `json:"to"`
}

type TransitionResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	From        string              `json:"from"`
	Cascaded    []CascadeResponse   `json:"cascaded,omitempty"`
}

type DateChangeResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Reverted    bool                `json:"reverted"`
	Rejection   string              `json:"rejection,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Lower   string `json:"lower,omitempty"`
	Upper   string `json:"upper,omitempty"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		SubjectIdentifier: a.SubjectIdentifier,
		VisitScheduleName: a.VisitScheduleName,
		ScheduleName:      a.ScheduleName,
		VisitCode:         a.VisitCode,
		VisitCodeSequence: a.VisitCodeSequence,
		Timepoint:         a.Timepoint,
		TimepointDatetime: a.TimepointDatetime,
		ApptDatetime:      a.ApptDatetime,
		FacilityName:      a.FacilityName,
		Status:            string(a.Status),
		Type:              string(a.Type),
		Reason:            string(a.Reason),
		Timing:            string(a.Timing),
	}
}

func toResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toResponse(&appts[i]))
	}
	return out
}

func toTransition(tr *appointment.Transition) TransitionResponse {
	resp := TransitionResponse{Appointment: toResponse(tr.Appointment), From: string(tr.From)}
	for _, c := range tr.Cascaded {
		resp.Cascaded = append(resp.Cascaded, CascadeResponse{ID: c.ID, Label: c.Label, From: string(c.From), To: string(c.To)})
	}
	return resp
}

func toFormEntries(entries []metadata.FormEntry) []FormEntryResponse {
	out := make([]FormEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, FormEntryResponse{Name: e.Name, Kind: string(e.Kind), EntryStatus: string(e.Status)})
	}
	return out
}
