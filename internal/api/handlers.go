package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/metadata"
)

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func enrollHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnrollRequest
		if !decode(w, r, &req) {
			return
		}
		if req.SubjectIdentifier == "" || req.VisitScheduleName == "" || req.ScheduleName == "" {
			writeError(w, http.StatusBadRequest, "invalid_scope", "subject_identifier, visit_schedule_name and schedule_name are required")
			return
		}

		appts, err := svc.CreateSchedule(r.Context(), appointment.Scope{
			SubjectIdentifier: req.SubjectIdentifier,
			VisitScheduleName: req.VisitScheduleName,
			ScheduleName:      req.ScheduleName,
		}, req.AnchorDatetime)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toResponses(appts))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := appointment.Scope{
			SubjectIdentifier: chi.URLParam(r, "subject"),
			VisitScheduleName: chi.URLParam(r, "visitSchedule"),
			ScheduleName:      chi.URLParam(r, "schedule"),
		}

		order := appointment.OrderByTimepoint
		switch r.URL.Query().Get("order") {
		case "", "timepoint":
		case "appt_datetime":
			order = appointment.OrderByApptDatetime
		default:
			writeError(w, http.StatusBadRequest, "invalid_order", "order must be timepoint or appt_datetime")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), scope, order)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponses(appts))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		a, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(a))
	}
}

func createUnscheduledHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req UnscheduledRequest
		if !decode(w, r, &req) {
			return
		}

		a, err := svc.CreateUnscheduled(r.Context(), id, req.SuggestedDatetime)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(a))
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		resequenced, err := svc.DeleteAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resequenced": toResponses(resequenced)})
	}
}

func changeDatetimeHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req ChangeDatetimeRequest
		if !decode(w, r, &req) {
			return
		}

		a, change, err := svc.ChangeApptDatetime(r.Context(), id, req.ApptDatetime)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := DateChangeResponse{Appointment: toResponse(a), Reverted: change.Reverted}
		if change.Rejection != nil {
			resp.Rejection = change.Rejection.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func skipHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req SkipRequest
		if !decode(w, r, &req) {
			return
		}

		changed, err := svc.SkipAppointments(r.Context(), appointment.SkipRequest{
			CurrentID:        id,
			NextVisitCode:    req.NextVisitCode,
			NextApptDatetime: req.NextApptDatetime,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponses(changed))
	}
}

type transitionFunc func(svc AppointmentService, ctx context.Context, id uuid.UUID) (*appointment.Transition, error)

func transitionHandler(svc AppointmentService, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		tr, err := fn(svc, r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransition(tr))
	}
}

func markMissedHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		a, err := svc.MarkMissed(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(a))
	}
}

// saveVisitReportHandler stores the report, marks the visit's forms as
// required on first report and recomputes the appointment status.
func saveVisitReportHandler(svc AppointmentService, meta MetadataWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req VisitReportRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Reason == "" || req.ReportDatetime.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_visit_report", "reason and report_datetime are required")
			return
		}

		a, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		visit, err := svc.VisitOf(a)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		report := &metadata.VisitReport{AppointmentID: id, Reason: req.Reason, ReportDatetime: req.ReportDatetime}
		if err := meta.SaveVisitReport(r.Context(), report); err != nil {
			handleServiceError(w, r, err)
			return
		}
		if err := meta.SeedRequiredForms(r.Context(), id, visit.CRFs, visit.Requisitions); err != nil {
			handleServiceError(w, r, err)
			return
		}

		tr, err := svc.RefreshStatus(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransition(tr))
	}
}

func deleteVisitReportHandler(svc AppointmentService, meta MetadataWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		if err := meta.DeleteVisitReport(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		tr, err := svc.RefreshStatus(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransition(tr))
	}
}

func saveFormEntryHandler(svc AppointmentService, meta MetadataWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req FormEntryRequest
		if !decode(w, r, &req) {
			return
		}

		entry := metadata.FormEntry{
			AppointmentID: id,
			Name:          chi.URLParam(r, "name"),
			Kind:          metadata.FormKind(chi.URLParam(r, "kind")),
			Status:        metadata.EntryStatus(req.EntryStatus),
		}
		if !entry.Kind.Valid() || !entry.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_form_entry", "kind must be crf or requisition and entry_status required, keyed or not_required")
			return
		}

		if err := meta.SaveFormEntry(r.Context(), entry); err != nil {
			handleServiceError(w, r, err)
			return
		}
		tr, err := svc.RefreshStatus(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransition(tr))
	}
}

func listFormEntriesHandler(svc AppointmentService, meta MetadataWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		if _, err := svc.GetAppointment(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		entries, err := meta.ListFormEntries(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toFormEntries(entries))
	}
}
