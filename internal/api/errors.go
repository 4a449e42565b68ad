package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/metadata"
)

const boundLayout = "2006-01-02T15:04:05Z07:00"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps engine errors onto HTTP statuses. Window errors
// carry their bounds so clients can show the permitted range.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		scheduledErr   *appointment.ScheduledWindowError
		unscheduledErr *appointment.UnscheduledWindowError
		sequenceErr    *appointment.SequenceError
		parentStatus   *appointment.InvalidParentAppointmentStatusError
		parentMissing  *appointment.InvalidParentAppointmentMissingVisitError
		notAllowed     *appointment.UnscheduledAppointmentNotAllowed
		consistencyErr *appointment.StatusConsistencyError
	)

	switch {
	case errors.As(err, &scheduledErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "scheduled_window",
			Details: err.Error(),
			Lower:   scheduledErr.Lower.Format(boundLayout),
			Upper:   scheduledErr.Upper.Format(boundLayout),
		})
	case errors.As(err, &unscheduledErr):
		resp := ErrorResponse{
			Error:   "unscheduled_window",
			Details: err.Error(),
			Lower:   unscheduledErr.Lower.Format(boundLayout),
		}
		if !unscheduledErr.Upper.IsZero() {
			resp.Upper = unscheduledErr.Upper.Format(boundLayout)
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrEnrollmentNotFound):
		writeError(w, http.StatusNotFound, "enrollment_not_found", err.Error())
	case errors.Is(err, metadata.ErrVisitReportNotFound):
		writeError(w, http.StatusNotFound, "visit_report_not_found", err.Error())

	case errors.Is(err, config.ErrConfiguration):
		writeError(w, http.StatusUnprocessableEntity, "configuration_error", err.Error())
	case errors.Is(err, appointment.ErrUnknownVisit):
		writeError(w, http.StatusUnprocessableEntity, "unknown_visit", err.Error())

	case errors.As(err, &sequenceErr):
		writeError(w, http.StatusConflict, "sequence_error", err.Error())
	case errors.As(err, &parentStatus):
		writeError(w, http.StatusConflict, "invalid_parent_status", err.Error())
	case errors.As(err, &parentMissing):
		writeError(w, http.StatusConflict, "parent_missing_visit_report", err.Error())
	case errors.As(err, &notAllowed):
		writeError(w, http.StatusConflict, "unscheduled_not_allowed", err.Error())
	case errors.Is(err, appointment.ErrSubjectBusy):
		writeError(w, http.StatusConflict, "subject_busy", err.Error())
	case errors.Is(err, appointment.ErrDuplicateAppointment):
		writeError(w, http.StatusConflict, "duplicate_appointment", err.Error())
	case errors.Is(err, appointment.ErrVisitReportExists):
		writeError(w, http.StatusConflict, "visit_report_exists", err.Error())
	case errors.Is(err, appointment.ErrInterimAppointmentsExist):
		writeError(w, http.StatusConflict, "interim_appointments_exist", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrCanonicalNotCancellable):
		writeError(w, http.StatusConflict, "canonical_not_cancellable", err.Error())
	case errors.Is(err, appointment.ErrMissedNotAllowed):
		writeError(w, http.StatusConflict, "missed_not_allowed", err.Error())
	case errors.Is(err, appointment.ErrSkipNotAllowed):
		writeError(w, http.StatusConflict, "skip_not_allowed", err.Error())

	case errors.As(err, &consistencyErr):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("status consistency error")
		writeError(w, http.StatusInternalServerError, "status_consistency_error", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
