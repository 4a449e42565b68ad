package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

// CreateSchedule creates or refreshes the canonical appointment of every
// visit for a subject. Appointments whose ideal date still matches the
// anchor are left untouched, so calling it again is harmless.
func (s *Service) CreateSchedule(ctx context.Context, scope Scope, anchor time.Time) ([]Appointment, error) {
	if anchor.IsZero() {
		return nil, &config.ConfigurationError{Field: "anchor_datetime", Reason: "datetime is not set"}
	}
	schedule, err := s.schedule(scope)
	if err != nil {
		return nil, err
	}

	var result []Appointment

	err = s.atomic(ctx, scope, func(ctx context.Context) error {
		result = nil

		if err := s.repo.SaveEnrollment(ctx, &Enrollment{Scope: scope, AnchorDatetime: anchor}); err != nil {
			return fmt.Errorf("save enrollment: %w", err)
		}

		existing, err := s.repo.List(ctx, scope, OrderByTimepoint)
		if err != nil {
			return fmt.Errorf("list existing appointments: %w", err)
		}
		canonical := make(map[string]*Appointment)
		for i := range existing {
			if existing[i].IsCanonical() {
				canonical[existing[i].VisitCode] = &existing[i]
			}
		}

		var taken []time.Time
		for _, visit := range schedule.Visits() {
			ideal := visit.IdealDatetime(anchor)
			a, ok := canonical[visit.Code]

			if ok && !Drifted(a.TimepointDatetime, ideal) {
				taken = append(taken, a.ApptDatetime)
				result = append(result, *a)
				continue
			}

			booked, err := s.booked(ctx, visit, ideal)
			if err != nil {
				return err
			}
			apptDatetime, timepointDatetime, err := s.dates.ResolveNew(NewRequest{
				Visit:     visit,
				Origin:    anchor,
				Taken:     taken,
				Booked:    booked,
				Canonical: true,
			})
			if err != nil {
				return fmt.Errorf("resolve %s: %w", visit.Code, err)
			}
			s.warnUnavailable(scope, visit, apptDatetime)

			if !ok {
				a = &Appointment{
					ID:                uuid.New(),
					SubjectIdentifier: scope.SubjectIdentifier,
					VisitScheduleName: scope.VisitScheduleName,
					ScheduleName:      scope.ScheduleName,
					VisitCode:         visit.Code,
					VisitCodeSequence: 0,
					Timepoint:         visit.Timepoint,
					TimepointDatetime: timepointDatetime,
					ApptDatetime:      apptDatetime,
					FacilityName:      visit.Facility,
					Status:            StatusNew,
					Type:              TypeClinic,
					Reason:            ReasonScheduled,
					Timing:            TimingOnTime,
				}
				if err := s.repo.Create(ctx, a); err != nil {
					return fmt.Errorf("create %s: %w", a.Label(), err)
				}
				s.logger(a).Info().Time("appt_datetime", apptDatetime).Msg("appointment created")
			} else {
				if err := s.repropagate(ctx, a, apptDatetime, timepointDatetime); err != nil {
					return err
				}
			}

			taken = append(taken, a.ApptDatetime)
			result = append(result, *a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// repropagate moves a canonical appointment whose anchor was corrected and
// carries the new ideal date to its unscheduled siblings.
func (s *Service) repropagate(ctx context.Context, a *Appointment, apptDatetime, timepointDatetime time.Time) error {
	previous := a.TimepointDatetime
	a.ApptDatetime = apptDatetime
	a.TimepointDatetime = timepointDatetime
	if err := s.repo.Save(ctx, a); err != nil {
		return fmt.Errorf("update %s: %w", a.Label(), err)
	}

	interims, err := s.repo.ListVisitCode(ctx, a.Scope(), a.VisitCode)
	if err != nil {
		return fmt.Errorf("list %s interims: %w", a.VisitCode, err)
	}
	for i := range interims {
		interim := &interims[i]
		if interim.IsCanonical() {
			continue
		}
		interim.TimepointDatetime = timepointDatetime
		if err := s.repo.Save(ctx, interim); err != nil {
			return fmt.Errorf("update %s: %w", interim.Label(), err)
		}
	}

	s.logger(a).Warn().
		Time("previous_timepoint_datetime", previous).
		Time("timepoint_datetime", timepointDatetime).
		Int("interims", len(interims)-1).
		Msg("anchor changed, appointment dates recalculated")
	return nil
}

// CreateUnscheduled appends an interim appointment after the latest
// appointment of parentID's visit code.
func (s *Service) CreateUnscheduled(ctx context.Context, parentID uuid.UUID, suggested time.Time) (*Appointment, error) {
	if suggested.IsZero() {
		return nil, &config.ConfigurationError{Field: "suggested_datetime", Reason: "datetime is not set"}
	}

	ref, err := s.repo.Get(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent appointment: %w", err)
	}
	scope := ref.Scope()

	schedule, err := s.schedule(scope)
	if err != nil {
		return nil, err
	}
	visit, err := s.visit(schedule, ref.VisitCode)
	if err != nil {
		return nil, err
	}
	if !visit.AllowUnscheduled {
		return nil, &UnscheduledAppointmentNotAllowed{VisitCode: visit.Code, Reason: "visit does not allow unscheduled appointments"}
	}

	var created *Appointment

	err = s.atomic(ctx, scope, func(ctx context.Context) error {
		siblings, err := s.repo.ListVisitCode(ctx, scope, visit.Code)
		if err != nil {
			return fmt.Errorf("list %s appointments: %w", visit.Code, err)
		}
		if err := checkContiguous(visit.Code, siblings); err != nil {
			return err
		}
		if len(siblings) == 0 {
			return ErrAppointmentNotFound
		}

		parent := &siblings[len(siblings)-1]
		hasReport, err := s.metadata.HasVisitReport(ctx, parent)
		if err != nil {
			return fmt.Errorf("visit report for %s: %w", parent.Label(), err)
		}
		if !hasReport {
			return &InvalidParentAppointmentMissingVisitError{VisitCode: parent.VisitCode, VisitCodeSequence: parent.VisitCodeSequence}
		}
		if parent.Status != StatusComplete && parent.Status != StatusIncomplete {
			return &InvalidParentAppointmentStatusError{VisitCode: parent.VisitCode, VisitCodeSequence: parent.VisitCodeSequence, Status: parent.Status}
		}

		sib, err := s.siblings(ctx, parent, schedule)
		if err != nil {
			return err
		}
		if sib.Next != nil && sib.Next.Status != StatusNew && sib.Next.Status != StatusCancelled {
			return &UnscheduledAppointmentNotAllowed{
				VisitCode: visit.Code,
				Reason:    fmt.Sprintf("next visit %s is already %s", sib.Next.Label(), sib.Next.Status),
			}
		}

		origin, err := s.origin(ctx, scope, schedule)
		if err != nil {
			return err
		}
		booked, err := s.booked(ctx, visit, suggested)
		if err != nil {
			return err
		}
		taken := make([]time.Time, 0, len(siblings))
		for _, a := range siblings {
			taken = append(taken, a.ApptDatetime)
		}

		apptDatetime, _, err := s.dates.ResolveNew(NewRequest{
			Visit:     visit,
			Origin:    origin,
			Suggested: suggested,
			Taken:     taken,
			Booked:    booked,
		})
		if err != nil {
			return err
		}
		s.warnUnavailable(scope, visit, apptDatetime)

		sequence := nextSequence(siblings)
		if err := s.window.Check(apptDatetime, sequence, visit, origin, sib); err != nil {
			return err
		}

		apptType := parent.Type
		if apptType == TypeNotApplicable {
			apptType = TypeClinic
		}

		created = &Appointment{
			ID:                uuid.New(),
			SubjectIdentifier: scope.SubjectIdentifier,
			VisitScheduleName: scope.VisitScheduleName,
			ScheduleName:      scope.ScheduleName,
			VisitCode:         visit.Code,
			VisitCodeSequence: sequence,
			Timepoint:         parent.Timepoint,
			TimepointDatetime: siblings[0].TimepointDatetime,
			ApptDatetime:      apptDatetime,
			FacilityName:      visit.Facility,
			Status:            StatusNew,
			Type:              apptType,
			Reason:            ReasonUnscheduled,
			Timing:            TimingOnTime,
		}
		if err := s.repo.Create(ctx, created); err != nil {
			return fmt.Errorf("create %s: %w", created.Label(), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger(created).Info().Time("appt_datetime", created.ApptDatetime).Msg("unscheduled appointment created")
	return created, nil
}

// nextSequence is one past the highest sequence of the visit code.
func nextSequence(siblings []Appointment) int {
	next := 0
	for _, a := range siblings {
		if a.VisitCodeSequence >= next {
			next = a.VisitCodeSequence + 1
		}
	}
	return next
}

// checkContiguous verifies siblings, sorted by sequence, number 0..n-1.
func checkContiguous(visitCode string, siblings []Appointment) error {
	for i, a := range siblings {
		if a.VisitCodeSequence != i {
			return &SequenceError{VisitCode: visitCode, Expected: i, Got: a.VisitCodeSequence}
		}
	}
	return nil
}

// DeleteAppointment removes an appointment without a visit report and
// renumbers the later interim appointments of its visit code so sequences
// stay contiguous.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) ([]Appointment, error) {
	ref, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	var resequenced []Appointment

	err = s.atomic(ctx, ref.Scope(), func(ctx context.Context) error {
		resequenced = nil

		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		hasReport, err := s.metadata.HasVisitReport(ctx, a)
		if err != nil {
			return fmt.Errorf("visit report for %s: %w", a.Label(), err)
		}
		if hasReport {
			return fmt.Errorf("delete %s: %w", a.Label(), ErrVisitReportExists)
		}

		siblings, err := s.repo.ListVisitCode(ctx, a.Scope(), a.VisitCode)
		if err != nil {
			return fmt.Errorf("list %s appointments: %w", a.VisitCode, err)
		}
		if err := checkContiguous(a.VisitCode, siblings); err != nil {
			return err
		}
		if a.IsCanonical() && len(siblings) > 1 {
			return fmt.Errorf("delete %s: %w", a.Label(), ErrInterimAppointmentsExist)
		}

		if err := s.repo.Delete(ctx, a.ID); err != nil {
			return fmt.Errorf("delete %s: %w", a.Label(), err)
		}

		for i := range siblings {
			sib := siblings[i]
			if sib.VisitCodeSequence <= a.VisitCodeSequence {
				continue
			}
			sib.VisitCodeSequence--
			if err := s.repo.UpdateSequence(ctx, sib.ID, sib.VisitCodeSequence); err != nil {
				return fmt.Errorf("resequence %s.%d: %w", sib.VisitCode, sib.VisitCodeSequence+1, err)
			}
			resequenced = append(resequenced, sib)
		}

		s.logger(a).Info().Int("resequenced", len(resequenced)).Msg("appointment deleted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resequenced, nil
}

type SkipRequest struct {
	// CurrentID is the appointment at which the next date was reported.
	CurrentID        uuid.UUID
	NextVisitCode    string
	NextApptDatetime time.Time
}

// SkipAppointments marks the canonical visits between the current
// appointment and the reported next visit as skipped and moves the next
// visit to the reported date. Earlier skips are reverted first and every
// later canonical without a visit report goes back to its planned date, so
// repeated calls with different targets converge on the latest plan.
func (s *Service) SkipAppointments(ctx context.Context, req SkipRequest) ([]Appointment, error) {
	if req.NextApptDatetime.IsZero() {
		return nil, &config.ConfigurationError{Field: "next_appt_datetime", Reason: "datetime is not set"}
	}

	ref, err := s.repo.Get(ctx, req.CurrentID)
	if err != nil {
		return nil, fmt.Errorf("load current appointment: %w", err)
	}
	scope := ref.Scope()

	schedule, err := s.schedule(scope)
	if err != nil {
		return nil, err
	}
	current, err := s.visit(schedule, ref.VisitCode)
	if err != nil {
		return nil, err
	}
	target, err := s.visit(schedule, req.NextVisitCode)
	if err != nil {
		return nil, err
	}
	if !target.Timepoint.GreaterThan(current.Timepoint) {
		return nil, fmt.Errorf("%w: next visit %s does not follow %s", ErrSkipNotAllowed, target.Code, current.Code)
	}

	var changed []Appointment

	err = s.atomic(ctx, scope, func(ctx context.Context) error {
		changed = nil

		cur, err := s.repo.Get(ctx, req.CurrentID)
		if err != nil {
			return fmt.Errorf("load current appointment: %w", err)
		}
		if !req.NextApptDatetime.After(cur.ApptDatetime) {
			return fmt.Errorf("%w: next appointment date must be after %s", ErrSkipNotAllowed, cur.ApptDatetime.Format(dateLayout))
		}

		origin, err := s.origin(ctx, scope, schedule)
		if err != nil {
			return err
		}
		if err := s.window.Check(req.NextApptDatetime, 0, target, origin, Siblings{}); err != nil {
			return err
		}

		all, err := s.repo.List(ctx, scope, OrderByTimepoint)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		byCode := make(map[string]*Appointment)
		var taken []time.Time
		for i := range all {
			a := &all[i]
			if a.IsCanonical() {
				byCode[a.VisitCode] = a
			}
			later := a.IsCanonical() && a.Timepoint.GreaterThan(cur.Timepoint)
			if later && (a.Status == StatusNew || a.Status == StatusSkipped) {
				if err := s.replan(ctx, a, schedule, origin, taken); err != nil {
					return err
				}
				if err := s.repo.Save(ctx, a); err != nil {
					return fmt.Errorf("revert %s: %w", a.Label(), err)
				}
			} else if a.Status == StatusSkipped {
				a.Status = StatusNew
				a.Type = a.RestoredType()
				a.TypeBeforeSkip = ""
				a.Timing = TimingOnTime
				if err := s.repo.Save(ctx, a); err != nil {
					return fmt.Errorf("revert skipped %s: %w", a.Label(), err)
				}
			}
			if a.IsCanonical() {
				taken = append(taken, a.ApptDatetime)
			}
		}

		for _, v := range schedule.Between(current.Code, target.Code) {
			a, ok := byCode[v.Code]
			if !ok {
				continue
			}
			if a.Status != StatusNew {
				return fmt.Errorf("%w: %s is already %s", ErrSkipNotAllowed, a.Label(), a.Status)
			}
			hasReport, err := s.metadata.HasVisitReport(ctx, a)
			if err != nil {
				return fmt.Errorf("visit report for %s: %w", a.Label(), err)
			}
			if hasReport {
				return fmt.Errorf("%w: %s has a visit report", ErrSkipNotAllowed, a.Label())
			}
			a.Skip()
			if err := s.repo.Save(ctx, a); err != nil {
				return fmt.Errorf("skip %s: %w", a.Label(), err)
			}
			changed = append(changed, *a)
		}

		next, ok := byCode[target.Code]
		if !ok {
			return fmt.Errorf("%w: %s.0", ErrAppointmentNotFound, target.Code)
		}
		if next.Status != StatusNew {
			return fmt.Errorf("%w: %s is already %s", ErrSkipNotAllowed, next.Label(), next.Status)
		}
		next.ApptDatetime = req.NextApptDatetime
		next.Status = StatusNew
		if err := s.repo.Save(ctx, next); err != nil {
			return fmt.Errorf("reschedule %s: %w", next.Label(), err)
		}
		changed = append(changed, *next)

		s.logger(cur).Info().
			Str("next_visit", target.Code).
			Time("next_appt_datetime", req.NextApptDatetime).
			Int("skipped", len(changed)-1).
			Msg("appointments skipped")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// replan returns a later canonical to the state CreateSchedule would give it:
// NEW, its pre-skip type and the date resolved from the origin. Rows with a
// visit report keep their date.
func (s *Service) replan(ctx context.Context, a *Appointment, schedule *visitschedule.Schedule, origin time.Time, taken []time.Time) error {
	counted := a.Status != StatusSkipped
	if a.Status == StatusSkipped {
		a.Status = StatusNew
		a.Type = a.RestoredType()
		a.TypeBeforeSkip = ""
		a.Timing = TimingOnTime
	}

	hasReport, err := s.metadata.HasVisitReport(ctx, a)
	if err != nil {
		return fmt.Errorf("visit report for %s: %w", a.Label(), err)
	}
	if hasReport {
		return nil
	}
	visit, err := s.visit(schedule, a.VisitCode)
	if err != nil {
		return err
	}

	booked, err := s.booked(ctx, visit, visit.IdealDatetime(origin))
	if err != nil {
		return err
	}
	if booked != nil && counted {
		f, err := s.facilities.Facility(visit.Facility)
		if err != nil {
			return err
		}
		if day := f.Day(a.ApptDatetime); booked[day] > 0 {
			booked[day]--
		}
	}

	apptDatetime, timepointDatetime, err := s.dates.ResolveNew(NewRequest{
		Visit:     visit,
		Origin:    origin,
		Taken:     taken,
		Booked:    booked,
		Canonical: true,
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", visit.Code, err)
	}
	a.ApptDatetime = apptDatetime
	a.TimepointDatetime = timepointDatetime
	return nil
}
