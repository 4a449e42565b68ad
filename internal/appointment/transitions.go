package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transition is the outcome of a status change together with the sibling
// writes it caused.
type Transition struct {
	Appointment *Appointment
	From        Status
	Cascaded    []CascadeChange
}

// RefreshStatus recomputes an appointment's status from its completion
// signal and persists it.
func (s *Service) RefreshStatus(ctx context.Context, id uuid.UUID) (*Transition, error) {
	return s.transition(ctx, id, func(ctx context.Context, a *Appointment) (Status, error) {
		sig, err := Signal(ctx, s.metadata, a)
		if err != nil {
			return "", err
		}
		return Recompute(a, sig)
	})
}

// Start moves an appointment into IN_PROGRESS, closing any sibling that was
// in progress.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Transition, error) {
	return s.transition(ctx, id, func(ctx context.Context, a *Appointment) (Status, error) {
		ok, err := canStart(a)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: cannot start %s from %s", ErrInvalidStatusTransition, a.Label(), a.Status)
		}
		return StatusInProgress, nil
	})
}

// Close ends an in-progress appointment as COMPLETE, or INCOMPLETE while
// required forms are still unkeyed.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*Transition, error) {
	return s.transition(ctx, id, func(ctx context.Context, a *Appointment) (Status, error) {
		if a.Status != StatusInProgress {
			return "", fmt.Errorf("%w: cannot close %s from %s", ErrInvalidStatusTransition, a.Label(), a.Status)
		}
		sig, err := Signal(ctx, s.metadata, a)
		if err != nil {
			return "", err
		}
		return ClosingStatus(sig), nil
	})
}

// Cancel cancels an unscheduled appointment that has no visit report.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Transition, error) {
	return s.transition(ctx, id, func(ctx context.Context, a *Appointment) (Status, error) {
		if a.IsCanonical() {
			return "", fmt.Errorf("%w: %s", ErrCanonicalNotCancellable, a.Label())
		}
		ok, err := canCancel(a)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: cannot cancel %s from %s", ErrInvalidStatusTransition, a.Label(), a.Status)
		}
		hasReport, err := s.metadata.HasVisitReport(ctx, a)
		if err != nil {
			return "", fmt.Errorf("visit report for %s: %w", a.Label(), err)
		}
		if hasReport {
			return "", fmt.Errorf("cancel %s: %w", a.Label(), ErrVisitReportExists)
		}
		return StatusCancelled, nil
	})
}

// transition loads the appointment under the subject lock, asks next for the
// target status and persists it. Entering IN_PROGRESS runs the sibling
// cascade first so the single in-progress row is never duplicated, even
// momentarily.
func (s *Service) transition(ctx context.Context, id uuid.UUID, next func(ctx context.Context, a *Appointment) (Status, error)) (*Transition, error) {
	ref, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	var result *Transition

	err = s.atomic(ctx, ref.Scope(), func(ctx context.Context) error {
		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		to, err := next(ctx, a)
		if err != nil {
			return err
		}

		result = &Transition{Appointment: a, From: a.Status}
		if to == a.Status {
			return nil
		}

		if to == StatusInProgress {
			if result.Cascaded, err = s.cascade.Apply(ctx, a); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateStatus(ctx, a.ID, to); err != nil {
			return fmt.Errorf("update %s status: %w", a.Label(), err)
		}
		if a.Status == StatusSkipped {
			a.Type = a.RestoredType()
			a.TypeBeforeSkip = ""
		}
		a.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.From != result.Appointment.Status {
		s.logger(result.Appointment).Info().
			Str("from", string(result.From)).
			Str("to", string(result.Appointment.Status)).
			Msg("appointment status changed")
	}
	for _, c := range result.Cascaded {
		s.logger(result.Appointment).Info().
			Str("sibling", c.Label).
			Str("from", string(c.From)).
			Str("to", string(c.To)).
			Msg("sibling status cascaded")
	}
	return result, nil
}

// MarkMissed flags a canonical appointment as missed. It is refused once
// the subject was seen at a later visit.
func (s *Service) MarkMissed(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ref, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	var missed *Appointment

	err = s.atomic(ctx, ref.Scope(), func(ctx context.Context) error {
		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !a.IsCanonical() {
			return fmt.Errorf("%w: %s is unscheduled", ErrMissedNotAllowed, a.Label())
		}
		if a.Timing == TimingMissed {
			missed = a
			return nil
		}

		hasReport, err := s.metadata.HasVisitReport(ctx, a)
		if err != nil {
			return fmt.Errorf("visit report for %s: %w", a.Label(), err)
		}
		if hasReport {
			return fmt.Errorf("%w: %s has a visit report", ErrMissedNotAllowed, a.Label())
		}

		all, err := s.repo.List(ctx, a.Scope(), OrderByTimepoint)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		for i := range all {
			later := &all[i]
			if !later.Timepoint.GreaterThan(a.Timepoint) {
				continue
			}
			reported, err := s.metadata.HasVisitReport(ctx, later)
			if err != nil {
				return fmt.Errorf("visit report for %s: %w", later.Label(), err)
			}
			if reported {
				return fmt.Errorf("%w: later visit %s already has a visit report", ErrMissedNotAllowed, later.Label())
			}
		}

		a.Timing = TimingMissed
		if err := s.repo.Save(ctx, a); err != nil {
			return fmt.Errorf("mark %s missed: %w", a.Label(), err)
		}
		missed = a
		s.logger(a).Info().Msg("appointment marked missed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return missed, nil
}

// ChangeApptDatetime edits appt_datetime. A proposal outside the window is
// not applied: the returned DateChange reports Reverted with the window
// error as Rejection and the appointment keeps its previous date.
func (s *Service) ChangeApptDatetime(ctx context.Context, id uuid.UUID, proposed time.Time) (*Appointment, DateChange, error) {
	ref, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, DateChange{}, fmt.Errorf("load appointment: %w", err)
	}
	scope := ref.Scope()

	schedule, err := s.schedule(scope)
	if err != nil {
		return nil, DateChange{}, err
	}
	visit, err := s.visit(schedule, ref.VisitCode)
	if err != nil {
		return nil, DateChange{}, err
	}

	var (
		edited *Appointment
		change DateChange
	)

	err = s.atomic(ctx, scope, func(ctx context.Context) error {
		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		origin, err := s.origin(ctx, scope, schedule)
		if err != nil {
			return err
		}
		sib, err := s.siblings(ctx, a, schedule)
		if err != nil {
			return err
		}

		change, err = s.dates.ResolveChanged(ChangeRequest{
			Previous: a.ApptDatetime,
			Proposed: proposed,
			Sequence: a.VisitCodeSequence,
			Visit:    visit,
			Origin:   origin,
			Siblings: sib,
		})
		if err != nil {
			return err
		}
		edited = a

		if change.Reverted || a.ApptDatetime.Equal(change.ApptDatetime) {
			return nil
		}
		a.ApptDatetime = change.ApptDatetime
		if err := s.repo.Save(ctx, a); err != nil {
			return fmt.Errorf("update %s: %w", a.Label(), err)
		}
		return nil
	})
	if err != nil {
		return nil, DateChange{}, err
	}

	if change.Reverted {
		s.logger(edited).Warn().
			Time("proposed", proposed).
			Err(change.Rejection).
			Msg("appointment date outside window, reverted")
	}
	return edited, change, nil
}
