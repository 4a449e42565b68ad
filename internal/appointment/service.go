package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/facility"
	redisclient "github.com/hackgods/trial-visit-scheduling/internal/redis"
	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

var ErrSubjectBusy = errors.New("subject appointments are being changed, please retry")

type Dependencies struct {
	Repo       Repository
	Tx         TxRunner
	Locker     redisclient.Locker
	Metadata   Metadata
	Schedules  visitschedule.Provider
	Facilities facility.Provider
	Logger     zerolog.Logger
}

type Service struct {
	repo          Repository
	tx            TxRunner
	locker        redisclient.Locker
	metadata      Metadata
	schedules     visitschedule.Provider
	facilities    facility.Provider
	dates         DateResolver
	window        WindowValidator
	cascade       SiblingCascade
	trackCapacity bool
	log           zerolog.Logger
}

func NewService(deps Dependencies, cfg config.Config) *Service {
	calendar := facility.NewCalendar(cfg.CalendarHorizonDays)
	calendar.Strict = cfg.CalendarStrict
	return &Service{
		repo:       deps.Repo,
		tx:         deps.Tx,
		locker:     deps.Locker,
		metadata:   deps.Metadata,
		schedules:  deps.Schedules,
		facilities: deps.Facilities,
		dates: DateResolver{
			Calendar:   calendar,
			Facilities: deps.Facilities,
		},
		cascade:       NewSiblingCascade(deps.Repo, deps.Metadata),
		trackCapacity: cfg.CalendarTrackCapacity,
		log:           deps.Logger,
	}
}

// atomic runs fn under the scope's subject lock and inside one transaction,
// so sibling reads and writes are never observed half applied.
func (s *Service) atomic(ctx context.Context, scope Scope, fn func(ctx context.Context) error) error {
	key := redisclient.LockKey(scope.SubjectIdentifier, scope.VisitScheduleName, scope.ScheduleName)
	err := s.locker.WithSubjectLock(ctx, key, func(lockCtx context.Context) error {
		return s.tx.WithinTx(lockCtx, fn)
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSubjectBusy
	}
	return err
}

func (s *Service) schedule(scope Scope) (*visitschedule.Schedule, error) {
	return s.schedules.Schedule(scope.VisitScheduleName, scope.ScheduleName)
}

func (s *Service) visit(schedule *visitschedule.Schedule, code string) (visitschedule.Visit, error) {
	v, ok := schedule.Visit(code)
	if !ok {
		return visitschedule.Visit{}, fmt.Errorf("%w: %s in %s.%s", ErrUnknownVisit, code, schedule.VisitScheduleName, schedule.Name)
	}
	return v, nil
}

// origin returns the anchor visit offsets are measured from: derived from
// the baseline appointment's timepoint_datetime, or the enrollment anchor
// before any appointment exists.
func (s *Service) origin(ctx context.Context, scope Scope, schedule *visitschedule.Schedule) (time.Time, error) {
	baseline, err := s.repo.Find(ctx, Key{Scope: scope, VisitCode: schedule.First().Code})
	if err == nil {
		return Origin(baseline.TimepointDatetime, schedule), nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return time.Time{}, fmt.Errorf("load baseline appointment: %w", err)
	}

	enrollment, err := s.repo.GetEnrollment(ctx, scope)
	if err != nil {
		return time.Time{}, fmt.Errorf("load enrollment: %w", err)
	}
	return enrollment.AnchorDatetime, nil
}

func (s *Service) siblings(ctx context.Context, a *Appointment, schedule *visitschedule.Schedule) (Siblings, error) {
	var sib Siblings

	nv, ok := schedule.Next(a.VisitCode)
	if !ok {
		return sib, nil
	}
	sib.NextVisit = &nv

	next, err := s.repo.Find(ctx, Key{Scope: a.Scope(), VisitCode: nv.Code})
	if errors.Is(err, ErrAppointmentNotFound) {
		return sib, nil
	}
	if err != nil {
		return sib, fmt.Errorf("load next appointment: %w", err)
	}
	sib.Next = next

	if sib.NextHasVisitReport, err = s.metadata.HasVisitReport(ctx, next); err != nil {
		return sib, fmt.Errorf("visit report for %s: %w", next.Label(), err)
	}
	return sib, nil
}

// booked returns facility day counts around a date, or nil when capacity
// tracking is off.
func (s *Service) booked(ctx context.Context, visit visitschedule.Visit, around time.Time) (map[string]int, error) {
	if !s.trackCapacity {
		return nil, nil
	}
	f, err := s.facilities.Facility(visit.Facility)
	if err != nil {
		return nil, err
	}
	from := around.AddDate(0, 0, -1)
	to := around.AddDate(0, 0, s.dates.Calendar.HorizonDays+1)

	counts, err := s.repo.CountBooked(ctx, f.Name, from, to, f.Location)
	if err != nil {
		return nil, fmt.Errorf("count booked at %s: %w", f.Name, err)
	}
	return counts, nil
}

// GetAppointment loads one appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// ListAppointments returns a subject's appointments on one schedule.
func (s *Service) ListAppointments(ctx context.Context, scope Scope, order Order) ([]Appointment, error) {
	appts, err := s.repo.List(ctx, scope, order)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) logger(a *Appointment) *zerolog.Logger {
	l := s.log.With().
		Str("subject", a.SubjectIdentifier).
		Str("schedule", a.VisitScheduleName+"."+a.ScheduleName).
		Str("visit", a.Label()).
		Logger()
	return &l
}

// warnUnavailable logs when the calendar fell back to a date the facility
// cannot serve because the horizon was exhausted.
func (s *Service) warnUnavailable(scope Scope, visit visitschedule.Visit, dt time.Time) {
	f, err := s.facilities.Facility(visit.Facility)
	if err != nil || (f.IsOpen(dt) && !f.IsHoliday(dt)) {
		return
	}
	s.log.Warn().
		Str("subject", scope.SubjectIdentifier).
		Str("visit", visit.Code).
		Str("facility", f.Name).
		Time("appt_datetime", dt).
		Msg("no facility date within horizon, keeping suggested date")
}

// VisitOf returns the schedule definition of an appointment's visit.
func (s *Service) VisitOf(a *Appointment) (visitschedule.Visit, error) {
	schedule, err := s.schedule(a.Scope())
	if err != nil {
		return visitschedule.Visit{}, err
	}
	return s.visit(schedule, a.VisitCode)
}
