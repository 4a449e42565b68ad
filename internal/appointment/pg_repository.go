package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/trial-visit-scheduling/internal/db"
	"github.com/hackgods/trial-visit-scheduling/internal/facility"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, subject_identifier, visit_schedule_name, schedule_name,
	visit_code, visit_code_sequence, timepoint::text,
	timepoint_datetime, appt_datetime, facility_name,
	appt_status, appt_type, appt_reason, appt_timing,
	COALESCE(type_before_skip, ''), created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var timepoint string

	err := row.Scan(
		&a.ID,
		&a.SubjectIdentifier,
		&a.VisitScheduleName,
		&a.ScheduleName,
		&a.VisitCode,
		&a.VisitCodeSequence,
		&timepoint,
		&a.TimepointDatetime,
		&a.ApptDatetime,
		&a.FacilityName,
		&a.Status,
		&a.Type,
		&a.Reason,
		&a.Timing,
		&a.TypeBeforeSkip,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.Timepoint, err = decimal.NewFromString(timepoint); err != nil {
		return nil, fmt.Errorf("parse timepoint %q: %w", timepoint, err)
	}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEnrollment(row pgx.Row) (*Enrollment, error) {
	var e Enrollment

	err := row.Scan(
		&e.SubjectIdentifier,
		&e.VisitScheduleName,
		&e.ScheduleName,
		&e.AnchorDatetime,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return &e, nil
}

// mapWriteError turns unique violations into ErrDuplicateAppointment.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateAppointment, pgErr.ConstraintName)
	}
	return err
}

// Interface methods

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Find(ctx context.Context, key Key) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE subject_identifier = $1
		  AND visit_schedule_name = $2
		  AND schedule_name = $3
		  AND visit_code = $4
		  AND visit_code_sequence = $5
	`, key.SubjectIdentifier, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, scope Scope, order Order) ([]Appointment, error) {
	orderBy := "timepoint, visit_code_sequence"
	if order == OrderByApptDatetime {
		orderBy = "appt_datetime, timepoint, visit_code_sequence"
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE subject_identifier = $1
		  AND visit_schedule_name = $2
		  AND schedule_name = $3
		ORDER BY `+orderBy, scope.SubjectIdentifier, scope.VisitScheduleName, scope.ScheduleName)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

// ListVisitCode locks the returned rows so concurrent resequencing and
// unscheduled creation on the same visit serialise in the database too.
func (r *PgRepository) ListVisitCode(ctx context.Context, scope Scope, visitCode string) ([]Appointment, error) {
	lock := ""
	if db.TxFromContext(ctx) != nil {
		lock = " FOR UPDATE"
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE subject_identifier = $1
		  AND visit_schedule_name = $2
		  AND schedule_name = $3
		  AND visit_code = $4
		ORDER BY visit_code_sequence`+lock,
		scope.SubjectIdentifier, scope.VisitScheduleName, scope.ScheduleName, visitCode)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (
			id, subject_identifier, visit_schedule_name, schedule_name,
			visit_code, visit_code_sequence, timepoint,
			timepoint_datetime, appt_datetime, facility_name,
			appt_status, appt_type, appt_reason, appt_timing,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING created_at, updated_at
	`,
		a.ID, a.SubjectIdentifier, a.VisitScheduleName, a.ScheduleName,
		a.VisitCode, a.VisitCodeSequence, a.Timepoint.String(),
		a.TimepointDatetime, a.ApptDatetime, a.FacilityName,
		a.Status, a.Type, a.Reason, a.Timing,
	)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// Save writes the mutable columns. Identity, sequence and timepoint are
// changed only through their dedicated methods or not at all.
func (r *PgRepository) Save(ctx context.Context, a *Appointment) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET timepoint_datetime = $2,
		    appt_datetime = $3,
		    facility_name = $4,
		    appt_status = $5,
		    appt_type = $6,
		    appt_timing = $7,
		    type_before_skip = NULLIF($8, ''),
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.TimepointDatetime, a.ApptDatetime, a.FacilityName, a.Status, a.Type, a.Timing, string(a.TypeBeforeSkip))

	if err := row.Scan(&a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		return mapWriteError(err)
	}
	return nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments
		SET appt_type = CASE
		        WHEN appt_status = 'skipped' AND $2::text <> 'skipped' THEN COALESCE(type_before_skip, 'clinic')
		        ELSE appt_type
		    END,
		    type_before_skip = CASE WHEN $2::text = 'skipped' THEN type_before_skip END,
		    appt_status = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) UpdateSequence(ctx context.Context, id uuid.UUID, sequence int) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments
		SET visit_code_sequence = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, sequence)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// CountBooked buckets by the facility's local day in Go, so any
// *time.Location works, including time.Local which has no zone name
// Postgres understands.
func (r *PgRepository) CountBooked(ctx context.Context, facilityName string, from, to time.Time, loc *time.Location) (map[string]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT appt_datetime
		FROM appointments
		WHERE facility_name = $1
		  AND appt_datetime >= $2
		  AND appt_datetime < $3
		  AND appt_status NOT IN ('cancelled', 'skipped')
	`, facilityName, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datetimes []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		datetimes = append(datetimes, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return countByDay(datetimes, loc), nil
}

// countByDay keys each datetime by its calendar day in loc; nil means UTC.
func countByDay(datetimes []time.Time, loc *time.Location) map[string]int {
	if loc == nil {
		loc = time.UTC
	}
	counts := make(map[string]int)
	for _, t := range datetimes {
		counts[t.In(loc).Format(facility.DayLayout)]++
	}
	return counts
}

func (r *PgRepository) GetEnrollment(ctx context.Context, scope Scope) (*Enrollment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT subject_identifier, visit_schedule_name, schedule_name, anchor_datetime, created_at, updated_at
		FROM enrollments
		WHERE subject_identifier = $1
		  AND visit_schedule_name = $2
		  AND schedule_name = $3
	`, scope.SubjectIdentifier, scope.VisitScheduleName, scope.ScheduleName)
	return scanEnrollment(row)
}

func (r *PgRepository) SaveEnrollment(ctx context.Context, e *Enrollment) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO enrollments (subject_identifier, visit_schedule_name, schedule_name, anchor_datetime, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (subject_identifier, visit_schedule_name, schedule_name)
		DO UPDATE SET anchor_datetime = EXCLUDED.anchor_datetime,
		              updated_at = now()
		RETURNING created_at, updated_at
	`, e.SubjectIdentifier, e.VisitScheduleName, e.ScheduleName, e.AnchorDatetime)

	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

func (r *PgRepository) ListEnrollments(ctx context.Context) ([]Enrollment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT subject_identifier, visit_schedule_name, schedule_name, anchor_datetime, created_at, updated_at
		FROM enrollments
		ORDER BY subject_identifier, visit_schedule_name, schedule_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
