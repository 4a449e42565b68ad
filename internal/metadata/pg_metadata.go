package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/db"
)

const foreignKeyViolation = "23503"

var ErrVisitReportNotFound = errors.New("visit report not found")

type FormKind string

const (
	FormCRF         FormKind = "crf"
	FormRequisition FormKind = "requisition"
)

type EntryStatus string

const (
	EntryRequired    EntryStatus = "required"
	EntryKeyed       EntryStatus = "keyed"
	EntryNotRequired EntryStatus = "not_required"
)

func (k FormKind) Valid() bool { return k == FormCRF || k == FormRequisition }

func (s EntryStatus) Valid() bool {
	return s == EntryRequired || s == EntryKeyed || s == EntryNotRequired
}

// VisitReport is the data-collection record that marks an appointment as
// attended.
type VisitReport struct {
	AppointmentID  uuid.UUID
	Reason         string
	ReportDatetime time.Time
	CreatedAt      time.Time
}

type FormEntry struct {
	AppointmentID uuid.UUID
	Name          string
	Kind          FormKind
	Status        EntryStatus
}

// PgMetadata answers completion questions from the visit_reports and
// form_metadata tables. It joins the caller's transaction when there is one.
type PgMetadata struct {
	pool *pgxpool.Pool
}

func NewPgMetadata(pool *pgxpool.Pool) *PgMetadata {
	return &PgMetadata{pool: pool}
}

func (m *PgMetadata) HasVisitReport(ctx context.Context, a *appointment.Appointment) (bool, error) {
	var exists bool
	err := db.Conn(ctx, m.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM visit_reports WHERE appointment_id = $1)
	`, a.ID).Scan(&exists)
	return exists, err
}

func (m *PgMetadata) RequiredFormsUnkeyed(ctx context.Context, a *appointment.Appointment) (bool, error) {
	var exists bool
	err := db.Conn(ctx, m.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM form_metadata
			WHERE appointment_id = $1 AND entry_status = 'required'
		)
	`, a.ID).Scan(&exists)
	return exists, err
}

// CollectsData is false when every form for the appointment was marked not
// required, which is what the report reason does for visits without data
// collection.
func (m *PgMetadata) CollectsData(ctx context.Context, a *appointment.Appointment) (bool, error) {
	var exists bool
	err := db.Conn(ctx, m.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM form_metadata
			WHERE appointment_id = $1 AND entry_status IN ('required', 'keyed')
		)
	`, a.ID).Scan(&exists)
	return exists, err
}

// SaveVisitReport creates or replaces the visit report of an appointment.
func (m *PgMetadata) SaveVisitReport(ctx context.Context, r *VisitReport) error {
	row := db.Conn(ctx, m.pool).QueryRow(ctx, `
		INSERT INTO visit_reports (appointment_id, reason, report_datetime, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (appointment_id)
		DO UPDATE SET reason = EXCLUDED.reason,
		              report_datetime = EXCLUDED.report_datetime
		RETURNING created_at
	`, r.AppointmentID, r.Reason, r.ReportDatetime)

	if err := row.Scan(&r.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return appointment.ErrAppointmentNotFound
		}
		return fmt.Errorf("save visit report: %w", err)
	}
	return nil
}

func (m *PgMetadata) DeleteVisitReport(ctx context.Context, appointmentID uuid.UUID) error {
	tag, err := db.Conn(ctx, m.pool).Exec(ctx, `DELETE FROM visit_reports WHERE appointment_id = $1`, appointmentID)
	if err != nil {
		return fmt.Errorf("delete visit report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVisitReportNotFound
	}
	return nil
}

// SaveFormEntry records the entry status of one CRF or requisition.
func (m *PgMetadata) SaveFormEntry(ctx context.Context, e FormEntry) error {
	if !e.Kind.Valid() || !e.Status.Valid() {
		return fmt.Errorf("invalid form entry %s/%s: %s", e.Kind, e.Name, e.Status)
	}

	_, err := db.Conn(ctx, m.pool).Exec(ctx, `
		INSERT INTO form_metadata (appointment_id, form_name, form_kind, entry_status, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (appointment_id, form_kind, form_name)
		DO UPDATE SET entry_status = EXCLUDED.entry_status,
		              updated_at = now()
	`, e.AppointmentID, e.Name, e.Kind, e.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return appointment.ErrAppointmentNotFound
		}
		return fmt.Errorf("save form entry: %w", err)
	}
	return nil
}

// SeedRequiredForms marks every CRF and requisition a visit defines as
// required for a new appointment. Existing entries are left alone.
func (m *PgMetadata) SeedRequiredForms(ctx context.Context, appointmentID uuid.UUID, crfs, requisitions []string) error {
	q := db.Conn(ctx, m.pool)
	for kind, names := range map[FormKind][]string{FormCRF: crfs, FormRequisition: requisitions} {
		for _, name := range names {
			_, err := q.Exec(ctx, `
				INSERT INTO form_metadata (appointment_id, form_name, form_kind, entry_status, updated_at)
				VALUES ($1, $2, $3, 'required', now())
				ON CONFLICT (appointment_id, form_kind, form_name) DO NOTHING
			`, appointmentID, name, kind)
			if err != nil {
				return fmt.Errorf("seed %s %s: %w", kind, name, err)
			}
		}
	}
	return nil
}

func (m *PgMetadata) ListFormEntries(ctx context.Context, appointmentID uuid.UUID) ([]FormEntry, error) {
	rows, err := db.Conn(ctx, m.pool).Query(ctx, `
		SELECT appointment_id, form_name, form_kind, entry_status
		FROM form_metadata
		WHERE appointment_id = $1
		ORDER BY form_kind, form_name
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []FormEntry
	for rows.Next() {
		var e FormEntry
		if err := rows.Scan(&e.AppointmentID, &e.Name, &e.Kind, &e.Status); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
