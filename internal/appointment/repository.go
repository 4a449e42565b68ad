package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service. Every
// method joins the transaction carried by ctx when there is one.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Find(ctx context.Context, key Key) (*Appointment, error)

	// List returns every appointment in scope in the given order.
	List(ctx context.Context, scope Scope, order Order) ([]Appointment, error)
	// ListVisitCode returns one visit code's appointments by ascending sequence.
	ListVisitCode(ctx context.Context, scope Scope, visitCode string) ([]Appointment, error)

	// Creation and updates
	Create(ctx context.Context, a *Appointment) error
	Save(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateSequence(ctx context.Context, id uuid.UUID, sequence int) error
	Delete(ctx context.Context, id uuid.UUID) error

	// CountBooked counts active appointments at a facility per civil day
	// (facility.DayLayout in loc) with appt_datetime in [from, to).
	CountBooked(ctx context.Context, facilityName string, from, to time.Time, loc *time.Location) (map[string]int, error)

	// Enrollments
	GetEnrollment(ctx context.Context, scope Scope) (*Enrollment, error)
	SaveEnrollment(ctx context.Context, e *Enrollment) error
	ListEnrollments(ctx context.Context) ([]Enrollment, error)
}

// Metadata answers completeness questions owned by the data-collection side.
type Metadata interface {
	HasVisitReport(ctx context.Context, a *Appointment) (bool, error)
	RequiredFormsUnkeyed(ctx context.Context, a *Appointment) (bool, error)
	CollectsData(ctx context.Context, a *Appointment) (bool, error)
}

// TxRunner gives a set of repository calls all-or-nothing semantics.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Signal collects a CompletionSignal from the metadata collaborator.
func Signal(ctx context.Context, m Metadata, a *Appointment) (CompletionSignal, error) {
	var sig CompletionSignal
	var err error

	if sig.HasVisitReport, err = m.HasVisitReport(ctx, a); err != nil {
		return sig, fmt.Errorf("visit report for %s: %w", a.Label(), err)
	}
	if !sig.HasVisitReport {
		return sig, nil
	}
	if sig.CollectsData, err = m.CollectsData(ctx, a); err != nil {
		return sig, fmt.Errorf("data collection for %s: %w", a.Label(), err)
	}
	if sig.RequiredFormsUnkeyed, err = m.RequiredFormsUnkeyed(ctx, a); err != nil {
		return sig, fmt.Errorf("required forms for %s: %w", a.Label(), err)
	}
	return sig, nil
}
