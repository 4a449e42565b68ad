package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
	StatusCancelled  Status = "cancelled"
	StatusSkipped    Status = "skipped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusIncomplete, StatusComplete, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

type Reason string

const (
	ReasonScheduled   Reason = "scheduled"
	ReasonUnscheduled Reason = "unscheduled"
)

type Timing string

const (
	TimingOnTime        Timing = "on_time"
	TimingMissed        Timing = "missed"
	TimingNotApplicable Timing = "not_applicable"
)

type Type string

const (
	TypeClinic        Type = "clinic"
	TypeHome          Type = "home"
	TypeTelephone     Type = "telephone"
	TypeNotApplicable Type = "not_applicable"
)

// Scope identifies one subject on one schedule. Subject-level invariants
// (single in-progress, contiguous sequences) hold within a scope.
type Scope struct {
	SubjectIdentifier string
	VisitScheduleName string
	ScheduleName      string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s.%s", s.SubjectIdentifier, s.VisitScheduleName, s.ScheduleName)
}

// Key is the natural key of an appointment.
type Key struct {
	Scope
	VisitCode         string
	VisitCodeSequence int
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s.%d", k.Scope, k.VisitCode, k.VisitCodeSequence)
}

type Appointment struct {
	ID                uuid.UUID
	SubjectIdentifier string
	VisitScheduleName string
	ScheduleName      string
	VisitCode         string
	VisitCodeSequence int
	Timepoint         decimal.Decimal
	TimepointDatetime time.Time
	ApptDatetime      time.Time
	FacilityName      string
	Status            Status
	Type              Type
	Reason            Reason
	Timing            Timing
	// TypeBeforeSkip is the type to restore when a skip is reverted; empty
	// unless Status is StatusSkipped.
	TypeBeforeSkip Type
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a *Appointment) Scope() Scope {
	return Scope{
		SubjectIdentifier: a.SubjectIdentifier,
		VisitScheduleName: a.VisitScheduleName,
		ScheduleName:      a.ScheduleName,
	}
}

func (a *Appointment) Key() Key {
	return Key{Scope: a.Scope(), VisitCode: a.VisitCode, VisitCodeSequence: a.VisitCodeSequence}
}

func (a *Appointment) IsCanonical() bool {
	return a.VisitCodeSequence == 0
}

// Skip marks a as skipped, remembering its type for RestoredType.
func (a *Appointment) Skip() {
	if a.Status != StatusSkipped {
		a.TypeBeforeSkip = a.Type
	}
	a.Status = StatusSkipped
	a.Type = TypeNotApplicable
	a.Timing = TimingNotApplicable
}

// RestoredType is the type a skipped appointment returns to. Rows skipped
// before the type was tracked come back as clinic visits.
func (a *Appointment) RestoredType() Type {
	if a.TypeBeforeSkip != "" {
		return a.TypeBeforeSkip
	}
	return TypeClinic
}

// Label renders visit code and sequence the way sites write them, e.g. 1000.2.
func (a *Appointment) Label() string {
	return fmt.Sprintf("%s.%d", a.VisitCode, a.VisitCodeSequence)
}

// Enrollment records the anchor a subject's schedule was generated from.
type Enrollment struct {
	Scope
	AnchorDatetime time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CompletionSignal is the metadata collaborator's view of an appointment.
type CompletionSignal struct {
	HasVisitReport bool
	// CollectsData is false when the visit report's reason implies no
	// CRFs or requisitions apply.
	CollectsData         bool
	RequiredFormsUnkeyed bool
}

type Order int

const (
	OrderByTimepoint Order = iota
	OrderByApptDatetime
)
