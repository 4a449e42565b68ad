package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Recompute derives the status an appointment should hold given its
// completion signal. Cancelled and skipped appointments keep their status
// until a visit report appears.
func Recompute(a *Appointment, sig CompletionSignal) (Status, error) {
	if !a.Status.Valid() {
		return "", &StatusConsistencyError{Label: a.Label(), Status: a.Status, Branch: "recomputing"}
	}

	if !sig.HasVisitReport {
		switch a.Status {
		case StatusCancelled, StatusSkipped:
			return a.Status, nil
		case StatusNew, StatusInProgress, StatusIncomplete, StatusComplete:
			return StatusNew, nil
		}
		return "", &StatusConsistencyError{Label: a.Label(), Status: a.Status, Branch: "no visit report"}
	}

	if !sig.CollectsData {
		return StatusComplete, nil
	}

	switch a.Status {
	case StatusComplete, StatusIncomplete:
		if sig.RequiredFormsUnkeyed {
			return StatusIncomplete, nil
		}
		return StatusComplete, nil
	case StatusNew, StatusCancelled, StatusInProgress, StatusSkipped:
		return StatusInProgress, nil
	}
	return "", &StatusConsistencyError{Label: a.Label(), Status: a.Status, Branch: "visit report present"}
}

// ClosingStatus is the status an in-progress appointment takes when it is
// closed, by the user or by another appointment starting.
func ClosingStatus(sig CompletionSignal) Status {
	if sig.RequiredFormsUnkeyed {
		return StatusIncomplete
	}
	return StatusComplete
}

// canStart reports whether a user may move an appointment into
// IN_PROGRESS from its current status.
func canStart(a *Appointment) (bool, error) {
	switch a.Status {
	case StatusNew, StatusIncomplete, StatusComplete, StatusInProgress:
		return true, nil
	case StatusCancelled, StatusSkipped:
		return false, nil
	}
	return false, &StatusConsistencyError{Label: a.Label(), Status: a.Status, Branch: "starting"}
}

func canCancel(a *Appointment) (bool, error) {
	switch a.Status {
	case StatusNew, StatusIncomplete, StatusComplete, StatusCancelled:
		return true, nil
	case StatusInProgress, StatusSkipped:
		return false, nil
	}
	return false, &StatusConsistencyError{Label: a.Label(), Status: a.Status, Branch: "cancelling"}
}

// SiblingCascade keeps at most one appointment per scope in progress.
// Its writes go straight to the repository and never re-enter Recompute.
type SiblingCascade struct {
	repo     Repository
	metadata Metadata
}

func NewSiblingCascade(repo Repository, metadata Metadata) SiblingCascade {
	return SiblingCascade{repo: repo, metadata: metadata}
}

type CascadeChange struct {
	ID    uuid.UUID
	Label string
	From  Status
	To    Status
}

// Apply closes every in-progress appointment in started's scope other than
// started itself. It must run inside the caller's transaction.
func (c SiblingCascade) Apply(ctx context.Context, started *Appointment) ([]CascadeChange, error) {
	siblings, err := c.repo.List(ctx, started.Scope(), OrderByTimepoint)
	if err != nil {
		return nil, fmt.Errorf("list siblings: %w", err)
	}

	var changes []CascadeChange
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == started.ID || sib.Status != StatusInProgress {
			continue
		}

		sig, err := Signal(ctx, c.metadata, sib)
		if err != nil {
			return nil, err
		}
		to := ClosingStatus(sig)

		if err := c.repo.UpdateStatus(ctx, sib.ID, to); err != nil {
			return nil, fmt.Errorf("cascade %s: %w", sib.Label(), err)
		}
		changes = append(changes, CascadeChange{ID: sib.ID, Label: sib.Label(), From: sib.Status, To: to})
	}
	return changes, nil
}
