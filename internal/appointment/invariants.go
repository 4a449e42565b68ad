package appointment

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvariantViolated = errors.New("appointment invariant violated")

// CheckInvariants inspects a snapshot of appointments, possibly spanning
// several scopes, and returns every structural violation joined into one
// error: sequence gaps, reason not matching sequence, cancelled canonical
// appointments and more than one IN_PROGRESS appointment per scope.
func CheckInvariants(appts []Appointment) error {
	var errs []error

	sequences := make(map[string][]int)
	inProgress := make(map[Scope][]string)

	for i := range appts {
		a := &appts[i]

		wantReason := ReasonScheduled
		if !a.IsCanonical() {
			wantReason = ReasonUnscheduled
		}
		if a.Reason != wantReason {
			errs = append(errs, fmt.Errorf("%w: %s %s has reason %s", ErrInvariantViolated, a.Scope(), a.Label(), a.Reason))
		}
		if a.IsCanonical() && a.Status == StatusCancelled {
			errs = append(errs, fmt.Errorf("%w: %s %s is a cancelled canonical appointment", ErrInvariantViolated, a.Scope(), a.Label()))
		}
		if a.Status == StatusInProgress {
			inProgress[a.Scope()] = append(inProgress[a.Scope()], a.Label())
		}

		key := a.Scope().String() + " " + a.VisitCode
		sequences[key] = append(sequences[key], a.VisitCodeSequence)
	}

	keys := make([]string, 0, len(sequences))
	for k := range sequences {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		seqs := sequences[k]
		sort.Ints(seqs)
		for i, seq := range seqs {
			if seq != i {
				errs = append(errs, fmt.Errorf("%w: %s sequences %v are not contiguous from 0", ErrInvariantViolated, k, seqs))
				break
			}
		}
	}

	for scope, labels := range inProgress {
		if len(labels) > 1 {
			errs = append(errs, fmt.Errorf("%w: %s has %d appointments in progress %v", ErrInvariantViolated, scope, len(labels), labels))
		}
	}

	return errors.Join(errs...)
}
