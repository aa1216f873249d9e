package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTaskNotFound is returned when no task exists under the given owner
	// and id. A task owned by someone else is reported the same way.
	ErrTaskNotFound = errors.New("task not found or unauthorized")

	// ErrConcurrencyConflict indicates that the store rejected a conditional
	// write because the entity changed since it was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrMissingOwner is returned for calls without a resolved owner.
	ErrMissingOwner = errors.New("missing owner")
)

// ValidationError reports malformed input. It is always returned before
// any write takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StoreError wraps a failure of the persistent store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// ReorderFailure is a single assignment of a reorder batch that was not applied.
type ReorderFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// ReorderError is returned when at least one assignment of a reorder batch
// failed. Assignments listed in Result.Applied stay applied.
type ReorderError struct {
	Result ReorderResult
}

func (e *ReorderError) Error() string {
	ids := make([]string, len(e.Result.Failed))
	for i, f := range e.Result.Failed {
		ids[i] = f.ID
	}
	if e.Partial() {
		return fmt.Sprintf("reorder partially applied: %d applied, %d failed (%s)", len(e.Result.Applied), len(e.Result.Failed), strings.Join(ids, ", "))
	}
	return fmt.Sprintf("reorder failed for %s", strings.Join(ids, ", "))
}

// Partial reports whether some assignments were applied before or while
// others failed.
func (e *ReorderError) Partial() bool { return len(e.Result.Applied) > 0 }

// AllNotFound reports whether every failure is a missing or foreign task.
func (e *ReorderError) AllNotFound() bool {
	if len(e.Result.Failed) == 0 {
		return false
	}
	for _, f := range e.Result.Failed {
		if !errors.Is(f.Err, ErrTaskNotFound) {
			return false
		}
	}
	return true
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTaskNotFound) {
		return ErrTaskNotFound
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
