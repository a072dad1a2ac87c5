package sequence

import (
	"errors"
	"fmt"
)

var (
	ErrCounterNotFound  = errors.New("sequence counter not found")
	ErrMalformedCounter = errors.New("sequence counter holds a malformed code")
	ErrAllocationFailed = errors.New("sequence allocation failed")
)

// AllocationError reports a storage failure while issuing a code. It matches
// ErrAllocationFailed with errors.Is and unwraps to the storage error.
type AllocationError struct {
	Entity   string
	Attempts int
	Err      error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %s code after %d attempt(s): %v", e.Entity, e.Attempts, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

func (e *AllocationError) Is(target error) bool { return target == ErrAllocationFailed }
