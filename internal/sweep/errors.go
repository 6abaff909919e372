package sweep

import (
	"errors"
	"fmt"
)

// DefaultMaxCombinations is the most jobs one sweep may create.
const DefaultMaxCombinations = 100

var (
	// ErrNoValidCombinations means no (node, param) pair has any candidate.
	ErrNoValidCombinations = errors.New("no valid parameter combinations: add at least one test value")

	// ErrNoOutputNode means zero or several output nodes are visible, so the
	// node whose image should be collected cannot be chosen automatically.
	ErrNoOutputNode = errors.New("could not determine the output node: select a single image output node")

	// ErrSessionInactive is returned when work is attempted for a session
	// that has been superseded or cancelled.
	ErrSessionInactive = errors.New("sweep session is no longer active")
)

// TooManyCombinationsError carries the true combination count of a rejected sweep.
type TooManyCombinationsError struct {
	Count int
	Max   int
}

func (e *TooManyCombinationsError) Error() string {
	return fmt.Sprintf("too many combinations: %d exceeds the limit of %d, reduce the number of test values", e.Count, e.Max)
}

// DispatchError records a submission that produced no job handle.
type DispatchError struct {
	Index int
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch job %d: %v", e.Index, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsUserFacing reports whether err is one of the conditions the panel shows
// to the user as an inline message rather than logging.
func IsUserFacing(err error) bool {
	var tooMany *TooManyCombinationsError
	return errors.As(err, &tooMany) ||
		errors.Is(err, ErrNoValidCombinations) ||
		errors.Is(err, ErrNoOutputNode)
}
