package genlab

import (
	"errors"
	"fmt"

	"github.com/banshee-data/genlab/internal/sweep"
)

var (
	// ErrWrongScreen is returned for an operation the current screen does
	// not allow.
	ErrWrongScreen = errors.New("operation not available on this screen")

	ErrNoSelection  = errors.New("no nodes selected: select at least one node in the graph")
	ErrUnknownNode  = errors.New("node is not part of this sweep")
	ErrUnknownParam = errors.New("parameter is not part of this sweep")
	ErrWrongKind    = errors.New("operation does not apply to this parameter kind")
	ErrOutOfRange   = errors.New("index out of range")
	ErrNoResult     = errors.New("no finished result selected")

	// ErrNoVariants means ApplyTextVariants was called before any variants
	// were generated for the parameter.
	ErrNoVariants = errors.New("no generated text variants to apply")

	// ErrAssistantUnavailable means the panel has no assistant configured.
	ErrAssistantUnavailable = errors.New("text variant generation is not available")

	// ErrVariantGeneration wraps assistant failures.
	ErrVariantGeneration = errors.New("text variant generation failed")
)

func wrongScreen(op string, s Screen) error {
	return fmt.Errorf("%w: %s on %s", ErrWrongScreen, op, s)
}

// IsUserFacing reports whether err is shown to the user as an inline
// message on the panel.
func IsUserFacing(err error) bool {
	return sweep.IsUserFacing(err) ||
		errors.Is(err, ErrNoSelection) ||
		errors.Is(err, ErrNoResult) ||
		errors.Is(err, ErrAssistantUnavailable) ||
		errors.Is(err, ErrVariantGeneration)
}
