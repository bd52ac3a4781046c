package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingFlagColumn is returned when the event type needs a flag the
	// table does not have. Flag the events upstream before analysing them.
	ErrMissingFlagColumn = errors.New("missing flag column")

	// ErrMissingColumn is returned when a requested parameter, or a column it
	// is derived from, is absent from the table.
	ErrMissingColumn = errors.New("missing column")

	// ErrNoStorage is returned when an output mode other than none is requested
	// on an analyzer without a store.
	ErrNoStorage = errors.New("no baseline storage configured")

	// ErrNoMetadata is returned when exposure is requested without a metadata provider.
	ErrNoMetadata = errors.New("no metadata provider configured")
)

// WarningCode classifies a non-fatal problem.
type WarningCode string

// WarnUnknownCutColumn: the cut names a column the table does not have; it was skipped.
const WarnUnknownCutColumn WarningCode = "UnknownCutColumn"

// Warning is a recoverable problem recorded on the result.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}
