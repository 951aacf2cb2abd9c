package subject

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for registry operations. Parameterised failures wrap these
// so callers can branch with errors.Is while logs keep the detail.
var (
	// ErrPatternNotFound is returned when no pattern has the requested name.
	ErrPatternNotFound = errors.New("subject: pattern not found")

	// ErrInvalidPattern is returned by Register for structurally bad templates.
	ErrInvalidPattern = errors.New("subject: invalid pattern")

	// ErrSubjectTooLong is returned when a built subject exceeds the maximum.
	ErrSubjectTooLong = errors.New("subject: subject too long")

	// ErrBroadSubscription is returned when a derived subscription pattern
	// would be too permissive to subscribe safely.
	ErrBroadSubscription = errors.New("subject: subscription pattern too broad")
)

// MissingParameterError reports required parameters absent from a Build call.
type MissingParameterError struct {
	Pattern string
	Missing []string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("subject: pattern %q missing parameters: %s",
		e.Pattern, strings.Join(e.Missing, ", "))
}

// InvalidValueError reports a parameter value illegal under the active alphabet.
type InvalidValueError struct {
	Pattern string
	Param   string
	Value   string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("subject: pattern %q parameter %q has invalid value %q",
		e.Pattern, e.Param, e.Value)
}
