package watch

import (
	"errors"

	"goa.design/wflive/runtime/workflow"
)

// IntegrityError reports a malformed change event. The event is dropped; the
// stream that produced it remains usable.
type IntegrityError struct {
	// Key identifies the workflow named by the event, when it could be read.
	Key workflow.Key
	// Reason describes what is wrong with the event.
	Reason string
	// Err is the underlying decode or validation error, if any.
	Err error
}

// Error implements error.
func (e *IntegrityError) Error() string {
	msg := "invalid change event"
	if !e.Key.IsZero() {
		msg += " for " + e.Key.String()
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err wraps an *IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
