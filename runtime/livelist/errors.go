package livelist

import (
	"errors"
	"fmt"
)

// Operations reported by TransportError.
const (
	// OpSnapshot identifies a snapshot fetch failure.
	OpSnapshot = "snapshot"
	// OpWatch identifies a change stream failure.
	OpWatch = "watch"
)

var (
	// ErrClosed is returned when a View is used after Unmount.
	ErrClosed = errors.New("live list view is unmounted")
	// ErrStreamClosed is the cause reported when a change stream ends
	// without an error.
	ErrStreamClosed = errors.New("change stream closed")
)

// TransportError reports a failure of the snapshot source or the change
// stream. The pipeline stops and is not retried.
type TransportError struct {
	// Op is OpSnapshot or OpWatch.
	Op string
	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("live list %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
