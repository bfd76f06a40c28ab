package command

import (
	"errors"
	"fmt"

	"github.com/srg/gattsd/pkg/native"
)

var (
	ErrDispatcherStopped = errors.New("command dispatcher stopped")
	ErrNotStarted        = errors.New("command dispatcher not started")
	ErrQueueFull         = errors.New("command queue full")
	ErrAlreadySubmitted  = errors.New("command already submitted")
)

// DriverStatusError is delivered to a command callback when the driver call
// returned a status other than success.
type DriverStatusError struct {
	Verb   string
	Status native.Status
}

func (e *DriverStatusError) Error() string {
	return fmt.Sprintf("%s failed: %s (%s)", e.Verb, e.Status, e.Status.Description())
}

// Is matches another DriverStatusError by status; an empty verb in the
// target matches any verb.
func (e *DriverStatusError) Is(target error) bool {
	t, ok := target.(*DriverStatusError)
	if !ok {
		return false
	}
	return t.Status == e.Status && (t.Verb == "" || t.Verb == e.Verb)
}

// ProtocolViolation is returned synchronously when a call would break the
// driver's call protocol, such as replying to an authorization request that
// was never raised.
type ProtocolViolation struct {
	Verb       string
	ConnHandle uint16
	Reason     string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("%s on connection 0x%04X: protocol violation: %s", e.Verb, e.ConnHandle, e.Reason)
}

// IsProtocolViolation reports whether err carries a ProtocolViolation.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolation
	return errors.As(err, &pv)
}

// StatusOf extracts the driver status from err, reporting false when err
// does not carry one.
func StatusOf(err error) (native.Status, bool) {
	var se *DriverStatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return native.Success, false
}
