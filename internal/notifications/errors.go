package notifications

import (
	"errors"
	"fmt"
)

// ErrInvalidSubscription is wrapped by Subscription.Validate failures.
var ErrInvalidSubscription = errors.New("invalid subscription")

func errInvalidSubscription(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidSubscription, msg)
}

// CapabilityError reports that the platform lacks an API the push
// lifecycle needs. It is permanent for the session.
type CapabilityError struct {
	Missing []string
}

func (e *CapabilityError) Error() string {
	if len(e.Missing) == 0 {
		return "notifications are not supported on this platform"
	}
	return fmt.Sprintf("notifications are not supported on this platform (missing %v)", e.Missing)
}

// PermissionError reports that notification permission is denied or was
// never granted. Remediation is out-of-band, so callers must not retry.
type PermissionError struct {
	State string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("notification permission %s", e.State)
}

// Remediation returns user-facing guidance for restoring permission.
func (e *PermissionError) Remediation() string {
	return "Notifications are blocked. Open your browser's site settings, allow notifications for this site, then reload the page."
}

// TransportError wraps any failed HTTP or channel operation together with
// the name of the operation that failed.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DegradationNotice records why a push subscription fell back to basic
// mode. It is informational and is never returned as an error.
type DegradationNotice struct {
	Stage  string
	Reason error
}

func (n *DegradationNotice) String() string {
	return fmt.Sprintf("push degraded to basic mode at %s: %v", n.Stage, n.Reason)
}

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsPermission reports whether err is or wraps a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsCapability reports whether err is or wraps a CapabilityError.
func IsCapability(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}
