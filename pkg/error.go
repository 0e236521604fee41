package pkg

import "errors"

// Scheduler and driver errors.
var (
	// ErrResourceExhausted indicates the message envelope pool is empty.
	// The caller may retry or shed load; it keeps ownership of the payload.
	ErrResourceExhausted = errors.New("message envelopes exhausted")

	// ErrInvalidDestination indicates a post to a destination that has no
	// queue on the requested flow.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrHandlerFailed indicates a dispatch handler returned failure.
	ErrHandlerFailed = errors.New("dispatch handler failed")

	// ErrTimeout indicates a handshake did not complete in time.
	ErrTimeout = errors.New("handshake timeout")

	// ErrFatalStarvation indicates envelope exhaustion persisted past the
	// starvation limit, i.e. a consumer is stuck.
	ErrFatalStarvation = errors.New("fatal envelope starvation")

	// ErrNoHandler indicates a message reached a queue with no bound handler.
	ErrNoHandler = errors.New("no handler bound")

	// ErrUnknownMessage indicates a message kind the handler does not know.
	ErrUnknownMessage = errors.New("unknown message kind")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the component is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrSuspended indicates the flow is suspended.
	ErrSuspended = errors.New("flow suspended")

	// ErrFirmware indicates the firmware download failed.
	ErrFirmware = errors.New("firmware download failed")

	// ErrBus indicates a bus transport failure.
	ErrBus = errors.New("bus error")

	// ErrCancelled indicates the operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrFailure is the generic failure reported for [StatusFailure].
	ErrFailure = errors.New("failure")
)

// Status is the completion status carried back through a handshake or
// recorded for a dispatched message.
type Status int

// Status values.
const (
	StatusSuccess            Status = iota // Completed successfully
	StatusFailure                          // Generic failure
	StatusResources                        // Envelope pool exhausted
	StatusInvalidDestination               // Unknown destination
	StatusHandlerFailed                    // Dispatch handler failed
	StatusTimeout                          // Handshake timed out
	StatusFatal                            // Fatal starvation
	StatusCancelled                        // Cancelled by caller
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusResources:
		return "resources"
	case StatusInvalidDestination:
		return "invalid-destination"
	case StatusHandlerFailed:
		return "handler-failed"
	case StatusTimeout:
		return "timeout"
	case StatusFatal:
		return "fatal"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the status.
func (s Status) Error() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusResources:
		return ErrResourceExhausted
	case StatusInvalidDestination:
		return ErrInvalidDestination
	case StatusHandlerFailed:
		return ErrHandlerFailed
	case StatusTimeout:
		return ErrTimeout
	case StatusFatal:
		return ErrFatalStarvation
	case StatusCancelled:
		return ErrCancelled
	default:
		return ErrFailure
	}
}

// StatusOf classifies err. Wrapped errors are matched with [errors.Is].
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrResourceExhausted):
		return StatusResources
	case errors.Is(err, ErrInvalidDestination):
		return StatusInvalidDestination
	case errors.Is(err, ErrHandlerFailed):
		return StatusHandlerFailed
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrFatalStarvation):
		return StatusFatal
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	default:
		return StatusFailure
	}
}
