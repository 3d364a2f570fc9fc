package schedule

import "errors"

// Domain errors for the schedule package.
var (
	// ErrNotAttached is returned when no writer is attached.
	ErrNotAttached = errors.New("schedule: no stream attached")

	// ErrInvalidSchedule is returned for schedules that could never run
	// sensibly, such as an infinite repeat with no interval.
	ErrInvalidSchedule = errors.New("schedule: invalid schedule")

	// ErrAlreadyScheduled is returned when the same Schedule is installed
	// twice.
	ErrAlreadyScheduled = errors.New("schedule: already scheduled")
)

// ErrorCode is passed to a schedule's error callback.
type ErrorCode int

// Error codes.
const (
	// ErrorWriteFailed means the stream rejected a write.
	ErrorWriteFailed ErrorCode = -1

	// ErrorDetached means the stream went away while the schedule was
	// active.
	ErrorDetached ErrorCode = -2
)

// String returns the code name for logs.
func (c ErrorCode) String() string {
	switch c {
	case ErrorWriteFailed:
		return "write_failed"
	case ErrorDetached:
		return "detached"
	}
	return "unknown"
}
