package buffer

import "errors"

var (
	// ErrDiskFull is returned when the disk log would exceed its configured
	// maximum item count. Enqueue surfaces it to the caller.
	ErrDiskFull = errors.New("disk buffer full")

	// ErrThrottled is returned when the flow-control gate refuses admission.
	ErrThrottled = errors.New("enqueue throttled")

	// ErrClosed is returned for operations on a closed buffer.
	ErrClosed = errors.New("buffer closed")
)
