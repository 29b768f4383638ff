package rtdev

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// errnoError is a sentinel error that carries the errno reported to callers.
type errnoError struct {
	msg   string
	errno unix.Errno
}

func (e *errnoError) Error() string {
	return e.msg
}

// Errno returns the (positive) errno for this error.
func (e *errnoError) Errno() unix.Errno {
	return e.errno
}

var (
	// ErrInvalidArgument is returned when a request or its argument is outside of what the driver accepts.
	ErrInvalidArgument error = &errnoError{"invalid argument", unix.EINVAL}
	// ErrBusy is returned when opening a device node that is already open.
	ErrBusy error = &errnoError{"device or resource busy", unix.EBUSY}
	// ErrNoDevice is returned when no device node is registered under a name.
	ErrNoDevice error = &errnoError{"no such device", unix.ENODEV}
	// ErrNoHandler is returned when a handler asks to be retried from both execution contexts.
	ErrNoHandler error = &errnoError{"operation not handled in any execution context", unix.ENOSYS}
	// ErrBadFile is returned when using a file that was already closed.
	ErrBadFile error = &errnoError{"file already closed", unix.EBADF}
)

// A CopyFaultError reports a failure copying bytes between caller memory and a driver.
type CopyFaultError struct {
	Op  string
	Err unix.Errno
}

// NewCopyFault returns a CopyFaultError for the given transport status. The status may be given
// as either a negative or positive errno value; it is stored as a positive magnitude.
func NewCopyFault(op string, status int) *CopyFaultError {
	if status < 0 {
		status = -status
	}
	if status == 0 {
		status = int(unix.EFAULT)
	}
	return &CopyFaultError{Op: op, Err: unix.Errno(status)}
}

func (e *CopyFaultError) Error() string {
	return fmt.Sprintf("copy fault during %s: %v", e.Op, e.Err)
}

// Errno returns the (positive) errno of the underlying transport failure.
func (e *CopyFaultError) Errno() unix.Errno {
	return e.Err
}

// IsCopyFault returns whether err is or wraps a CopyFaultError.
func IsCopyFault(err error) bool {
	var cf *CopyFaultError
	return errors.As(err, &cf)
}

type errnoer interface {
	Errno() unix.Errno
}

// Errno maps err to the negative status convention expected by callers of a device node:
// 0 on success, -errno otherwise. Errors that carry no errno report -EIO.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	var withErrno errnoer
	if errors.As(err, &withErrno) {
		return -int(withErrno.Errno())
	}
	var raw unix.Errno
	if errors.As(err, &raw) {
		return -int(raw)
	}
	return -int(unix.EIO)
}
