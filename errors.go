package ext4

import (
	"syscall"

	"github.com/pkg/errors"

	log "github.com/dsoprea/go-logging"
)

var logger = log.NewLogger("ext4")

// Logical errors are returned to the caller as negative POSIX-style codes,
// the way the fs_*.cc operations in the original source do (-ENOENT,
// -ENAMETOOLONG, ...). Go callers get a *LogicalError wrapping the same
// syscall.Errno so both styles are available.
type LogicalError struct {
	Errno syscall.Errno
}

func (e *LogicalError) Error() string {
	return e.Errno.Error()
}

func (e *LogicalError) Unwrap() error {
	return e.Errno
}

func logicalErr(errno syscall.Errno) error {
	return &LogicalError{Errno: errno}
}

var (
	// ErrNotFound is returned when path resolution cannot locate an entry.
	ErrNotFound = logicalErr(syscall.ENOENT)
	// ErrNotDirectory is returned when a path component that must be a
	// directory is not.
	ErrNotDirectory = logicalErr(syscall.ENOTDIR)
	// ErrNameTooLong is returned when a new directory entry's name exceeds
	// the on-disk name length field.
	ErrNameTooLong = logicalErr(syscall.ENAMETOOLONG)
	// ErrIsDirectory is returned when an operation requiring a regular
	// file is given a directory.
	ErrIsDirectory = logicalErr(syscall.EISDIR)
)

// fatalf logs an invariant violation or I/O failure and terminates the
// process. There is no journal and no recovery path (spec §7): a fatal
// mid-operation exit may leave on-disk state inconsistent, and that is
// accepted rather than papered over.
func fatalf(cause error, format string, args ...interface{}) {
	var wrapped error
	if cause == nil {
		wrapped = errors.Errorf(format, args...)
	} else {
		wrapped = errors.Wrapf(cause, format, args...)
	}
	log.Panic(log.Wrap(wrapped))
}

// fatalIf is fatalf's guard form, mirroring the original source's
// `if (ret < 0) LOG(FATAL) << ...` call sites.
func fatalIf(cond bool, cause error, format string, args ...interface{}) {
	if cond {
		fatalf(cause, format, args...)
	}
}

// errWrapf wraps a non-fatal setup error (e.g. opening a backing file)
// with context, the way direktiv-vorteil and masahiro331/go-ext4-filesystem
// wrap lower-level causes before returning them to a caller.
func errWrapf(cause error, format string, args ...interface{}) error {
	return errors.Wrapf(cause, format, args...)
}
