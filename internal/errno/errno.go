// Package errno defines the kernel's negative-errno error convention.
//
// Every component that can fail in a way a caller should react to returns
// an Errno instead of panicking (see spec §7). Errno implements the error
// interface so it composes with ordinary Go error handling, but call sites
// that need the raw negative-errno value for a syscall return use Negate.
package errno

import "fmt"

// Errno is a positive error code; OK (zero) means success.
type Errno int

const (
	OK Errno = 0

	EPERM    Errno = 1
	ENOENT   Errno = 2
	EIO      Errno = 5
	ENXIO    Errno = 6
	EFAULT   Errno = 14
	EAGAIN   Errno = 11
	ENOMEM   Errno = 12
	EACCES   Errno = 13
	EBUSY    Errno = 16
	EEXIST   Errno = 17
	ENOTDIR  Errno = 20
	EISDIR   Errno = 21
	EINVAL   Errno = 22
	ENOSPC   Errno = 28
	EROFS    Errno = 30
	ERANGE   Errno = 34
	ENOSYS   Errno = 38
	ENOTEMPTY Errno = 39
	ECHILD   Errno = 10
	ETIMEDOUT Errno = 110
	ENAMETOOLONG Errno = 36
	EFBIG    Errno = 27
)

var names = map[Errno]string{
	OK:           "success",
	EPERM:        "operation not permitted",
	ENOENT:       "no such file or directory",
	EIO:          "I/O error",
	ENXIO:        "no such device or address",
	EFAULT:       "bad address",
	EAGAIN:       "resource temporarily unavailable",
	ENOMEM:       "out of memory",
	EACCES:       "permission denied",
	EBUSY:        "device or resource busy",
	EEXIST:       "file exists",
	ENOTDIR:      "not a directory",
	EISDIR:       "is a directory",
	EINVAL:       "invalid argument",
	ENOSPC:       "no space left on device",
	EROFS:        "read-only file system",
	ERANGE:       "result too large",
	ENOSYS:       "function not implemented",
	ENOTEMPTY:    "directory not empty",
	ECHILD:       "no child processes",
	ETIMEDOUT:    "operation timed out",
	ENAMETOOLONG: "file name too long",
	EFBIG:        "file too large",
}

func (e Errno) Error() string {
	if e == OK {
		return "success"
	}
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Negate returns the syscall-ABI value for this error: 0 for OK, otherwise
// the negative of the code (see spec §4.O).
func (e Errno) Negate() int64 {
	if e == OK {
		return 0
	}
	return -int64(e)
}

// Ok reports whether e represents success.
func (e Errno) Ok() bool { return e == OK }
