// Package sandboxerr defines the error taxonomy shared by every layer of
// the sandbox executor, from config loading down to guest supervision.
package sandboxerr

import "fmt"

// Code classifies a sandbox failure so callers can branch on it without
// parsing error strings.
type Code int

const (
	// ConfigInvalid marks a malformed or missing required configuration key.
	ConfigInvalid Code = iota

	// PreflightFailed marks a missing rootfs/job directory, an entry that
	// resolves outside the job directory, or a kernel feature the host lacks.
	PreflightFailed

	// CgroupUnavailable marks an attempt to use cgroups on a host without a
	// unified cgroup v2 hierarchy.
	CgroupUnavailable

	// CgroupCreate marks a failure creating or enabling controllers on a leaf.
	CgroupCreate

	// CgroupWrite marks a failure writing a limit or control file to a leaf.
	CgroupWrite

	// NamespaceSetup marks an unshare/mount/chroot failure before the guest
	// has been launched.
	NamespaceSetup

	// GuestLaunch marks an exec failure inside the chroot.
	GuestLaunch

	// GuestTimeout marks a deadline expiry; not itself a bug, but carried as
	// a Code so RunResult construction can branch on it.
	GuestTimeout

	// CleanupDegraded marks a failed unwind step. Never overwrites a primary
	// RunResult; only ever attached as a warning.
	CleanupDegraded
)

// String renders the taxonomy name used in RunResult stderr summaries.
func (c Code) String() string {
	switch c {
	case ConfigInvalid:
		return "ConfigInvalid"
	case PreflightFailed:
		return "PreflightFailed"
	case CgroupUnavailable:
		return "CgroupUnavailable"
	case CgroupCreate:
		return "CgroupCreate"
	case CgroupWrite:
		return "CgroupWrite"
	case NamespaceSetup:
		return "NamespaceSetup"
	case GuestLaunch:
		return "GuestLaunch"
	case GuestTimeout:
		return "GuestTimeout"
	case CleanupDegraded:
		return "CleanupDegraded"
	default:
		return "Unknown"
	}
}

// Error is a typed sandbox error wrapping an underlying cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with no underlying cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap builds an Error carrying an underlying cause.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}
