package executor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// cloneArgs mirrors the clone3(2) ABI struct (uapi/linux/sched.h).
//
// Grounded on sandbox/sandbox.go's cloneArgs (teacher), field-for-field
// identical — the ABI doesn't change across callers.
type cloneArgs struct {
	Flags      uint64
	Pidfd      uint64
	ChildTid   uint64
	ParentTid  uint64
	ExitSignal uint64
	Stack      uint64
	StackSize  uint64
	TLS        uint64
	SetTid     uint64
	SetTidSize uint64
	Cgroup     uint64
}

// namespaceFlags is the exact five-namespace set spec.md §4.2 step 2 names:
// mount, pid, network, uts, user. Narrowed from the teacher's defaultFlags,
// which additionally unshares IPC, cgroup, and time namespaces and requests
// a pidfd — none of which this spec's isolation plan calls for.
const namespaceFlags = unix.CLONE_NEWNS |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWNET |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWUSER

// cloneIntoNamespaces calls clone3 with namespaceFlags, forking a new
// process rooted in all five namespaces at once. The fork is required (not
// a plain unshare) because CLONE_NEWPID only takes effect for children
// created afterward: the caller becomes PID 1's parent in the new
// namespace, never a member of it.
func cloneIntoNamespaces() (pid uintptr, err error) {
	args := cloneArgs{
		Flags:      uint64(namespaceFlags),
		ExitSignal: uint64(unix.SIGCHLD),
	}

	pid, _, errno := unix.Syscall(
		unix.SYS_CLONE3,
		uintptr(unsafe.Pointer(&args)),
		uintptr(unsafe.Sizeof(args)),
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return pid, nil
}
