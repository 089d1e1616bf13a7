package rootfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"golang.org/x/sys/unix"
)

// maskedProcPaths are masked from the fresh procfs with an empty read-only
// tmpfs (directories) or a bind of /dev/null (files). Supplemental
// hardening kept from fs/procfs.go (teacher): nothing in spec.md's
// Non-goals excludes reducing the new PID namespace's procfs surface, and
// the "simulated root" concept is better served by a narrower /proc.
var maskedProcPaths = []string{
	"/proc/asound",
	"/proc/acpi",
	"/proc/interrupts",
	"/proc/kcore",
	"/proc/keys",
	"/proc/latency_stats",
	"/proc/timer_list",
	"/proc/sched_debug",
	"/proc/scsi",
}

// readOnlyProcPaths are bind-remounted read-only on top of the fresh proc
// mount, also kept from fs/procfs.go.
var readOnlyProcPaths = []string{
	"/proc/sys",
	"/proc/sysrq-trigger",
	"/proc/irq",
	"/proc/bus",
}

// MountProc mounts a fresh proc filesystem on <root>/proc — fresh so it
// reflects the new PID namespace, per spec.md §4.2 step 4 — then applies
// the masked/read-only subpath hardening.
func MountProc(root string, unwind Unwinder) error {
	target := filepath.Join(root, "proc")
	if err := unix.Mount("proc", target, "proc", unix.MS_NOSUID|unix.MS_NOEXEC|unix.MS_NODEV, ""); err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("mount proc %s", target), err)
	}
	unwind(func() error { return unix.Unmount(target, unix.MNT_DETACH) })

	for _, sub := range maskedProcPaths {
		maskProcPath(root, sub, unwind)
	}
	for _, sub := range readOnlyProcPaths {
		readOnlyProcPath(root, sub, unwind)
	}
	return nil
}

// maskProcPath best-effort masks one /proc subpath; failures are ignored
// since /proc's exact layout varies by kernel config and none of these
// paths are load-bearing for the guest's interpreter workload.
func maskProcPath(root, sub string, unwind Unwinder) {
	t := filepath.Join(root, sub)
	info, err := os.Lstat(t)
	if err != nil {
		return
	}

	if info.IsDir() {
		if err := unix.Mount("tmpfs", t, "tmpfs", unix.MS_NOSUID|unix.MS_NOEXEC|unix.MS_NODEV|unix.MS_RDONLY, "size=0"); err == nil {
			unwind(func() error { return unix.Unmount(t, unix.MNT_DETACH) })
		}
		return
	}

	if err := unix.Mount("/dev/null", t, "", unix.MS_BIND, ""); err != nil {
		return
	}
	if err := unix.Mount("", t, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil {
		_ = unix.Unmount(t, unix.MNT_DETACH)
		return
	}
	unwind(func() error { return unix.Unmount(t, unix.MNT_DETACH) })
}

func readOnlyProcPath(root, sub string, unwind Unwinder) {
	t := filepath.Join(root, sub)
	if _, err := os.Lstat(t); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return
		}
		return
	}

	if err := unix.Mount(t, t, "", unix.MS_BIND, ""); err != nil {
		return
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC)
	if err := unix.Mount("", t, "", flags, ""); err != nil {
		_ = unix.Unmount(t, unix.MNT_DETACH)
		return
	}
	unwind(func() error { return unix.Unmount(t, unix.MNT_DETACH) })
}
