package rootfs

import (
	"fmt"
	"path/filepath"

	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"golang.org/x/sys/unix"
)

// MountTmp mounts a tmpfs on <root>/tmp with nosuid,nodev,noexec,size=256M,
// per spec.md §4.2 step 4. Grounded on fs/fs.go's createTmpfs (teacher),
// narrowed to the single fixed size and flag set the spec requires instead
// of the teacher's caller-supplied storage quota.
func MountTmp(root string, unwind Unwinder) error {
	target := filepath.Join(root, "tmp")
	opts := "nosuid,nodev,noexec,size=256M"
	if err := unix.Mount("tmpfs", target, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "size=256m"); err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("mount tmpfs %s (%s)", target, opts), err)
	}
	unwind(func() error { return unix.Unmount(target, unix.MNT_DETACH) })
	return nil
}
