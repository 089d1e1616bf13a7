// Package rootfs builds the isolated root filesystem view inside the
// sandbox's private mount namespace: a rootfs skeleton on disk is
// overlaid with fresh tmpfs/proc mounts and read-only binds of host
// system directories, plus a read-write (or noexec) bind of the job
// directory onto /work.
//
// Grounded on fs/fs.go, fs/devfs.go, fs/etc.go, fs/procfs.go, fs/tmp.go
// (teacher), generalized per spec.md §4.2 step 4 from the teacher's
// overlayfs-on-tmpfs design to direct bind mounts over a pre-existing
// rootfs skeleton, since the skeleton is meant to be reused across calls
// and the spec's invariant is that it is "never mutated in-place from
// outside the guest's private mount namespace" — a plain chroot over
// binds makes that invariant mechanical rather than relying on an overlay
// upper layer to absorb writes.
package rootfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"golang.org/x/sys/unix"
)

// Unwinder is the narrow capability every mount operation in this package
// uses to register its own teardown immediately after success, per
// spec.md §4.2's "each phase has a corresponding unwind action registered
// immediately on success" and §9's "scoped-acquisition discipline."
type Unwinder func(undo func() error)

// MakeRootPrivate marks "/" MS_PRIVATE|MS_REC so none of the bind mounts
// performed afterward leak to the host or to sibling namespaces. Must run
// before any bind mount in this package, per spec.md §5 ordering guarantee.
func MakeRootPrivate() error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, "mount --make-rprivate /", err)
	}
	return nil
}

// EnsureDirs creates the base directory skeleton a rootfs view needs:
// proc, tmp, usr, lib, lib64, bin, work, dev, and the architecture subtree
// when the host carries one.
func EnsureDirs(root string) error {
	for _, d := range []string{"proc", "tmp", "usr", "lib", "lib64", "bin", "work", "dev"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return sandboxerr.Wrap(sandboxerr.PreflightFailed, fmt.Sprintf("mkdir %s", d), err)
		}
	}
	if isDir(archLibDir) {
		if err := os.MkdirAll(filepath.Join(root, "lib", archLibName), 0o755); err != nil {
			return sandboxerr.Wrap(sandboxerr.PreflightFailed, "mkdir arch lib subtree", err)
		}
	}
	return nil
}

const (
	archLibName = "x86_64-linux-gnu"
	archLibDir  = "/lib/" + archLibName
)

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func isExist(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// BindSpec describes one host-to-sandbox bind mount.
type BindSpec struct {
	Host string
	Dest string // relative to the rootfs root
	RO   bool

	// ExtraFlags are additional mount flags ORed into the initial bind
	// (e.g. MS_NOEXEC for /work when noexec_work is requested).
	ExtraFlags uintptr
}

// Bind performs the bind-remount idiom the kernel requires for read-only
// binds: an initial MS_BIND (the "ro" flag is ignored on this first call),
// then a MS_REMOUNT|MS_BIND|MS_RDONLY pass that actually enforces it.
// Creates the target (directory, or placeholder file for non-directories)
// if missing. Registers its own unmount with unwind on success.
func Bind(root string, spec BindSpec, unwind Unwinder) error {
	target := filepath.Join(root, spec.Dest)

	st, err := os.Stat(spec.Host)
	if err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("stat %s", spec.Host), err)
	}

	if st.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("mkdir %s", target), err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("mkdir %s", filepath.Dir(target)), err)
		}
		f, err := os.OpenFile(target, os.O_CREATE, 0o644)
		if err != nil {
			return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("touch %s", target), err)
		}
		_ = f.Close()
	}

	flags := unix.MS_BIND | unix.MS_REC | unix.MS_NOSUID | unix.MS_NODEV | spec.ExtraFlags
	if err := unix.Mount(spec.Host, target, "", uintptr(flags), ""); err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("bind %s -> %s", spec.Host, target), err)
	}
	unwind(func() error { return unix.Unmount(target, unix.MNT_DETACH) })

	if spec.RO {
		roFlags := unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NODEV | spec.ExtraFlags
		if err := unix.Mount("", target, "", uintptr(roFlags), ""); err != nil {
			return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("remount ro %s", target), err)
		}
	}

	return nil
}

// BindIfPresent is Bind, but silently skipped when spec.Host does not
// exist on the host — used for optional device nodes and /etc files whose
// presence varies by distro.
func BindIfPresent(root string, spec BindSpec, unwind Unwinder) error {
	if !isExist(spec.Host) {
		return nil
	}
	return Bind(root, spec, unwind)
}
