package rootfs

import (
	"golang.org/x/sys/unix"
)

// ViewOptions configures BuildView, mapping directly onto the relevant
// JobRequest executor flags (spec.md §3).
type ViewOptions struct {
	// Root is the absolute path to the rootfs skeleton (settings.rootfs).
	Root string

	// JobDir is the absolute host path of the job's source tree, bound
	// onto <Root>/work.
	JobDir string

	// NoexecWork adds MS_NOEXEC to the /work bind.
	NoexecWork bool

	// BindFullEtc selects binding the entire /etc tree vs. the minimal
	// whitelist.
	BindFullEtc bool
}

// systemBinds are the host system directories bound read-only into the
// rootfs view, per spec.md §4.2 step 4. The architecture subtree is
// appended conditionally by BuildView.
var systemBinds = []string{"usr", "lib", "lib64", "bin"}

// BuildView performs every bind in spec.md §4.2 step 4, in the mandated
// order: tmpfs on /tmp, fresh /proc, read-only system directory binds,
// allowlisted device binds, /etc, then the job directory onto /work. Each
// successful operation registers its own teardown with unwind, so a
// failure partway through leaves only the completed mounts to be undone —
// by the caller, in LIFO order.
//
// The only writes to the skeleton at opts.Root are missing directories
// (EnsureDirs) and empty placeholder files or directories created as bind
// targets; these persist on the host filesystem. Every mount stays inside
// this private mount namespace, and no existing file is copied or edited
// in place.
func BuildView(opts ViewOptions, unwind Unwinder) error {
	if err := EnsureDirs(opts.Root); err != nil {
		return err
	}

	if err := MountTmp(opts.Root, unwind); err != nil {
		return err
	}

	if err := MountProc(opts.Root, unwind); err != nil {
		return err
	}

	binds := append([]string{}, systemBinds...)
	if isDir(archLibDir) {
		binds = append(binds, "lib/"+archLibName)
	}
	for _, dir := range binds {
		spec := BindSpec{Host: "/" + dir, Dest: dir, RO: true}
		if err := Bind(opts.Root, spec, unwind); err != nil {
			return err
		}
	}

	if err := BindDevices(opts.Root, unwind); err != nil {
		return err
	}

	if err := BindEtc(opts.Root, opts.BindFullEtc, unwind); err != nil {
		return err
	}

	workFlags := uintptr(0)
	if opts.NoexecWork {
		workFlags = unix.MS_NOEXEC
	}
	workSpec := BindSpec{Host: opts.JobDir, Dest: "work", RO: false, ExtraFlags: workFlags}
	if err := Bind(opts.Root, workSpec, unwind); err != nil {
		return err
	}

	return nil
}
