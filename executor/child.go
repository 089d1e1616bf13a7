package executor

import (
	"fmt"
	"os"

	"github.com/sandboxrun/sandboxrun/caps"
	"github.com/sandboxrun/sandboxrun/config"
	"github.com/sandboxrun/sandboxrun/network"
	"github.com/sandboxrun/sandboxrun/rootfs"
	"github.com/sandboxrun/sandboxrun/secpolicy"
	"golang.org/x/sys/unix"
)

// childConfig carries everything the post-clone child branch needs. It is
// built entirely in the parent before cloneIntoNamespaces and handed to
// runChild only after pid == 0, since the child is a copy of the calling
// goroutine's stack at the instant of the clone3 syscall.
type childConfig struct {
	rfd      int
	errfd    int
	hostname string
	settings *config.Settings
	job      JobRequest
	argv     []string

	stdoutW, stderrW *os.File
	stdoutR, stderrR *os.File

	// otherSyncEnd is the write end of the sync pipe, which the child
	// never uses but must close its own copy of so that the parent is
	// the only process capable of writing to it.
	otherSyncEnd int
}

// runChild performs spec.md §4.2 phases 3 through 6 and then execs the
// guest. It never returns: every path ends in unix.Exec or unix.Exit.
//
// Grounded on sandbox/sandbox.go's pid==0 branch (teacher): set hostname,
// wait for parent, set up filesystem, drop capabilities, apply seccomp,
// exec. Unlike the teacher's caller-supplied --hostname, this spec defines
// no hostname configuration surface, so the hostname here is always
// generated (see hostname.go), never user-controlled.
func runChild(cfg childConfig) {
	_ = cfg.stdoutR.Close()
	_ = cfg.stderrR.Close()
	_ = unix.Close(cfg.otherSyncEnd)

	if err := waitForParent(cfg.rfd); err != nil {
		childFail(cfg.errfd, nil, fmt.Errorf("wait for parent: %w", err))
	}

	if err := unix.Dup2(int(cfg.stdoutW.Fd()), 1); err != nil {
		childFail(cfg.errfd, nil, fmt.Errorf("dup2 stdout: %w", err))
	}
	if err := unix.Dup2(int(cfg.stderrW.Fd()), 2); err != nil {
		childFail(cfg.errfd, nil, fmt.Errorf("dup2 stderr: %w", err))
	}
	_ = cfg.stdoutW.Close()
	_ = cfg.stderrW.Close()

	if cfg.hostname != "" {
		if err := unix.Sethostname([]byte(cfg.hostname)); err != nil {
			childFail(cfg.errfd, nil, fmt.Errorf("set hostname: %w", err))
		}
	}

	if err := rootfs.MakeRootPrivate(); err != nil {
		childFail(cfg.errfd, nil, err)
	}

	// unwind is run on any failure from here on, even though the kernel
	// would tear down every mount automatically when this single-member
	// private mount namespace's last process exits — the scoped-acquisition
	// discipline applies uniformly, not only where the kernel wouldn't
	// otherwise help.
	var unwind unwindStack
	view := rootfs.ViewOptions{
		Root:        cfg.settings.Rootfs,
		JobDir:      cfg.job.JobDir,
		NoexecWork:  cfg.job.NoexecWork,
		BindFullEtc: cfg.job.BindFullEtc,
	}
	if err := rootfs.BuildView(view, unwind.push); err != nil {
		childFail(cfg.errfd, &unwind, err)
	}

	if cfg.job.EnableLoopback {
		if err := network.EnableLoopback(); err != nil {
			childFail(cfg.errfd, &unwind, err)
		}
	}

	if err := unix.Chroot(cfg.settings.Rootfs); err != nil {
		childFail(cfg.errfd, &unwind, fmt.Errorf("chroot %s: %w", cfg.settings.Rootfs, err))
	}
	if err := unix.Chdir("/"); err != nil {
		childFail(cfg.errfd, &unwind, fmt.Errorf("chdir /: %w", err))
	}
	unix.Umask(0o002)

	// CAP_SYS_CHROOT is no longer needed now that chroot has happened.
	if err := caps.Apply(true); err != nil {
		childFail(cfg.errfd, &unwind, fmt.Errorf("apply capabilities: %w", err))
	}

	if err := secpolicy.Apply(nil); err != nil {
		childFail(cfg.errfd, &unwind, err)
	}

	err := unix.Exec(cfg.argv[0], cfg.argv, os.Environ())
	// Exec only returns on failure. A successful exec never reaches here,
	// so errfd is only ever written to on a genuine launch failure.
	childFail(cfg.errfd, &unwind, fmt.Errorf("exec %s: %w", cfg.argv[0], err))
}

// childFail reports msg to the parent over errfd, runs whatever teardown
// unwind has accumulated so far, and terminates the child. It never
// returns.
func childFail(errfd int, unwind *unwindStack, err error) {
	writeLaunchError(errfd, err.Error())
	if unwind != nil {
		unwind.run()
	}
	fmt.Fprintln(os.Stderr, err.Error())
	unix.Exit(1)
}
