package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandboxrun/sandboxrun/cgroup"
	"github.com/sandboxrun/sandboxrun/config"
	"github.com/sandboxrun/sandboxrun/runner"
	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"golang.org/x/sys/unix"
)

// drainGrace bounds how long drainHandle.collect is allowed to block after a
// timeout has already fired and the cgroup kill (or signal fallback) has
// been issued, per spec.md §5's "bounded grace (≤ 1s)".
const drainGrace = 1 * time.Second

// Run executes job inside an isolated sandbox built from settings and
// limits, and returns exactly one RunResult. It implements the phase
// sequence of spec.md §4.2: prepare cgroup, compose namespaces, enter the
// mount namespace and build the rootfs view, configure the network,
// chroot and exec, supervise to a deadline, collect output and metrics,
// and unwind.
func Run(job JobRequest, settings *config.Settings, limits *config.Limits, run runner.Runner) RunResult {
	var unwind unwindStack

	if err := preflight(job, settings); err != nil {
		return errorResult(err, unwind.run())
	}

	if err := run.Build(job.JobDir); err != nil {
		return errorResult(sandboxerr.Wrap(sandboxerr.PreflightFailed, "runner build", err), unwind.run())
	}

	// Phase 1: prepare cgroup, if enabled.
	var leaf *cgroup.Leaf
	if limits.Enabled {
		mgr := cgroup.NewManager(cgroup.DefaultRoot)
		id := cgroup.NewID()

		var err error
		leaf, err = mgr.CreateLeaf(id, limits.IO.Enabled)
		if err != nil {
			return errorResult(err, unwind.run())
		}
		// Kill is also issued earlier on the timeout and launch-failure
		// paths; the unwind kills whatever is still left in the leaf and
		// then removes the directory. It runs only after metrics have been
		// snapshotted.
		unwind.push(func() error { return cgroup.KillAndCleanup(leaf, 5*time.Second) })

		if err := applyLimits(leaf, limits); err != nil {
			return errorResult(err, unwind.run())
		}
	}

	// Phase 2-6: compose namespaces, build rootfs, configure network,
	// chroot, exec. All happen in a freshly cloned child process.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return errorResult(sandboxerr.Wrap(sandboxerr.NamespaceSetup, "stdout pipe", err), unwind.run())
	}
	defer func() { _ = stdoutR.Close() }()

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return errorResult(sandboxerr.Wrap(sandboxerr.NamespaceSetup, "stderr pipe", err), unwind.run())
	}
	defer func() { _ = stderrR.Close() }()

	syncR, syncW, err := makeSyncPipe()
	if err != nil {
		return errorResult(sandboxerr.Wrap(sandboxerr.NamespaceSetup, "sync pipe", err), unwind.run())
	}

	// errR/errW is a CLOEXEC pipe the child writes a one-line message to
	// if any setup step before exec fails. A successful execve closes
	// errW implicitly (CLOEXEC), so the parent distinguishes "the guest
	// never launched" from "the guest launched and exited" by whether
	// this pipe yields data or a clean EOF — wait4's exit status alone
	// cannot tell the two apart, since a real guest exiting with code 1
	// looks identical to our own setup code calling os.Exit(1).
	var errFds [2]int
	if err := unix.Pipe2(errFds[:], unix.O_CLOEXEC); err != nil {
		closePipe(syncR, syncW)
		return errorResult(sandboxerr.Wrap(sandboxerr.NamespaceSetup, "error pipe", err), unwind.run())
	}
	errR, errW := errFds[0], errFds[1]

	sandboxEntry := filepath.Join("/work", job.Entry)
	argv := run.Command(sandboxEntry)

	pid, err := cloneIntoNamespaces()
	if err != nil {
		closePipe(syncR, syncW)
		return errorResult(sandboxerr.Wrap(sandboxerr.NamespaceSetup, "clone3", err), unwind.run())
	}

	if pid == 0 {
		// Child: never returns. Either execs the guest or unix.Exit()s.
		runChild(childConfig{
			rfd:          syncR,
			errfd:        errW,
			hostname:     generateHostname(),
			settings:     settings,
			job:          job,
			argv:         argv,
			stdoutW:      stdoutW,
			stderrW:      stderrW,
			stdoutR:      stdoutR,
			stderrR:      stderrR,
			otherSyncEnd: syncW,
		})
		panic("unreachable: runChild must not return")
	}

	// Parent from here on. Only the child reads syncR (in waitForParent);
	// the parent's own copy of that fd is otherwise never closed.
	_ = stdoutW.Close()
	_ = stderrW.Close()
	_ = unix.Close(errW)
	_ = unix.Close(syncR)

	childPID := int(pid)

	if err := setupIDMappings(childPID); err != nil {
		_ = unix.Close(syncW)
		_ = unix.Close(errR)
		_ = unix.Kill(childPID, unix.SIGKILL)
		_, _ = unix.Wait4(childPID, nil, 0, nil)
		return errorResult(sandboxerr.Wrap(sandboxerr.NamespaceSetup, "id mappings", err), unwind.run())
	}

	if leaf != nil {
		if err := cgroup.Attach(leaf, childPID); err != nil {
			_ = unix.Close(syncW)
			_ = unix.Close(errR)
			_ = unix.Kill(childPID, unix.SIGKILL)
			_, _ = unix.Wait4(childPID, nil, 0, nil)
			return errorResult(err, unwind.run())
		}
	}

	if err := signalChild(syncW); err != nil {
		_ = unix.Close(errR)
		_ = unix.Kill(childPID, unix.SIGKILL)
		_, _ = unix.Wait4(childPID, nil, 0, nil)
		return errorResult(sandboxerr.Wrap(sandboxerr.NamespaceSetup, "signal child", err), unwind.run())
	}

	if launchErr, launchTimedOut := readLaunchError(errR); launchErr != "" {
		// A normal launch failure means the child already wrote its
		// message and is exiting on its own; a timed-out read means it's
		// still stuck in pre-exec setup, so it must be killed before
		// Wait4 can return at all.
		if leaf != nil {
			_ = cgroup.Kill(leaf, 5*time.Second)
		} else if launchTimedOut {
			_ = unix.Kill(childPID, unix.SIGKILL)
		}
		_, _ = unix.Wait4(childPID, nil, 0, nil)
		return errorResult(sandboxerr.New(sandboxerr.GuestLaunch, launchErr), unwind.run())
	}

	// Phase 7: start draining stdout/stderr concurrently with the guest's
	// own execution, not after it — a guest that fills a pipe buffer
	// before exiting must never stall waiting for a reader. Per
	// SPEC_FULL §5: two drain goroutines plus a third goroutine (inside
	// waitWithTimeout) performing unix.Wait4, running side by side.
	drain := startDrain(stdoutR, stderrR)

	timeout := time.Duration(job.TimeoutS) * time.Second
	exitCode, timedOut := waitWithTimeout(childPID, leaf, timeout)

	// Phase 8: join the drain. On the happy path the write ends have
	// already closed by the time wait4 returns, so both copies are done
	// or finishing; on timeout, the kill has already been issued above
	// inside waitWithTimeout and the join is bounded by drainGrace.
	drainCtx := context.Background()
	if timedOut {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(context.Background(), drainGrace)
		defer cancel()
	}
	stdout, stderr := drain.collect(drainCtx)

	// Phase 9: snapshot metrics before the cgroup unwind removes the leaf.
	var metrics map[string]string
	if leaf != nil {
		metrics = cgroup.ReadMetrics(leaf)
	}

	warnings := unwind.run()

	if timedOut {
		return RunResult{
			Status:          StatusTimeout,
			Stdout:          string(stdout),
			Stderr:          appendDeadlineNote(string(stderr), job.TimeoutS),
			Metrics:         metrics,
			CleanupWarnings: warnings,
		}
	}

	return RunResult{
		Status:          StatusFinished,
		Returncode:      &exitCode,
		Stdout:          string(stdout),
		Stderr:          string(stderr),
		Metrics:         metrics,
		CleanupWarnings: warnings,
	}
}

func applyLimits(leaf *cgroup.Leaf, limits *config.Limits) error {
	if err := cgroup.SetMemory(leaf, limits.Memory.MemoryMaxOrDefault(), limits.Memory.SwapMaxOrDefault(), limits.Memory.OOMGroupOrDefault()); err != nil {
		return err
	}
	if err := cgroup.SetCPU(leaf, limits.CPU.Max, limits.CPU.Weight); err != nil {
		return err
	}
	if limits.Pids.Max > 0 {
		if err := cgroup.SetPids(leaf, limits.Pids.Max); err != nil {
			return err
		}
	}
	if limits.IO.Enabled {
		if err := cgroup.SetIO(leaf, limits.IO.Device, limits.IO.RBytes, limits.IO.WBytes); err != nil {
			return err
		}
	}
	return nil
}

// preflight validates the preconditions spec.md §4.2 names: rootfs exists,
// job_dir exists, entry resolves to a regular file strictly inside job_dir.
func preflight(job JobRequest, settings *config.Settings) error {
	if fi, err := os.Stat(settings.Rootfs); err != nil || !fi.IsDir() {
		return sandboxerr.New(sandboxerr.PreflightFailed, fmt.Sprintf("rootfs not a directory: %s", settings.Rootfs))
	}
	if fi, err := os.Stat(job.JobDir); err != nil || !fi.IsDir() {
		return sandboxerr.New(sandboxerr.PreflightFailed, fmt.Sprintf("job dir not a directory: %s", job.JobDir))
	}
	if job.Entry == "" || strings.ContainsRune(job.Entry, filepath.Separator) {
		return sandboxerr.New(sandboxerr.PreflightFailed, fmt.Sprintf("entry must be a bare filename: %q", job.Entry))
	}

	entryPath := filepath.Join(job.JobDir, job.Entry)
	rel, err := filepath.Rel(job.JobDir, entryPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return sandboxerr.New(sandboxerr.PreflightFailed, fmt.Sprintf("entry resolves outside job dir: %q", job.Entry))
	}
	fi, err := os.Stat(entryPath)
	if err != nil || !fi.Mode().IsRegular() {
		return sandboxerr.New(sandboxerr.PreflightFailed, fmt.Sprintf("entry is not a regular file: %s", entryPath))
	}
	if job.TimeoutS < 1 {
		return sandboxerr.New(sandboxerr.PreflightFailed, fmt.Sprintf("timeout_s must be >= 1, got %d", job.TimeoutS))
	}
	return nil
}

func errorResult(err error, warnings []string) RunResult {
	return RunResult{
		Status:          StatusError,
		Stderr:          err.Error(),
		CleanupWarnings: warnings,
	}
}

func appendDeadlineNote(stderr string, timeoutS int) string {
	note := fmt.Sprintf("deadline of %ds exceeded; guest terminated", timeoutS)
	if stderr == "" {
		return note
	}
	return stderr + "\n" + note
}

// waitWithTimeout waits up to timeout for pid to exit. On timeout it
// prefers the atomic cgroup.kill primitive when leaf is non-nil — it
// terminates every descendant at once — and falls back to signalling pid
// directly when cgroups are disabled, per spec.md §4.2 phase 7.
func waitWithTimeout(pid int, leaf *cgroup.Leaf, timeout time.Duration) (exitCode int, timedOut bool) {
	done := make(chan unix.WaitStatus, 1)
	go func() {
		var ws unix.WaitStatus
		for {
			_, err := unix.Wait4(pid, &ws, 0, nil)
			if err == unix.EINTR {
				continue
			}
			break
		}
		done <- ws
	}()

	select {
	case ws := <-done:
		return waitStatusToCode(ws), false
	case <-time.After(timeout):
		if leaf != nil {
			_ = cgroup.Kill(leaf, 5*time.Second)
		} else {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
		<-done
		return 0, true
	}
}

func waitStatusToCode(ws unix.WaitStatus) int {
	if ws.Exited() {
		return ws.ExitStatus()
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return 0
}
