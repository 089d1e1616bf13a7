package executor

import (
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// errPipeLimit bounds how much of a child's failure message the parent
// will buffer. Messages come from fmt.Errorf chains, never guest output,
// so a few hundred bytes is generous.
const errPipeLimit = 4096

// launchGrace bounds how long the parent waits for the child to either
// write a failure message or reach exec (closing its CLOEXEC copy of
// errfd). Mount/chroot/capability setup is local and should never take
// long; without this bound a guest stuck in pre-exec setup (a hung mount,
// say) would block Run() forever, since waitWithTimeout's deadline
// doesn't start until this call returns.
const launchGrace = 10 * time.Second

// readLaunchError blocks until the child either writes a failure message
// and exits, closes its CLOEXEC copy of errfd by reaching exec
// successfully, or launchGrace elapses. It returns "" in the exec-reached
// case, and reports via timedOut whether the wait hit the deadline rather
// than observing the child's own outcome.
func readLaunchError(rfd int) (msg string, timedOut bool) {
	// os.NewFile only registers a non-blocking fd with the runtime poller,
	// and only a polled file honors SetReadDeadline.
	_ = unix.SetNonblock(rfd, true)
	f := os.NewFile(uintptr(rfd), "child-error-pipe")
	defer f.Close()

	if err := f.SetReadDeadline(time.Now().Add(launchGrace)); err != nil {
		// Deadlines unsupported on this fd type; fall back to an
		// unbounded read rather than fail a launch outright.
		buf := make([]byte, errPipeLimit)
		n, _ := io.ReadFull(f, buf)
		if n == 0 {
			return "", false
		}
		return string(buf[:n]), false
	}

	buf := make([]byte, errPipeLimit)
	n, err := io.ReadFull(f, buf)
	if n == 0 {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return "timed out waiting for guest to reach exec", true
		}
		return "", false
	}
	return string(buf[:n]), false
}

// writeLaunchError best-efforts a failure message to the parent before the
// child exits. A short write or a full pipe is not actionable from here;
// the parent falls back to treating silence as success, so swallowing the
// error just means a less descriptive RunResult, not incorrect status.
func writeLaunchError(wfd int, msg string) {
	if wfd < 0 {
		return
	}
	if len(msg) > errPipeLimit {
		msg = msg[:errPipeLimit]
	}
	f := os.NewFile(uintptr(wfd), "child-error-pipe")
	_, _ = f.Write([]byte(msg))
	_ = f.Close()
}
