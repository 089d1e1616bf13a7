package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
)

// safeBuffer is a bytes.Buffer an io.Copy goroutine can keep writing to
// after the caller has already read out a partial snapshot under the
// bounded-grace timeout path.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// drainHandle is a pair of pipe drains already running in the background.
// Grounded on SPEC_FULL §5's concurrency model: "two goroutines draining
// the stdout/stderr pipes ... and a third goroutine performing
// unix.Wait4". startDrain is that first part, started before the wait so
// a guest that fills a pipe buffer mid-run is always being read, never
// stalled behind the waiter.
type drainHandle struct {
	outBuf, errBuf safeBuffer
	done           chan struct{}
}

// startDrain launches the stdout/stderr copies immediately and returns a
// handle the caller joins later, once the guest's wait/kill has been
// resolved. It must be called before the waiter blocks on wait4 — this is
// the fix for spec's Open Question (a): reading only begins after the
// child exits risks a guest stalling forever on a full pipe write().
func startDrain(stdoutR, stderrR *os.File) *drainHandle {
	h := &drainHandle{done: make(chan struct{})}
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = io.Copy(&h.outBuf, stdoutR) }()
		go func() { defer wg.Done(); _, _ = io.Copy(&h.errBuf, stderrR) }()
		wg.Wait()
		close(h.done)
	}()
	return h
}

// collect blocks until both pipes have reached EOF or ctx is done,
// whichever comes first, and returns whatever has been read so far. On
// the happy path both copies have typically already finished draining by
// the time the guest's wait4 returns, since the writer's fds close on
// exit; collect just joins that already-in-flight work. On timeout, the
// caller passes a ctx carrying the bounded grace period (spec's "bounded
// grace (≤ 1s)") so a guest whose kill is still propagating through the
// kernel doesn't block RunResult construction indefinitely.
func (h *drainHandle) collect(ctx context.Context) (stdout, stderr []byte) {
	select {
	case <-h.done:
	case <-ctx.Done():
	}
	return h.outBuf.Bytes(), h.errBuf.Bytes()
}
