package executor

import "golang.org/x/sys/unix"

// Grounded on sandbox/pipe.go (teacher), unchanged: a CLOEXEC pipe used as
// a one-byte handshake so the guest blocks until the parent has finished
// namespace/cgroup setup before it execs user code.

func makeSyncPipe() (rfd, wfd int, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}

func waitForParent(rfd int) error {
	var one [1]byte
	_, err := unix.Read(rfd, one[:])
	_ = unix.Close(rfd)
	return err
}

func signalChild(wfd int) error {
	_, err := unix.Write(wfd, []byte{1})
	cerr := unix.Close(wfd)
	if err != nil {
		return err
	}
	return cerr
}

func closePipe(rfd, wfd int) {
	_ = unix.Close(rfd)
	_ = unix.Close(wfd)
}
