package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sandboxrun/sandboxrun/config"
	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func validSettings(t *testing.T, rootfs string) *config.Settings {
	t.Helper()
	return &config.Settings{Rootfs: rootfs, JobsDir: filepath.Dir(rootfs)}
}

func TestPreflightAcceptsValidJob(t *testing.T) {
	rootfs := t.TempDir()
	jobDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "main.py"), []byte("print(1)"), 0o644))

	job := JobRequest{JobDir: jobDir, Entry: "main.py", TimeoutS: 5}
	require.NoError(t, preflight(job, validSettings(t, rootfs)))
}

func TestPreflightRejectsMissingRootfs(t *testing.T) {
	jobDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "main.py"), []byte("x"), 0o644))

	job := JobRequest{JobDir: jobDir, Entry: "main.py", TimeoutS: 5}
	settings := validSettings(t, filepath.Join(jobDir, "no-such-rootfs"))
	err := preflight(job, settings)
	require.Error(t, err)
	var serr *sandboxerr.Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, sandboxerr.PreflightFailed, serr.Code)
}

func TestPreflightRejectsEntryWithSlash(t *testing.T) {
	rootfs := t.TempDir()
	jobDir := t.TempDir()

	job := JobRequest{JobDir: jobDir, Entry: "sub/main.py", TimeoutS: 5}
	require.Error(t, preflight(job, validSettings(t, rootfs)))
}

func TestPreflightRejectsPathTraversal(t *testing.T) {
	rootfs := t.TempDir()
	jobDir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "evil.py"), []byte("x"), 0o644))

	// entry is a bare filename pointing at a symlink to a directory
	// outside job_dir: the bare-filename and Rel checks both pass, but
	// the regular-file check at the end must still reject it.
	require.NoError(t, os.Symlink(outside, filepath.Join(jobDir, "escape")))

	job := JobRequest{JobDir: jobDir, Entry: "escape", TimeoutS: 5}
	require.Error(t, preflight(job, validSettings(t, rootfs)))
}

func TestPreflightRejectsMissingEntry(t *testing.T) {
	rootfs := t.TempDir()
	jobDir := t.TempDir()

	job := JobRequest{JobDir: jobDir, Entry: "missing.py", TimeoutS: 5}
	require.Error(t, preflight(job, validSettings(t, rootfs)))
}

func TestPreflightRejectsBadTimeout(t *testing.T) {
	rootfs := t.TempDir()
	jobDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "main.py"), []byte("x"), 0o644))

	job := JobRequest{JobDir: jobDir, Entry: "main.py", TimeoutS: 0}
	require.Error(t, preflight(job, validSettings(t, rootfs)))
}

func TestErrorResultCarriesWarnings(t *testing.T) {
	result := errorResult(sandboxerr.New(sandboxerr.ConfigInvalid, "bad"), []string{"unmount failed"})
	require.Equal(t, StatusError, result.Status)
	require.Nil(t, result.Returncode)
	require.Contains(t, result.Stderr, "bad")
	require.Equal(t, []string{"unmount failed"}, result.CleanupWarnings)
}

func TestAppendDeadlineNote(t *testing.T) {
	require.Equal(t, "deadline of 5s exceeded; guest terminated", appendDeadlineNote("", 5))
	require.Equal(t, "boom\ndeadline of 5s exceeded; guest terminated", appendDeadlineNote("boom", 5))
}

func TestWaitStatusToCodeExited(t *testing.T) {
	// unix.WaitStatus has no public constructor for a synthetic exited
	// status outside the kernel; the zero value decodes as a normal exit
	// with code 0, so this checks the exited path with that status.
	var ws unix.WaitStatus
	require.Equal(t, 0, waitStatusToCode(ws))
}
