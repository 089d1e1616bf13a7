package cgroup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeCgroupRoot builds a throwaway directory tree that mimics the layout
// a real cgroup v2 mount presents: a cgroup.controllers file at the root
// and an (initially empty) cgroup.subtree_control.
func fakeCgroupRoot(t *testing.T, controllers string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgroup.controllers"), []byte(controllers), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgroup.subtree_control"), []byte(""), 0o644))
	return root
}

func TestAvailable(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids io\n")
	m := NewManager(root)
	require.True(t, m.Available())

	m2 := NewManager(t.TempDir())
	require.False(t, m2.Available())
}

func TestCreateLeaf(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids io\n")
	m := NewManager(root)

	leaf, err := m.CreateLeaf("job-abcdef01", false)
	require.NoError(t, err)
	require.DirExists(t, leaf.Path)
	require.True(t, leaf.Active())

	// Controllers must be enabled on both root and parent before the leaf
	// existed, never after.
	parentStree, err := os.ReadFile(filepath.Join(root, "sbx", "cgroup.subtree_control"))
	require.NoError(t, err)
	require.Contains(t, string(parentStree), "+cpu")
	require.Contains(t, string(parentStree), "+memory")
	require.Contains(t, string(parentStree), "+pids")
	require.NotContains(t, string(parentStree), "+io")
}

func TestCreateLeafRejectsDuplicate(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids\n")
	m := NewManager(root)

	_, err := m.CreateLeaf("job-dupe0001", false)
	require.NoError(t, err)

	_, err = m.CreateLeaf("job-dupe0001", false)
	require.Error(t, err)
}

func TestCreateLeafUnavailable(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.CreateLeaf("job-00000000", false)
	require.Error(t, err)
}

func TestSetMemoryDefaults(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids\n")
	m := NewManager(root)
	leaf, err := m.CreateLeaf("job-mem00001", false)
	require.NoError(t, err)

	require.NoError(t, SetMemory(leaf, "", "", true))

	max, err := os.ReadFile(filepath.Join(leaf.Path, "memory.max"))
	require.NoError(t, err)
	require.Equal(t, "max", string(max))

	oom, err := os.ReadFile(filepath.Join(leaf.Path, "memory.oom.group"))
	require.NoError(t, err)
	require.Equal(t, "1", string(oom))
}

func TestSetIORequiresDevice(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids io\n")
	m := NewManager(root)
	leaf, err := m.CreateLeaf("job-io000001", true)
	require.NoError(t, err)

	require.Error(t, SetIO(leaf, "", "1000", "1000"))

	require.NoError(t, SetIO(leaf, "8:0", "52428800", ""))
	data, err := os.ReadFile(filepath.Join(leaf.Path, "io.max"))
	require.NoError(t, err)
	require.Equal(t, "8:0 rbps=52428800", string(data))
}

func TestReadMetricsSkipsMissingFiles(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids\n")
	m := NewManager(root)
	leaf, err := m.CreateLeaf("job-metrics1", false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(leaf.Path, "memory.current"), []byte("1048576\n"), 0o644))

	metrics := ReadMetrics(leaf)
	require.Equal(t, "1048576", metrics["memory.current"])
	_, hasCPUStat := metrics["cpu.stat"]
	require.False(t, hasCPUStat)
}

func TestKillAndCleanupIdempotent(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids\n")
	m := NewManager(root)
	leaf, err := m.CreateLeaf("job-kill0001", false)
	require.NoError(t, err)

	// No cgroup.kill file present: the fake simulates a kernel missing it,
	// exercising the signal-all fallback (no PIDs listed, so it's a no-op).
	// cgroup.events is absent too, which reads as already drained; unlike a
	// real cgroupfs leaf, a plain directory can only be removed when empty.
	require.NoFileExists(t, filepath.Join(leaf.Path, "cgroup.kill"))

	require.NoError(t, KillAndCleanup(leaf, time.Second))
	require.NoDirExists(t, leaf.Path)

	// Calling it again must still succeed.
	require.NoError(t, KillAndCleanup(leaf, time.Second))
}

func TestKillAndCleanupNilLeaf(t *testing.T) {
	require.NoError(t, KillAndCleanup(nil, time.Second))
}

func TestKillLeavesDirectoryForMetricsThenRemove(t *testing.T) {
	root := fakeCgroupRoot(t, "cpu memory pids\n")
	m := NewManager(root)
	leaf, err := m.CreateLeaf("job-split001", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(leaf.Path, "cgroup.events"), []byte("populated=0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(leaf.Path, "memory.current"), []byte("4096\n"), 0o644))

	require.NoError(t, Kill(leaf, time.Second))
	require.DirExists(t, leaf.Path)

	metrics := ReadMetrics(leaf)
	require.Equal(t, "4096", metrics["memory.current"])

	// A real cgroupfs leaf's pseudo-files go away with rmdir; the fake's
	// plain files have to be cleared before Remove can delete the directory.
	require.NoError(t, os.Remove(filepath.Join(leaf.Path, "cgroup.events")))
	require.NoError(t, os.Remove(filepath.Join(leaf.Path, "memory.current")))

	require.NoError(t, Remove(leaf))
	require.NoDirExists(t, leaf.Path)
	require.False(t, leaf.Active())
}
