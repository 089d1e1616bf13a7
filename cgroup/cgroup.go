// Package cgroup manages a single cgroup v2 leaf under a fixed parent:
// controller enablement, limit writers, PID attachment, metric snapshots,
// and a reliable kill-and-reap. Grounded on sandbox/cgroup.go (teacher) and
// executor/cgroups.py (original), generalized per spec.md §4.1 to add the
// `io` controller, `read_metrics`, and the `populated=0` poll before
// removal that the teacher's version lacked.
//
// The cgroup filesystem root is injectable (NewManager's root argument,
// from which the parent directory is derived) rather than a package-level
// singleton, per spec.md §9's "global mutable
// state reified as a narrow host-kernel capability object" design note:
// tests point a Manager at a throwaway directory tree that mimics the
// cgroupfs layout instead of requiring real cgroup v2 privileges.
package cgroup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sandboxrun/sandboxrun/sandboxerr"
)

// DefaultRoot is the real unified cgroup v2 mount point.
const DefaultRoot = "/sys/fs/cgroup"

// DefaultParentName is the fixed subdirectory of Root all leaves live
// under.
const DefaultParentName = "sbx"

// Manager owns one cgroup v2 parent directory and creates/destroys leaves
// under it. The zero value is not usable; construct with NewManager.
type Manager struct {
	root   string
	parent string
}

// NewManager builds a Manager rooted at root (normally DefaultRoot), with
// leaves created under root/DefaultParentName.
func NewManager(root string) *Manager {
	return &Manager{root: root, parent: filepath.Join(root, DefaultParentName)}
}

// Leaf describes a created cgroup v2 leaf directory.
type Leaf struct {
	ID     string
	Path   string
	active bool
}

// Active reports whether the leaf directory currently exists.
func (l *Leaf) Active() bool {
	return l != nil && l.active
}

// NewID generates a unique "job-<8hex>" leaf identifier.
func NewID() string {
	return "job-" + uuid.New().String()[:8]
}

// Available reports whether the host carries a unified cgroup v2
// hierarchy, detected by the presence of cgroup.controllers at the root.
func (m *Manager) Available() bool {
	_, err := os.Stat(filepath.Join(m.root, "cgroup.controllers"))
	return err == nil
}

func readControllers(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return bytes.Fields(data), nil
}

func containsField(haystack [][]byte, needle string) bool {
	for _, h := range haystack {
		if string(h) == needle {
			return true
		}
	}
	return false
}

// enableControllers appends "+<ctrl>" to parentPath/cgroup.subtree_control
// for every controller in want that's both available at the root and not
// already enabled. Per kernel rule, this must run before any child cgroup
// under parentPath holds processes.
func (m *Manager) enableControllers(parentPath string, want ...string) error {
	available, err := readControllers(filepath.Join(m.root, "cgroup.controllers"))
	if err != nil {
		return err
	}

	streePath := filepath.Join(parentPath, "cgroup.subtree_control")
	current, err := readControllers(streePath)
	if err != nil {
		return err
	}

	// cgroup.subtree_control always exists on a real cgroupfs the moment
	// its directory does; O_CREATE here only matters for fakes used in
	// tests that lay out a plain directory tree instead of a real mount.
	f, err := os.OpenFile(streePath, os.O_WRONLY|os.O_CREATE|syscall.O_CLOEXEC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for _, ctrl := range want {
		if !containsField(available, ctrl) {
			continue
		}
		// A real subtree_control lists enabled controllers by bare name;
		// the fakes used in tests keep the "+<ctrl>" lines written here.
		if containsField(current, ctrl) || containsField(current, "+"+ctrl) {
			continue
		}
		if _, err := f.WriteString("+" + ctrl + "\n"); err != nil && !errors.Is(err, syscall.EBUSY) {
			return err
		}
	}
	return nil
}

// ensureParent creates the fixed parent directory and enables the
// controllers leaves will need, before any leaf exists.
func (m *Manager) ensureParent(needIO bool) error {
	if err := os.Mkdir(m.parent, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return sandboxerr.Wrap(sandboxerr.CgroupCreate, fmt.Sprintf("mkdir %s", m.parent), err)
	}

	want := []string{"cpu", "memory", "pids"}
	if needIO {
		want = append(want, "io")
	}

	if err := m.enableControllers(m.root, want...); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupCreate, fmt.Sprintf("enable controllers on %s", m.root), err)
	}
	if err := m.enableControllers(m.parent, want...); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupCreate, fmt.Sprintf("enable controllers on %s", m.parent), err)
	}
	return nil
}

// CreateLeaf idempotently ensures the parent exists with controllers
// enabled, then creates parent/<id>. Fails with CgroupUnavailable if the
// host lacks cgroup v2, or CgroupCreate on any filesystem error — in the
// latter case, a partially-created leaf directory is best-effort removed.
func (m *Manager) CreateLeaf(id string, needIO bool) (*Leaf, error) {
	if !m.Available() {
		return nil, sandboxerr.New(sandboxerr.CgroupUnavailable, "cgroup v2 unified hierarchy not found at "+m.root)
	}

	if err := m.ensureParent(needIO); err != nil {
		return nil, err
	}

	path := filepath.Join(m.parent, id)
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, sandboxerr.New(sandboxerr.CgroupCreate, fmt.Sprintf("leaf already exists: %s", path))
		}
		_ = os.Remove(path)
		return nil, sandboxerr.Wrap(sandboxerr.CgroupCreate, fmt.Sprintf("mkdir %s", path), err)
	}

	return &Leaf{ID: id, Path: path, active: true}, nil
}

func writeFile(path, data string) error {
	return os.WriteFile(path, []byte(data), 0o644)
}

// SetMemory writes memory.max, memory.swap.max, and memory.oom.group. The
// manager never parses max/swapMax — they're passed to the kernel verbatim.
func SetMemory(l *Leaf, max, swapMax string, oomGroup bool) error {
	if max == "" {
		max = "max"
	}
	if swapMax == "" {
		swapMax = "0"
	}
	if err := writeFile(filepath.Join(l.Path, "memory.max"), max); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupWrite, "memory.max", err)
	}
	if err := writeFile(filepath.Join(l.Path, "memory.swap.max"), swapMax); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupWrite, "memory.swap.max", err)
	}
	oom := "0"
	if oomGroup {
		oom = "1"
	}
	if err := writeFile(filepath.Join(l.Path, "memory.oom.group"), oom); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupWrite, "memory.oom.group", err)
	}
	return nil
}

// SetCPU writes cpu.max (format "<quota_us> <period_us>") and/or
// cpu.weight (1..10000). Writing both is permitted; writing neither is
// permitted and imposes no limit beyond the kernel default.
func SetCPU(l *Leaf, cpuMax string, weight int) error {
	if cpuMax != "" {
		if err := writeFile(filepath.Join(l.Path, "cpu.max"), cpuMax); err != nil {
			return sandboxerr.Wrap(sandboxerr.CgroupWrite, "cpu.max", err)
		}
	}
	if weight != 0 {
		if err := writeFile(filepath.Join(l.Path, "cpu.weight"), strconv.Itoa(weight)); err != nil {
			return sandboxerr.Wrap(sandboxerr.CgroupWrite, "cpu.weight", err)
		}
	}
	return nil
}

// SetPids writes pids.max.
func SetPids(l *Leaf, n int) error {
	if err := writeFile(filepath.Join(l.Path, "pids.max"), strconv.Itoa(n)); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupWrite, "pids.max", err)
	}
	return nil
}

// SetIO writes a single io.max line: "<device> rbps=... wbps=...",
// omitting a field the caller didn't provide. Requires the io controller
// to already be enabled (CreateLeaf must have been called with needIO=true).
func SetIO(l *Leaf, device, rbps, wbps string) error {
	if device == "" {
		return sandboxerr.New(sandboxerr.CgroupWrite, "io.max requires a device")
	}
	line := device
	if rbps != "" {
		line += " rbps=" + rbps
	}
	if wbps != "" {
		line += " wbps=" + wbps
	}
	if err := writeFile(filepath.Join(l.Path, "io.max"), line); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupWrite, "io.max", err)
	}
	return nil
}

// Attach writes pid to cgroup.procs, causing future resource accounting
// (including descendants spawned after this call) to include it.
func Attach(l *Leaf, pid int) error {
	if err := writeFile(filepath.Join(l.Path, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
		return sandboxerr.Wrap(sandboxerr.CgroupWrite, "cgroup.procs", err)
	}
	return nil
}

// metricFiles are read by ReadMetrics, skipping any that don't exist.
var metricFiles = []string{"memory.current", "memory.events", "cpu.stat", "pids.current"}

// ReadMetrics snapshots the leaf's accounting files. Must be called before
// KillAndCleanup — the files disappear with the directory.
func ReadMetrics(l *Leaf) map[string]string {
	out := make(map[string]string, len(metricFiles))
	for _, name := range metricFiles {
		data, err := os.ReadFile(filepath.Join(l.Path, name))
		if err != nil {
			continue
		}
		out[name] = string(bytes.TrimSpace(data))
	}
	return out
}

// killViaCgroupKill writes "1" to cgroup.kill, the atomic primitive that
// hard-terminates every process in the cgroup at once. cgroup.kill is a
// kernel-managed pseudo-file that exists only on kernels supporting it —
// it's never created by userspace, so the write uses O_WRONLY without
// O_CREATE and returns an os.ErrNotExist-wrapping error on older kernels.
func killViaCgroupKill(l *Leaf) error {
	f, err := os.OpenFile(filepath.Join(l.Path, "cgroup.kill"), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteString("1")
	return err
}

// killViaSignalAll is the fallback for kernels without cgroup.kill: signal
// every PID currently listed in cgroup.procs with SIGKILL.
func killViaSignalAll(l *Leaf) {
	data, err := os.ReadFile(filepath.Join(l.Path, "cgroup.procs"))
	if err != nil {
		return
	}
	for _, f := range bytes.Fields(data) {
		if pid, err := strconv.Atoi(string(f)); err == nil {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}

func populatedZero(l *Leaf) bool {
	data, err := os.ReadFile(filepath.Join(l.Path, "cgroup.events"))
	if err != nil {
		return true
	}
	return bytes.Contains(data, []byte("populated=0"))
}

// Kill prefers the atomic cgroup.kill primitive, falling back to
// signalling every listed PID when that file doesn't exist, then polls
// cgroup.events until "populated=0" or wait expires. It does not remove
// the leaf directory, so callers can snapshot metrics afterward — metric
// files disappear with the directory (spec.md §4.2 phase 9: "snapshot
// metrics before calling kill_and_cleanup").
func Kill(l *Leaf, wait time.Duration) error {
	if l == nil || l.Path == "" || !l.active {
		return nil
	}

	if wait <= 0 {
		wait = 5 * time.Second
	}

	if err := killViaCgroupKill(l); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return sandboxerr.Wrap(sandboxerr.CleanupDegraded, "cgroup.kill", err)
		}
		killViaSignalAll(l)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if populatedZero(l) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// Remove deletes the (already-empty) leaf directory. A single EBUSY is
// tolerated once by re-waiting briefly; a second failure is reported but
// must never be treated as fatal by the caller — cleanup is best-effort
// and idempotent: calling it twice on an already-removed leaf returns nil
// both times.
func Remove(l *Leaf) error {
	if l == nil || l.Path == "" || !l.active {
		return nil
	}

	err := os.Remove(l.Path)
	if err != nil && errors.Is(err, syscall.EBUSY) {
		time.Sleep(100 * time.Millisecond)
		err = os.Remove(l.Path)
	}
	l.active = false
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return sandboxerr.Wrap(sandboxerr.CleanupDegraded, fmt.Sprintf("remove %s", l.Path), err)
	}
	return nil
}

// KillAndCleanup is Kill followed by Remove. A caller that wants metrics
// snapshots them before calling it, since the metric files disappear with
// the directory.
func KillAndCleanup(l *Leaf, wait time.Duration) error {
	if err := Kill(l, wait); err != nil {
		return err
	}
	return Remove(l)
}
