package executor

import (
	"fmt"
	"os"
)

// setupIDMappings writes the identity uid_map/gid_map a simulated-root
// guest needs: container uid/gid 0 mapped to this process's real euid/egid,
// length 1.
//
// Grounded on sandbox/id.go (teacher), narrowed to the privileged path
// only — the teacher also supports a rootless newuidmap/newgidmap path
// with /etc/subuid ranges, for callers that aren't root. Nothing in this
// spec runs the executor as anything but the privileged owner of
// /sys/fs/cgroup/sbx, so that second path has no caller here.
func setupIDMappings(childPID int) error {
	if childPID <= 0 {
		return fmt.Errorf("invalid child pid: %d", childPID)
	}

	euid := os.Geteuid()
	egid := os.Getegid()

	setgroupsPath := fmt.Sprintf("/proc/%d/setgroups", childPID)
	uidMapPath := fmt.Sprintf("/proc/%d/uid_map", childPID)
	gidMapPath := fmt.Sprintf("/proc/%d/gid_map", childPID)

	// Required before gid_map on modern kernels. Pre-3.19 kernels have no
	// /proc/<pid>/setgroups at all, which is the one failure worth
	// ignoring here; anything else left unreported would surface later as
	// an opaque "write gid_map" failure with no indication of the real
	// cause.
	if err := os.WriteFile(setgroupsPath, []byte("deny"), 0o644); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("write setgroups: %w", err)
	}

	if err := writeIDMap(uidMapPath, 0, euid, 1); err != nil {
		return fmt.Errorf("write uid_map: %w", err)
	}
	if err := writeIDMap(gidMapPath, 0, egid, 1); err != nil {
		return fmt.Errorf("write gid_map: %w", err)
	}
	return nil
}

func writeIDMap(path string, inside, outside, length int) error {
	line := fmt.Sprintf("%d %d %d\n", inside, outside, length)
	return os.WriteFile(path, []byte(line), 0o644)
}
