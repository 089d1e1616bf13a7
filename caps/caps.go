// Package caps applies a fixed Linux capability bounding set to the guest
// process before exec, as supplemental hardening beyond the namespace and
// mount isolation the rest of this module provides.
//
// Grounded on sandbox/capabilities.go (teacher), narrowed from a
// caller-configurable add/drop allow-list to the single fixed set
// SPEC_FULL.md §4.6 names — this spec exposes no capability configuration
// surface, so the Add/Drop/BuildCapSets machinery the teacher offers has no
// caller to exercise it.
package caps

import (
	"fmt"
	"strings"

	"github.com/moby/sys/capability"
)

// fixedCaps is the complete, non-configurable bounding set applied to every
// guest process, per SPEC_FULL.md §4.6.
var fixedCaps = []string{
	"CAP_CHOWN",
	"CAP_DAC_OVERRIDE",
	"CAP_FOWNER",
	"CAP_FSETID",
	"CAP_SETGID",
	"CAP_SETUID",
	"CAP_SETFCAP",
	"CAP_SETPCAP",
	"CAP_KILL",
	"CAP_SYS_CHROOT",
	"CAP_NET_BIND_SERVICE",
}

var capNameToID = func() map[string]capability.Cap {
	m := make(map[string]capability.Cap)
	for _, c := range capability.ListKnown() {
		m[c.String()] = c
	}
	return m
}()

func resolve(names []string) ([]capability.Cap, error) {
	out := make([]capability.Cap, 0, len(names))
	for _, name := range names {
		s := NormalizeCap(name)
		id, ok := capNameToID[s]
		if !ok {
			return nil, fmt.Errorf("unknown capability: %q", name)
		}
		out = append(out, id)
	}
	return out, nil
}

// NormalizeCap strips the "CAP_" prefix and lowercases, matching the names
// capability.Cap.String() returns.
func NormalizeCap(cap string) string {
	s := strings.TrimSpace(strings.ToLower(cap))
	return strings.TrimPrefix(s, "cap_")
}

// Apply clears all capability sets on the current process and replaces them
// with the fixed bounding set. If dropChroot is true, CAP_SYS_CHROOT is
// excluded — used after the guest has already chrooted and no longer needs
// it, per SPEC_FULL.md §4.6.
func Apply(dropChroot bool) error {
	names := fixedCaps
	if dropChroot {
		names = make([]string, 0, len(fixedCaps))
		for _, n := range fixedCaps {
			if n != "CAP_SYS_CHROOT" {
				names = append(names, n)
			}
		}
	}

	ids, err := resolve(names)
	if err != nil {
		return fmt.Errorf("resolve capability set: %w", err)
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("get process capabilities: %w", err)
	}

	caps.Clear(capability.BOUNDS)
	caps.Set(capability.BOUNDING, ids...)

	caps.Clear(capability.CAPS)
	caps.Set(capability.PERMITTED, ids...)
	caps.Set(capability.EFFECTIVE, ids...)
	caps.Set(capability.INHERITABLE, ids...)

	caps.Clear(capability.AMBIENT)

	if err := caps.Apply(capability.CAPS | capability.BOUNDS | capability.AMBIENT); err != nil {
		return fmt.Errorf("apply capabilities: %w", err)
	}
	return nil
}
