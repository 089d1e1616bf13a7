// Package network configures the guest's network namespace. Per spec.md's
// Non-goals, there is no bridge, veth pair, NAT, or IP address management:
// the only supported configuration is an isolated network namespace with
// loopback either left down (no network access at all) or brought up (for
// guest code that talks to itself over 127.0.0.1).
//
// Grounded on net/net.go (teacher), narrowed to the single fragment that
// applies here: bringing an interface administratively up via netlink
// (configureContainerInterface's "bring lo up early" step). The bridge,
// veth pair allocation, IPAM, and iptables NAT rules in the teacher are
// dropped entirely — see DESIGN.md for the per-dependency justification.
package network

import (
	"fmt"

	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"github.com/vishvananda/netlink"
)

// EnableLoopback brings the "lo" interface up inside the network namespace
// the calling goroutine is currently entered into. Must be called after the
// guest process has unshared (or joined) its CLONE_NEWNET namespace and
// before it execs the job.
func EnableLoopback() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, "lookup lo", err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, fmt.Sprintf("set %s up", link.Attrs().Name), err)
	}
	return nil
}
