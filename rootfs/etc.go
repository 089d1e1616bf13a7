package rootfs

import (
	"os"
	"path/filepath"

	"github.com/sandboxrun/sandboxrun/sandboxerr"
)

// etcWhitelist is the minimal /etc file set bound when bind_full_etc is
// false, exactly as spec.md §4.2 step 4 enumerates.
var etcWhitelist = []string{
	"hosts",
	"nsswitch.conf",
	"ld.so.cache",
	"localtime",
}

// BindEtc binds /etc into <root>/etc, either the entire tree read-only
// (bindFull) or the minimal whitelist file-by-file read-only. Grounded on
// fs/etc.go (teacher), narrowed: the teacher also rewrites resolv.conf
// with caller-supplied nameservers for its bridge-networking mode; this
// spec's networking is loopback-only-or-none, so there is no DNS surface
// to configure and resolv.conf is left whatever the rootfs skeleton or the
// bound /etc already provides.
func BindEtc(root string, bindFull bool, unwind Unwinder) error {
	target := filepath.Join(root, "etc")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return sandboxerr.Wrap(sandboxerr.NamespaceSetup, "mkdir /etc", err)
	}

	if bindFull {
		return Bind(root, BindSpec{Host: "/etc", Dest: "etc", RO: true}, unwind)
	}

	for _, name := range etcWhitelist {
		spec := BindSpec{Host: filepath.Join("/etc", name), Dest: filepath.Join("etc", name), RO: true}
		if err := BindIfPresent(root, spec, unwind); err != nil {
			return err
		}
	}
	return nil
}
