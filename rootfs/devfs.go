package rootfs

// devAllowlist is the exact device set spec.md §4.2 step 4 requires:
// /dev/null, /dev/zero, /dev/urandom. Narrowed from fs/devfs.go (teacher),
// which additionally bind-mounts /dev/random and /dev/tty and sets up
// /dev/pts, /dev/shm, and /dev/mqueue tmpfs mounts — none of which a
// pure-interpreter job needs, and each widens the guest's view of the
// host kernel for no requirement this spec states.
var devAllowlist = []string{
	"/dev/null",
	"/dev/zero",
	"/dev/urandom",
}

// BindDevices binds the allowlisted device nodes read-only into
// <root>/dev, skipping any missing on the host, per spec.md §4.2 step 4:
// "for each of /dev/null, /dev/zero, /dev/urandom: if present on host,
// touch a placeholder inside the rootfs and bind the device file
// read-only."
func BindDevices(root string, unwind Unwinder) error {
	for _, dev := range devAllowlist {
		spec := BindSpec{Host: dev, Dest: dev[1:], RO: true}
		if err := BindIfPresent(root, spec, unwind); err != nil {
			return err
		}
	}
	return nil
}
