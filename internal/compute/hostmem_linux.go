//go:build linux

package compute

import "golang.org/x/sys/unix"

// hostMemory reports the total physical memory of the machine in bytes.
func hostMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
