//go:build linux

package platform

import "golang.org/x/sys/unix"

// TotalMemory returns the total physical memory in bytes.
func TotalMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return fallbackMemory
	}
	total := uint64(info.Totalram) * uint64(info.Unit) //nolint:unconvert // field widths differ per arch
	if total == 0 {
		return fallbackMemory
	}
	return total
}
