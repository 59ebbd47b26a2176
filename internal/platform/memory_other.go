//go:build !linux

package platform

// TotalMemory returns a conservative estimate on platforms without sysinfo.
func TotalMemory() uint64 {
	return fallbackMemory
}
