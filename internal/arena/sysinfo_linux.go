//go:build linux

package arena

import "syscall"

// physicalMemory reports installed RAM via sysinfo(2).
func physicalMemory() (uint64, error) {
	var si syscall.Sysinfo_t
	if err := syscall.Sysinfo(&si); err != nil {
		return 0, err
	}
	return uint64(si.Totalram) * uint64(si.Unit), nil
}
