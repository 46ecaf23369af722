//go:build darwin

package arena

import (
	"syscall"
	"unsafe"
)

// physicalMemory reports installed RAM via the hw.memsize sysctl.
func physicalMemory() (uint64, error) {
	mib := [2]int32{6 /* CTL_HW */, 24 /* HW_MEMSIZE */}
	var total uint64
	n := uintptr(unsafe.Sizeof(total))
	_, _, errno := syscall.Syscall6(
		syscall.SYS___SYSCTL,
		uintptr(unsafe.Pointer(&mib[0])),
		uintptr(len(mib)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&n)),
		0, 0,
	)
	if errno != 0 {
		return 0, errno
	}
	return total, nil
}
