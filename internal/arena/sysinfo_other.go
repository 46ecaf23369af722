//go:build !darwin && !linux

package arena

import "errors"

// physicalMemory is not available here; wasm guests in particular only see
// their own linear memory.
func physicalMemory() (uint64, error) {
	return 0, errors.New("arena: physical memory size unknown on this platform")
}
