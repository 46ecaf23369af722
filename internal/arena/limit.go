package arena

import (
	"log"
	"runtime"
)

// DefaultMemoryFraction is the share of physical RAM an arena may hold when
// no explicit limit is configured.
const DefaultMemoryFraction = 0.50

// minLimit is the smallest budget DefaultLimit will return.
const minLimit = 64 << 20

// DefaultLimit derives an arena budget from physical RAM: fraction of the
// installed memory minus what the Go runtime already holds.
//
// Returns 0 (unlimited) if RAM cannot be detected, as in a wasm guest, or if
// the result would be smaller than 64 MB.
func DefaultLimit(fraction float64, logger *log.Logger) int64 {
	total, err := physicalMemory()
	if err != nil {
		if logger != nil {
			logger.Printf("Cannot detect system RAM: %v; arena budget disabled", err)
		}
		return 0
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	limit := int64(float64(total)*fraction) - int64(m.Sys)
	if limit < minLimit {
		if logger != nil {
			logger.Printf("Computed arena budget too small (%.0f MB); budget disabled",
				float64(limit)/(1024*1024))
		}
		return 0
	}

	if logger != nil {
		logger.Printf("Arena budget: %.1f GB (%.0f%% of %.1f GB RAM)",
			float64(limit)/(1<<30), fraction*100, float64(total)/(1<<30))
	}
	return limit
}
