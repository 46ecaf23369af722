// Package arena owns every buffer that crosses the host boundary.
//
// Buffers are addressed by opaque handles instead of raw addresses. The arena
// records the size of each allocation, so a release carrying the wrong size
// is detected and refused rather than corrupting neighbouring allocations.
package arena

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
)

// Handle identifies a live buffer. The zero Handle is the null handle and is
// never returned by Allocate or Adopt.
type Handle uint32

var (
	// ErrUnknownHandle is returned for handles that were never issued or
	// have already been released.
	ErrUnknownHandle = errors.New("arena: unknown or released handle")

	// ErrSizeMismatch is returned when Release is called with a size other
	// than the one recorded at allocation time. The buffer stays live.
	ErrSizeMismatch = errors.New("arena: release size does not match allocation")
)

// Exhausted is the panic value raised when the arena cannot satisfy a
// request. Allocation failure is not a recoverable condition: callers are
// expected to let the panic terminate the call path.
type Exhausted struct {
	Requested int
	Live      int64
	Limit     int64
}

func (e *Exhausted) Error() string {
	if e.Limit <= 0 {
		return fmt.Sprintf("arena: cannot allocate %d bytes (%d live)", e.Requested, e.Live)
	}
	return fmt.Sprintf("arena: cannot allocate %d bytes (%d live, limit %d)", e.Requested, e.Live, e.Limit)
}

// Config configures an Arena.
type Config struct {
	// LimitBytes caps the total size of live buffers. 0 means unlimited.
	LimitBytes int64

	// Logger receives precondition violations. Nil discards them.
	Logger *log.Logger
}

// Stats is a snapshot of arena usage.
type Stats struct {
	Live      int   // live buffers
	LiveBytes int64 // bytes held by live buffers
	PeakBytes int64
	Allocs    uint64
	Releases  uint64
	Refused   uint64 // releases rejected as precondition violations
}

// Arena is a handle table over byte buffers. It is safe for concurrent use.
type Arena struct {
	mu     sync.Mutex
	bufs   map[Handle][]byte
	next   Handle
	limit  int64
	stats  Stats
	logger *log.Logger
}

// New creates an empty arena.
func New(cfg Config) *Arena {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Arena{
		bufs:   make(map[Handle][]byte),
		limit:  cfg.LimitBytes,
		logger: logger,
	}
}

// Allocate returns a handle to a zeroed buffer of size bytes. It panics with
// *Exhausted if the request cannot be satisfied, including non-positive
// sizes and budget overruns.
func (a *Arena) Allocate(size int) Handle {
	if size <= 0 {
		panic(&Exhausted{Requested: size})
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserve(size)
	return a.insert(getBuffer(size))
}

// Adopt takes ownership of buf, which must not be retained by the caller,
// and returns its handle. Budget rules are the same as for Allocate.
func (a *Arena) Adopt(buf []byte) Handle {
	if len(buf) == 0 {
		panic(&Exhausted{Requested: 0})
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserve(len(buf))
	return a.insert(buf)
}

// reserve accounts for size bytes or panics. Caller holds a.mu.
func (a *Arena) reserve(size int) {
	if a.limit > 0 && a.stats.LiveBytes+int64(size) > a.limit {
		panic(&Exhausted{Requested: size, Live: a.stats.LiveBytes, Limit: a.limit})
	}
	if a.next == math.MaxUint32 {
		panic(&Exhausted{Requested: size, Live: a.stats.LiveBytes, Limit: a.limit})
	}
	a.stats.LiveBytes += int64(size)
	if a.stats.LiveBytes > a.stats.PeakBytes {
		a.stats.PeakBytes = a.stats.LiveBytes
	}
}

// insert registers an already reserved buffer. Caller holds a.mu.
// Handle numbers are never reused, so a stale handle cannot alias a newer
// allocation.
func (a *Arena) insert(buf []byte) Handle {
	a.next++
	h := a.next
	a.bufs[h] = buf
	a.stats.Live++
	a.stats.Allocs++
	return h
}

// Bytes returns the buffer behind h. The slice is only valid until h is
// released.
func (a *Arena) Bytes(h Handle) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.bufs[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrUnknownHandle)
	}
	return buf, nil
}

// Size returns the recorded size of h.
func (a *Arena) Size(h Handle) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.bufs[h]
	return len(buf), ok
}

// Release frees h. size must equal the size recorded when h was issued.
// Releasing the null handle is a no-op. Violations are reported, logged and
// counted; they never free memory.
func (a *Arena) Release(h Handle, size int) error {
	if h == 0 {
		return nil
	}
	a.mu.Lock()
	buf, ok := a.bufs[h]
	switch {
	case !ok:
		a.stats.Refused++
		a.mu.Unlock()
		a.logger.Printf("release of handle %d refused: unknown or already released", h)
		return fmt.Errorf("handle %d: %w", h, ErrUnknownHandle)
	case len(buf) != size:
		a.stats.Refused++
		a.mu.Unlock()
		a.logger.Printf("release of handle %d refused: size %d, allocated %d", h, size, len(buf))
		return fmt.Errorf("handle %d: size %d, allocated %d: %w", h, size, len(buf), ErrSizeMismatch)
	}
	delete(a.bufs, h)
	a.stats.Live--
	a.stats.LiveBytes -= int64(len(buf))
	a.stats.Releases++
	a.mu.Unlock()

	putBuffer(buf)
	return nil
}

// Stats returns a snapshot of the arena counters.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
