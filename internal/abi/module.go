// Package abi implements the exported operations of the decoder module on
// top of an arena of opaque handles.
//
// Every call is self-contained: queries reopen the input from scratch and
// report failures as in-band sentinels (a zero handle or a negative
// integer). LastError gives the Status of the most recent call. The only
// failure that is not a sentinel is arena exhaustion, which panics with
// *arena.Exhausted.
package abi

import (
	"fmt"
	"io"
	"log"
	"sync"
	"unsafe"

	"github.com/pspoerri/rasterwasm/internal/arena"
	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/decode"
	"github.com/pspoerri/rasterwasm/internal/pixel"
)

// Config configures a Module.
type Config struct {
	// ArenaLimit caps live arena bytes. 0 means unlimited.
	ArenaLimit int64

	// Decoder opens inputs. Nil uses codec.NewRegistry(Limits).
	Decoder codec.Decoder
	Limits  codec.Limits

	// Logger receives failed calls and refused releases. Nil discards them.
	Logger *log.Logger
}

// Module is one instance of the boundary. It is safe for concurrent use;
// LastError then reports whichever call finished last.
type Module struct {
	arena  *arena.Arena
	dec    codec.Decoder
	logger *log.Logger

	mu       sync.Mutex
	last     Status
	sessions map[SessionHandle]*session
	nextSess SessionHandle
}

// New creates a Module.
func New(cfg Config) *Module {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	dec := cfg.Decoder
	if dec == nil {
		dec = codec.NewRegistry(cfg.Limits)
	}
	return &Module{
		arena:    arena.New(arena.Config{LimitBytes: cfg.ArenaLimit, Logger: logger}),
		dec:      dec,
		logger:   logger,
		sessions: make(map[SessionHandle]*session),
	}
}

// Arena exposes the handle table, mainly for statistics.
func (m *Module) Arena() *arena.Arena {
	return m.arena
}

// LastError returns the status of the most recent call.
func (m *Module) LastError() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Module) setStatus(s Status) {
	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
}

// fail records err and returns its status.
func (m *Module) fail(op string, err error) Status {
	s := StatusOf(err)
	m.setStatus(s)
	m.logger.Printf("%s: %v (%v)", op, err, s)
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Allocate returns a handle to a zeroed buffer of size bytes. A zero size
// yields the null handle. If the arena cannot satisfy the request it panics
// with *arena.Exhausted.
func (m *Module) Allocate(size uint32) arena.Handle {
	if size == 0 {
		m.fail("allocate", invalid("zero size"))
		return 0
	}
	h := m.arena.Allocate(int(size))
	m.setStatus(OK)
	return h
}

// Release frees a handle returned by Allocate or by a decode call. size
// must be the buffer's length; a mismatch is refused and logged, and the
// buffer stays live.
func (m *Module) Release(h arena.Handle, size uint32) {
	if err := m.arena.Release(h, int(size)); err != nil {
		m.fail("release", err)
		return
	}
	m.setStatus(OK)
}

// Pointer returns the address of the buffer behind h, or 0. The address is
// only meaningful inside the module's own linear memory.
func (m *Module) Pointer(h arena.Handle) uintptr {
	buf, err := m.arena.Bytes(h)
	if err != nil {
		m.fail("pointer", err)
		return 0
	}
	m.setStatus(OK)
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}

// Len returns the length of the buffer behind h, or 0.
func (m *Module) Len(h arena.Handle) uint32 {
	n, ok := m.arena.Size(h)
	if !ok {
		m.fail("len", invalid("unknown handle %d", h))
		return 0
	}
	m.setStatus(OK)
	return uint32(n)
}

// input returns the first inSize bytes of the buffer behind h.
func (m *Module) input(h arena.Handle, inSize uint32) ([]byte, error) {
	if h == 0 || inSize == 0 {
		return nil, invalid("null handle or empty input")
	}
	buf, err := m.arena.Bytes(h)
	if err != nil {
		return nil, err
	}
	if int(inSize) > len(buf) {
		return nil, invalid("input size %d exceeds buffer of %d bytes", inSize, len(buf))
	}
	return buf[:inSize], nil
}

func (m *Module) open(h arena.Handle, inSize, outSize uint32) (*decode.Session, error) {
	if outSize == 0 {
		return nil, invalid("zero output size")
	}
	data, err := m.input(h, inSize)
	if err != nil {
		return nil, err
	}
	return decode.Open(m.dec, data)
}

// Decode renders every keyframe as 8-bit samples and returns a handle to
// the concatenated output, or 0.
func (m *Module) Decode(h arena.Handle, inSize, outSize uint32) arena.Handle {
	return m.decode("decode", h, inSize, outSize, 1)
}

// DecodeWithSampleSize is Decode with a sample width of 1, 2 or 4 bytes.
func (m *Module) DecodeWithSampleSize(h arena.Handle, inSize, outSize, bytesPerSample uint32) arena.Handle {
	return m.decode("decode_with_sample_size", h, inSize, outSize, bytesPerSample)
}

func (m *Module) decode(op string, h arena.Handle, inSize, outSize, bytesPerSample uint32) arena.Handle {
	enc, err := pixel.ParseBytesPerSample(int(bytesPerSample))
	if err != nil {
		m.fail(op, invalid("%v", err))
		return 0
	}
	s, err := m.open(h, inSize, outSize)
	if err != nil {
		m.fail(op, err)
		return 0
	}
	out, err := s.Decode(enc, int(outSize))
	if err != nil {
		m.fail(op, err)
		return 0
	}
	handle := m.arena.Adopt(out)
	m.setStatus(OK)
	return handle
}

// Width renders keyframe 0 and returns its width, or a negative sentinel.
func (m *Module) Width(h arena.Handle, inSize, outSize uint32) int32 {
	f, err := m.first(h, inSize, outSize)
	if err != nil {
		return m.fail("width", err).Sentinel()
	}
	m.setStatus(OK)
	return int32(f.Width)
}

// Height renders keyframe 0 and returns its height, or a negative sentinel.
func (m *Module) Height(h arena.Handle, inSize, outSize uint32) int32 {
	f, err := m.first(h, inSize, outSize)
	if err != nil {
		return m.fail("height", err).Sentinel()
	}
	m.setStatus(OK)
	return int32(f.Height)
}

func (m *Module) first(h arena.Handle, inSize, outSize uint32) (*codec.Frame, error) {
	s, err := m.open(h, inSize, outSize)
	if err != nil {
		return nil, err
	}
	return s.First()
}

// FrameCount renders every keyframe and returns how many rendered. A
// failure on any keyframe yields a sentinel, never a partial count.
func (m *Module) FrameCount(h arena.Handle, inSize, outSize uint32) int32 {
	s, err := m.open(h, inSize, outSize)
	if err != nil {
		return m.fail("frame_count", err).Sentinel()
	}
	n, err := s.Render(nil)
	if err == nil && n == 0 {
		err = decode.ErrNoFrames
	}
	if err != nil {
		return m.fail("frame_count", err).Sentinel()
	}
	m.setStatus(OK)
	return int32(n)
}

// PackedDimensions returns height<<31 | width from the header alone, or -1
// for invalid arguments and -2 for parse failures.
func (m *Module) PackedDimensions(h arena.Handle, inSize uint32) int64 {
	data, err := m.input(h, inSize)
	if err != nil {
		m.fail("height_and_width", err)
		return -1
	}
	s, err := decode.Open(m.dec, data)
	if err != nil {
		m.fail("height_and_width", err)
		return -2
	}
	m.setStatus(OK)
	hdr := s.Header()
	return int64(hdr.Height)<<31 | int64(hdr.Width)&0x7fffffff
}
