package abi

import (
	"math"
	"sync"

	"github.com/pspoerri/rasterwasm/internal/arena"
	"github.com/pspoerri/rasterwasm/internal/decode"
	"github.com/pspoerri/rasterwasm/internal/pixel"
)

// SessionHandle names an open session. 0 is never a valid session.
type SessionHandle uint32

// session is an input parsed once and queried many times. The input is
// copied so the caller may release its buffer right after OpenSession.
type session struct {
	mu sync.Mutex
	s  *decode.Session
}

// OpenSession parses the input behind h and returns a session handle, or 0.
func (m *Module) OpenSession(h arena.Handle, inSize uint32) SessionHandle {
	data, err := m.input(h, inSize)
	if err != nil {
		m.fail("open_session", err)
		return 0
	}
	data = append([]byte(nil), data...)
	s, err := decode.Open(m.dec, data)
	if err != nil {
		m.fail("open_session", err)
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextSess == math.MaxUint32 {
		m.last = InvalidArgument
		return 0
	}
	m.nextSess++
	id := m.nextSess
	m.sessions[id] = &session{s: s}
	m.last = OK
	return id
}

func (m *Module) session(op string, id SessionHandle) *session {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		m.fail(op, invalid("unknown session %d", id))
		return nil
	}
	return s
}

// SessionWidth returns the header width of a session, or -1.
func (m *Module) SessionWidth(id SessionHandle) int32 {
	s := m.session("session_width", id)
	if s == nil {
		return InvalidArgument.Sentinel()
	}
	m.setStatus(OK)
	return int32(s.s.Header().Width)
}

// SessionHeight returns the header height of a session, or -1.
func (m *Module) SessionHeight(id SessionHandle) int32 {
	s := m.session("session_height", id)
	if s == nil {
		return InvalidArgument.Sentinel()
	}
	m.setStatus(OK)
	return int32(s.s.Header().Height)
}

// SessionFormat returns the codec.PixelFormat of a session as an integer,
// or -1.
func (m *Module) SessionFormat(id SessionHandle) int32 {
	s := m.session("session_format", id)
	if s == nil {
		return InvalidArgument.Sentinel()
	}
	m.setStatus(OK)
	return int32(s.s.Header().Format)
}

// SessionFrameCount returns the number of keyframes the container lists.
// Unlike FrameCount it does not render them.
func (m *Module) SessionFrameCount(id SessionHandle) int32 {
	s := m.session("session_frame_count", id)
	if s == nil {
		return InvalidArgument.Sentinel()
	}
	n := s.s.NumKeyframes()
	if n == 0 {
		return m.fail("session_frame_count", decode.ErrNoFrames).Sentinel()
	}
	m.setStatus(OK)
	return int32(n)
}

// SessionDecodeFrame encodes keyframe index alone and returns a handle to
// exactly outSize bytes, or 0.
func (m *Module) SessionDecodeFrame(id SessionHandle, index, outSize, bytesPerSample uint32) arena.Handle {
	const op = "session_decode_frame"
	s := m.session(op, id)
	if s == nil {
		return 0
	}
	enc, err := pixel.ParseBytesPerSample(int(bytesPerSample))
	if err != nil {
		m.fail(op, invalid("%v", err))
		return 0
	}
	if outSize == 0 {
		m.fail(op, invalid("zero output size"))
		return 0
	}

	s.mu.Lock()
	out, err := s.s.DecodeFrame(int(index), enc, int(outSize))
	s.mu.Unlock()
	if err != nil {
		m.fail(op, err)
		return 0
	}
	h := m.arena.Adopt(out)
	m.setStatus(OK)
	return h
}

// CloseSession discards a session. Closing an unknown session is reported
// as an invalid argument.
func (m *Module) CloseSession(id SessionHandle) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		m.fail("close_session", invalid("unknown session %d", id))
		return
	}
	m.setStatus(OK)
}

// Sessions returns the number of open sessions.
func (m *Module) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
