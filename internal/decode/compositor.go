package decode

import (
	"fmt"

	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/pixel"
)

// renderAt renders keyframe position i and checks its geometry against the
// header.
func (s *Session) renderAt(i int) (*codec.Frame, error) {
	idx := s.keyframes[i]
	f, err := s.img.Render(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: keyframe %d: %w", ErrRender, idx, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: keyframe %d: no frame", ErrRender, idx)
	}
	if f.Width != s.header.Width || f.Height != s.header.Height {
		return nil, fmt.Errorf("%w: keyframe %d is %dx%d, header says %dx%d",
			ErrRender, idx, f.Width, f.Height, s.header.Width, s.header.Height)
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return nil, fmt.Errorf("%w: keyframe %d has %d samples for %dx%dx%d",
			ErrRender, idx, len(f.Pix), f.Width, f.Height, f.Channels)
	}
	return f, nil
}

// Render renders every keyframe in ascending order and hands each frame to
// fn. The first failure, from the collaborator or from fn, abandons the
// whole run: the count is only returned on success.
func (s *Session) Render(fn func(index int, f *codec.Frame) error) (int, error) {
	for i := range s.keyframes {
		f, err := s.renderAt(i)
		if err != nil {
			return 0, err
		}
		if fn != nil {
			if err := fn(i, f); err != nil {
				return 0, err
			}
		}
	}
	return len(s.keyframes), nil
}

// First renders keyframe 0 only.
func (s *Session) First() (*codec.Frame, error) {
	if len(s.keyframes) == 0 {
		return nil, ErrNoFrames
	}
	return s.renderAt(0)
}

// Frame renders keyframe position i.
func (s *Session) Frame(i int) (*codec.Frame, error) {
	if i < 0 || i >= len(s.keyframes) {
		return nil, fmt.Errorf("%w: keyframe %d out of range (have %d)", ErrRender, i, len(s.keyframes))
	}
	return s.renderAt(i)
}

// Decode encodes every keyframe and concatenates the payloads in keyframe
// order. outputSize must equal the size the header implies; otherwise the
// call fails with pixel.ErrSizeMismatch before anything is rendered.
func (s *Session) Decode(enc pixel.Encoding, outputSize int) ([]byte, error) {
	if _, err := pixel.OutputChannels(s.header.Format); err != nil {
		return nil, err
	}
	if len(s.keyframes) == 0 {
		return nil, ErrNoFrames
	}
	return s.encode(enc, outputSize, 0, len(s.keyframes))
}

// DecodeFrame encodes keyframe position i alone.
func (s *Session) DecodeFrame(i int, enc pixel.Encoding, outputSize int) ([]byte, error) {
	if _, err := pixel.OutputChannels(s.header.Format); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(s.keyframes) {
		return nil, fmt.Errorf("%w: keyframe %d out of range (have %d)", ErrRender, i, len(s.keyframes))
	}
	return s.encode(enc, outputSize, i, i+1)
}

func (s *Session) encode(enc pixel.Encoding, outputSize, from, to int) ([]byte, error) {
	frameSize, err := pixel.FrameSize(s.header.Width, s.header.Height, s.header.Format, enc)
	if err != nil {
		return nil, err
	}
	want := frameSize * (to - from)
	if outputSize != want {
		return nil, fmt.Errorf("%w: requested %d bytes, %d keyframe(s) encode to %d",
			pixel.ErrSizeMismatch, outputSize, to-from, want)
	}

	out := make([]byte, 0, want)
	for i := from; i < to; i++ {
		f, err := s.renderAt(i)
		if err != nil {
			return nil, err
		}
		if out, err = pixel.Encode(out, f, s.header.Format, enc); err != nil {
			return nil, fmt.Errorf("%w: keyframe %d: %w", ErrRender, s.keyframes[i], err)
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", pixel.ErrSizeMismatch, len(out), want)
	}
	return out, nil
}
