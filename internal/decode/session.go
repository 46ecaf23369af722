// Package decode drives a codec.Decoder over one input: it opens the
// container, renders keyframes in order and serializes them.
package decode

import (
	"errors"
	"fmt"

	"github.com/pspoerri/rasterwasm/internal/codec"
)

var (
	// ErrParse wraps every failure to open the input.
	ErrParse = errors.New("decode: parse failure")
	// ErrRender wraps every failure to render a keyframe.
	ErrRender = errors.New("decode: render failure")
	// ErrNoFrames is returned when a container lists no keyframes.
	ErrNoFrames = errors.New("decode: no frames")
)

// Session is one opened input. It is not safe for concurrent use.
type Session struct {
	img       codec.Image
	header    codec.Header
	keyframes []int
}

// Open parses data with dec. The session keeps a reference to data.
func Open(dec codec.Decoder, data []byte) (*Session, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrParse)
	}
	img, err := dec.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &Session{
		img:       img,
		header:    img.Header(),
		keyframes: img.Keyframes(),
	}, nil
}

// Header returns the container header.
func (s *Session) Header() codec.Header {
	return s.header
}

// Keyframes returns the keyframe indices in presentation order.
func (s *Session) Keyframes() []int {
	return s.keyframes
}

// NumKeyframes returns len(Keyframes()).
func (s *Session) NumKeyframes() int {
	return len(s.keyframes)
}
