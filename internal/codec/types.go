// Package codec is the decoding collaborator: it turns compressed container
// bytes into a header and a sequence of normalized float frames.
package codec

import "fmt"

// PixelFormat is the channel layout of a decoded image.
type PixelFormat int

const (
	Unsupported PixelFormat = iota
	Gray
	RGB
	RGBA
)

// Channels returns the arity of the format, or 0 for Unsupported.
func (p PixelFormat) Channels() int {
	switch p {
	case Gray:
		return 1
	case RGB:
		return 3
	case RGBA:
		return 4
	default:
		return 0
	}
}

func (p PixelFormat) String() string {
	switch p {
	case Gray:
		return "gray"
	case RGB:
		return "rgb"
	case RGBA:
		return "rgba"
	default:
		return "unsupported"
	}
}

// Header is what a container reveals without rendering any pixels.
type Header struct {
	Width  int
	Height int
	Format PixelFormat
}

// Frame is one rendered keyframe. Pix holds Width*Height*Channels samples,
// channel-interleaved and nominally in [0, 1].
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, width*height*channels),
	}
}

// Decoder opens container bytes. Any error it returns is a parse failure.
type Decoder interface {
	Open(data []byte) (Image, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(data []byte) (Image, error)

// Open calls f(data).
func (f DecoderFunc) Open(data []byte) (Image, error) {
	return f(data)
}

// Image is an opened container. Keyframes lists the renderable frame indices
// in presentation order; Render is called with those indices only. Any error
// from Render is a render failure.
type Image interface {
	Header() Header
	Keyframes() []int
	Render(index int) (*Frame, error)
}

// keyframeRange returns [0, n).
func keyframeRange(n int) []int {
	ks := make([]int, n)
	for i := range ks {
		ks[i] = i
	}
	return ks
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("frame %d out of range (have %d)", index, n)
	}
	return nil
}
