// Package pixel serializes normalized float frames into fixed-width sample
// buffers.
//
// Samples are clamped to [0, 1] (NaN becomes 0) and scaled with
// round-to-nearest. RGB frames gain a fully opaque alpha channel so that
// colour output is always four channels wide; gray stays single-channel.
package pixel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pspoerri/rasterwasm/internal/codec"
)

var (
	// ErrUnsupportedFormat is returned for pixel formats without an output
	// layout.
	ErrUnsupportedFormat = errors.New("pixel: unsupported pixel format")
	// ErrSizeMismatch is returned when encoded output does not have exactly
	// the requested length.
	ErrSizeMismatch = errors.New("pixel: output size mismatch")
)

// Encoding is the on-the-wire sample type.
type Encoding int

const (
	UInt8 Encoding = iota
	UInt16LE
	Float32LE
)

// BytesPerSample returns 1, 2 or 4.
func (e Encoding) BytesPerSample() int {
	switch e {
	case UInt16LE:
		return 2
	case Float32LE:
		return 4
	default:
		return 1
	}
}

func (e Encoding) String() string {
	switch e {
	case UInt8:
		return "uint8"
	case UInt16LE:
		return "uint16le"
	case Float32LE:
		return "float32le"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseBytesPerSample maps a sample width in bytes to an Encoding.
func ParseBytesPerSample(n int) (Encoding, error) {
	switch n {
	case 1:
		return UInt8, nil
	case 2:
		return UInt16LE, nil
	case 4:
		return Float32LE, nil
	default:
		return 0, fmt.Errorf("unsupported sample width %d", n)
	}
}

// OutputChannels is the number of channels written per pixel.
func OutputChannels(format codec.PixelFormat) (int, error) {
	switch format {
	case codec.Gray:
		return 1, nil
	case codec.RGB, codec.RGBA:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

// FrameSize returns the encoded size of one width x height frame.
func FrameSize(width, height int, format codec.PixelFormat, enc Encoding) (int, error) {
	ch, err := OutputChannels(format)
	if err != nil {
		return 0, err
	}
	return width * height * ch * enc.BytesPerSample(), nil
}

// Encode appends the encoding of f to dst. The frame's channel count must
// match the arity of format.
func Encode(dst []byte, f *codec.Frame, format codec.PixelFormat, enc Encoding) ([]byte, error) {
	outCh, err := OutputChannels(format)
	if err != nil {
		return dst, err
	}
	inCh := format.Channels()
	if f.Channels != inCh {
		return dst, fmt.Errorf("frame has %d channels, %v needs %d", f.Channels, format, inCh)
	}
	n := f.Width * f.Height
	if len(f.Pix) != n*inCh {
		return dst, fmt.Errorf("frame has %d samples, want %d", len(f.Pix), n*inCh)
	}

	dst = grow(dst, n*outCh*enc.BytesPerSample())
	for p := 0; p < n; p++ {
		px := f.Pix[p*inCh : (p+1)*inCh]
		for _, v := range px {
			dst = appendSample(dst, v, enc)
		}
		if outCh > inCh {
			dst = appendSample(dst, 1, enc)
		}
	}
	return dst, nil
}

func appendSample(dst []byte, v float32, enc Encoding) []byte {
	v = clamp(v)
	switch enc {
	case UInt16LE:
		return binary.LittleEndian.AppendUint16(dst, uint16(math.Round(float64(v)*65535)))
	case Float32LE:
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	default:
		return append(dst, uint8(math.Round(float64(v)*255)))
	}
}

func clamp(v float32) float32 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func grow(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b
	}
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return out
}
