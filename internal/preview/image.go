package preview

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/pixel"
)

// FromSamples wraps the first frame of an encoded sample buffer as an
// 8-bit image: *image.Gray for gray output, *image.NRGBA otherwise.
func FromSamples(pix []byte, width, height int, format codec.PixelFormat, enc pixel.Encoding) (image.Image, error) {
	ch, err := pixel.OutputChannels(format)
	if err != nil {
		return nil, err
	}
	frameSize, _ := pixel.FrameSize(width, height, format, enc)
	if frameSize == 0 || len(pix) < frameSize {
		return nil, fmt.Errorf("have %d bytes, first %dx%d %v frame needs %d", len(pix), width, height, format, frameSize)
	}

	rect := image.Rect(0, 0, width, height)
	var dst []uint8
	var img image.Image
	if ch == 1 {
		g := image.NewGray(rect)
		dst, img = g.Pix, g
	} else {
		n := image.NewNRGBA(rect)
		dst, img = n.Pix, n
	}

	bps := enc.BytesPerSample()
	for i := range dst {
		dst[i] = to8(pix[i*bps:(i+1)*bps], enc)
	}
	return img, nil
}

func to8(b []byte, enc pixel.Encoding) uint8 {
	switch enc {
	case pixel.UInt16LE:
		return uint8(binary.LittleEndian.Uint16(b) >> 8)
	case pixel.Float32LE:
		v := math.Float32frombits(binary.LittleEndian.Uint32(b))
		return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
	default:
		return b[0]
	}
}
