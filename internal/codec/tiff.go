package codec

import (
	"fmt"

	"github.com/pspoerri/rasterwasm/internal/codec/tiff"
)

// tiffImage exposes every IFD as a keyframe. The header describes IFD 0.
type tiffImage struct {
	f      *tiff.File
	header Header
}

func isTIFF(data []byte) bool {
	return tiff.Signature(data)
}

func (r *Registry) openTIFF(data []byte) (Image, error) {
	f, err := tiff.Parse(data)
	if err != nil {
		return nil, err
	}
	for i := 0; i < f.NumPages(); i++ {
		p := f.Page(i)
		if err := r.limits.checkPixels(int(p.Width), int(p.Height)); err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
	}
	first := f.Page(0)
	return &tiffImage{
		f: f,
		header: Header{
			Width:  int(first.Width),
			Height: int(first.Height),
			Format: tiffFormat(first),
		},
	}, nil
}

// tiffFormat derives the pixel format from photometric and extra-sample
// tags. Gray with alpha has no matching format.
func tiffFormat(p *tiff.IFD) PixelFormat {
	switch {
	case p.ColorChannels() == 1 && !p.HasAlpha():
		return Gray
	case p.ColorChannels() == 3 && !p.HasAlpha():
		return RGB
	case p.ColorChannels() == 3:
		return RGBA
	default:
		return Unsupported
	}
}

func (ti *tiffImage) Header() Header   { return ti.header }
func (ti *tiffImage) Keyframes() []int { return keyframeRange(ti.f.NumPages()) }

func (ti *tiffImage) Render(index int) (*Frame, error) {
	if err := checkIndex(index, ti.f.NumPages()); err != nil {
		return nil, err
	}
	r, err := ti.f.Decode(index)
	if err != nil {
		return nil, err
	}
	return &Frame{Width: r.Width, Height: r.Height, Channels: r.Channels, Pix: r.Pix}, nil
}
