package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
)

// stillImage is a single-frame container. The header comes from the
// container's config block; pixels are decoded on Render.
type stillImage struct {
	data   []byte
	header Header
	decode func(io.Reader) (image.Image, error)
}

func openStill(data []byte, decodeConfig func(io.Reader) (image.Config, error), decode func(io.Reader) (image.Image, error)) (Image, error) {
	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &stillImage{
		data:   data,
		header: Header{Width: cfg.Width, Height: cfg.Height, Format: formatOf(cfg.ColorModel)},
		decode: decode,
	}, nil
}

func (r *Registry) openPNG(data []byte) (Image, error) {
	return openStill(data, png.DecodeConfig, png.Decode)
}

func (r *Registry) openJPEG(data []byte) (Image, error) {
	return openStill(data, jpeg.DecodeConfig, jpeg.Decode)
}

func (r *Registry) openBMP(data []byte) (Image, error) {
	return openStill(data, bmp.DecodeConfig, bmp.Decode)
}

func (s *stillImage) Header() Header   { return s.header }
func (s *stillImage) Keyframes() []int { return []int{0} }

func (s *stillImage) Render(index int) (*Frame, error) {
	if err := checkIndex(index, 1); err != nil {
		return nil, err
	}
	img, err := s.decode(bytes.NewReader(s.data))
	if err != nil {
		return nil, err
	}
	return toFrame(img, s.header.Format), nil
}

// formatOf maps a colour model to a pixel format. Models that cannot carry
// transparency map to RGB; anything unrecognised is treated as RGBA.
func formatOf(m color.Model) PixelFormat {
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return RGBA
			}
		}
		return RGB
	}
	switch m {
	case color.GrayModel, color.Gray16Model:
		return Gray
	case color.YCbCrModel, color.CMYKModel, color.RGBAModel, color.RGBA64Model:
		return RGB
	default:
		return RGBA
	}
}

// toFrame converts img to a frame with the channel layout of format, using
// non-premultiplied samples.
func toFrame(img image.Image, format PixelFormat) *Frame {
	b := img.Bounds()
	ch := format.Channels()
	f := NewFrame(b.Dx(), b.Dy(), ch)

	switch src := img.(type) {
	case *image.Gray:
		if format == Gray {
			for y := 0; y < f.Height; y++ {
				row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
				out := f.Pix[y*f.Width:]
				for x := 0; x < f.Width; x++ {
					out[x] = float32(row[x]) / 255
				}
			}
			return f
		}
	case *image.NRGBA:
		if format == RGBA {
			for y := 0; y < f.Height; y++ {
				off := src.PixOffset(b.Min.X, b.Min.Y+y)
				row := src.Pix[off : off+f.Width*4]
				out := f.Pix[y*f.Width*4:]
				for i, v := range row {
					out[i] = float32(v) / 255
				}
			}
			return f
		}
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			if format == Gray {
				f.Pix[i] = float32(color.Gray16Model.Convert(c).(color.Gray16).Y) / 65535
				i++
				continue
			}
			n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
			f.Pix[i] = float32(n.R) / 65535
			f.Pix[i+1] = float32(n.G) / 65535
			f.Pix[i+2] = float32(n.B) / 65535
			if ch == 4 {
				f.Pix[i+3] = float32(n.A) / 65535
			}
			i += ch
		}
	}
	return f
}
