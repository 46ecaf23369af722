package codec

import (
	"bytes"
	"errors"
	"image"
	"image/draw"
	"image/gif"
)

// gifImage composites GIF frames onto the logical screen. Every frame is a
// keyframe. The canvas is kept between calls so rendering frames in order
// only composites each one once.
type gifImage struct {
	g      *gif.GIF
	header Header

	canvas *image.RGBA // screen state before frame next is drawn
	next   int
}

func (r *Registry) openGIF(data []byte) (Image, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, errors.New("no frames")
	}
	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}
	return &gifImage{
		g:      g,
		header: Header{Width: w, Height: h, Format: RGBA},
	}, nil
}

func (gi *gifImage) Header() Header   { return gi.header }
func (gi *gifImage) Keyframes() []int { return keyframeRange(len(gi.g.Image)) }

func (gi *gifImage) Render(index int) (*Frame, error) {
	if err := checkIndex(index, len(gi.g.Image)); err != nil {
		return nil, err
	}
	if gi.canvas == nil || index < gi.next {
		gi.canvas = image.NewRGBA(image.Rect(0, 0, gi.header.Width, gi.header.Height))
		gi.next = 0
	}

	var out *Frame
	for k := gi.next; k <= index; k++ {
		src := gi.g.Image[k]
		disposal := byte(gif.DisposalNone)
		if k < len(gi.g.Disposal) {
			disposal = gi.g.Disposal[k]
		}

		var saved *image.RGBA
		if disposal == gif.DisposalPrevious {
			saved = image.NewRGBA(gi.canvas.Rect)
			copy(saved.Pix, gi.canvas.Pix)
		}

		draw.Draw(gi.canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)
		if k == index {
			out = toFrame(gi.canvas, RGBA)
		}

		// Background disposal clears to transparent, as browsers do.
		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(gi.canvas, src.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			gi.canvas = saved
		}
	}
	gi.next = index + 1
	return out, nil
}
