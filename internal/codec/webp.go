package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gen2brain/webp"
)

// VP8X feature flags.
const (
	vp8xAnimation = 0x02
	vp8xAlpha     = 0x10
)

// animatedWebP exposes every ANMF frame of an animated WebP as a keyframe.
// Frames come back from the decoder fully composited onto the canvas, so
// they are decoded together on the first Render and kept.
type animatedWebP struct {
	data   []byte
	header Header
	frames int
	images []*Frame
}

func (r *Registry) openWebP(data []byte) (Image, error) {
	info, err := scanWebP(data)
	if err != nil {
		return nil, err
	}
	if !info.animated {
		return openStill(data, webp.DecodeConfig, webp.Decode)
	}
	if info.frames == 0 {
		return nil, errors.New("animation has no frames")
	}
	return &animatedWebP{
		data:   data,
		header: Header{Width: info.width, Height: info.height, Format: RGBA},
		frames: info.frames,
	}, nil
}

func (a *animatedWebP) Header() Header   { return a.header }
func (a *animatedWebP) Keyframes() []int { return keyframeRange(a.frames) }

func (a *animatedWebP) Render(index int) (*Frame, error) {
	if err := checkIndex(index, a.frames); err != nil {
		return nil, err
	}
	if a.images == nil {
		anim, err := webp.DecodeAll(bytes.NewReader(a.data))
		if err != nil {
			return nil, err
		}
		if len(anim.Image) != a.frames {
			return nil, fmt.Errorf("decoder produced %d frames, container lists %d", len(anim.Image), a.frames)
		}
		images := make([]*Frame, len(anim.Image))
		for i, img := range anim.Image {
			images[i] = toFrame(img, RGBA)
		}
		a.images = images
	}
	return a.images[index], nil
}

type webpInfo struct {
	animated      bool
	width, height int
	frames        int
}

// scanWebP walks the RIFF chunk list. Only an extended (VP8X) header can
// announce an animation; simple files are left to the still decoder.
func scanWebP(data []byte) (webpInfo, error) {
	var info webpInfo
	if len(data) < 12 {
		return info, errors.New("truncated RIFF header")
	}
	end := 8 + int64(binary.LittleEndian.Uint32(data[4:8]))
	if end > int64(len(data)) {
		end = int64(len(data))
	}

	for off := int64(12); off+8 <= end; {
		fourcc := string(data[off : off+4])
		size := int64(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > end {
			return info, fmt.Errorf("chunk %q overruns the file", fourcc)
		}
		switch fourcc {
		case "VP8X":
			if off != 12 || size < 10 {
				return info, errors.New("malformed VP8X chunk")
			}
			chunk := data[body : body+size]
			info.animated = chunk[0]&vp8xAnimation != 0
			info.width = 1 + int(uint24(chunk[4:7]))
			info.height = 1 + int(uint24(chunk[7:10]))
		case "ANMF":
			info.frames++
		}
		off = body + size + size&1
	}
	return info, nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
