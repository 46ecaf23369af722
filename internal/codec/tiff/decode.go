package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
)

// Raster is a decoded page: channel-interleaved samples normalized so that
// integer data spans [0, 1]. Float pages are passed through unscaled.
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

// pageDecoder carries the per-page state used while unpacking blocks.
type pageDecoder struct {
	f     *File
	ifd   *IFD
	out   *Raster
	alpha int // source sample index of alpha, or -1
}

// Decode renders page i. Errors describe the first block that failed.
func (f *File) Decode(i int) (*Raster, error) {
	if i < 0 || i >= len(f.ifds) {
		return nil, fmt.Errorf("page %d out of range (have %d)", i, len(f.ifds))
	}
	ifd := &f.ifds[i]

	if err := checkSampleLayout(ifd); err != nil {
		return nil, fmt.Errorf("page %d: %w", i, err)
	}

	channels := ifd.ColorChannels()
	alpha := ifd.AlphaSample()
	if alpha >= 0 {
		channels++
	}
	w, h := int(ifd.Width), int(ifd.Height)
	d := &pageDecoder{
		f:     f,
		ifd:   ifd,
		alpha: alpha,
		out: &Raster{
			Width:    w,
			Height:   h,
			Channels: channels,
			Pix:      make([]float32, w*h*channels),
		},
	}
	bw, bh, across, down := ifd.blockGeometry()
	planes := 1
	if ifd.PlanarConfig == 2 {
		planes = int(ifd.SamplesPerPixel)
	}

	for p := 0; p < planes; p++ {
		for by := 0; by < down; by++ {
			for bx := 0; bx < across; bx++ {
				idx := (p*down+by)*across + bx
				if err := d.block(idx, p, bx*bw, by*bh, bw, bh); err != nil {
					return nil, fmt.Errorf("page %d block %d: %w", i, idx, err)
				}
			}
		}
	}
	return d.out, nil
}

func checkSampleLayout(ifd *IFD) error {
	bits := ifd.bitsPerSample()
	switch ifd.SampleFormat {
	case SampleFormatUint:
		if bits != 8 && bits != 16 {
			return fmt.Errorf("unsupported %d-bit integer samples", bits)
		}
	case SampleFormatFloat:
		if bits != 32 {
			return fmt.Errorf("unsupported %d-bit float samples", bits)
		}
	default:
		return fmt.Errorf("unsupported sample format %d", ifd.SampleFormat)
	}
	if ifd.Photometric == PhotometricPalette && (ifd.SampleFormat != SampleFormatUint || len(ifd.ColorMap) < 3<<bits) {
		return fmt.Errorf("color map has %d entries, want %d", len(ifd.ColorMap), 3<<bits)
	}
	if ifd.Photometric == PhotometricYCbCr && ifd.Compression != CompressionJPEG {
		return fmt.Errorf("YCbCr only supported with JPEG compression")
	}
	if ifd.Predictor != 1 && ifd.Predictor != 2 {
		return fmt.Errorf("unsupported predictor %d", ifd.Predictor)
	}
	if ifd.Predictor == 2 && ifd.SampleFormat != SampleFormatUint {
		return fmt.Errorf("horizontal predictor on float samples")
	}
	return nil
}

// block decodes one strip or tile whose top-left pixel is (x0, y0).
func (d *pageDecoder) block(idx, plane, x0, y0, bw, bh int) error {
	ifd := d.ifd
	raw, err := d.f.slice(ifd.Offsets[idx], ifd.ByteCounts[idx])
	if err != nil {
		return err
	}

	// Strips are only as tall as the rows left in the image.
	rows := bh
	if !ifd.Tiled() && y0+rows > int(ifd.Height) {
		rows = int(ifd.Height) - y0
	}

	if ifd.Compression == CompressionJPEG {
		return d.jpegBlock(raw, x0, y0, bw, rows)
	}

	spp := int(ifd.SamplesPerPixel)
	if ifd.PlanarConfig == 2 {
		spp = 1
	}
	bps := ifd.bitsPerSample() / 8
	want := bw * rows * spp * bps

	data, err := decompress(ifd.Compression, raw, want)
	if err != nil {
		return err
	}
	if len(data) < want {
		return fmt.Errorf("short block: %d bytes, want %d", len(data), want)
	}
	if ifd.Predictor == 2 {
		if ifd.Compression == CompressionNone {
			data = append([]byte(nil), data[:want]...)
		}
		undoHorizontalPredictor(data[:want], d.f.bo, bw, rows, spp, bps)
	}

	for r := 0; r < rows; r++ {
		y := y0 + r
		if y >= d.out.Height {
			break
		}
		for c := 0; c < bw; c++ {
			x := x0 + c
			if x >= d.out.Width {
				break
			}
			px := (y*d.out.Width + x) * d.out.Channels
			base := (r*bw + c) * spp
			for s := 0; s < spp; s++ {
				d.store(px, plane+s, d.sample(data, (base+s)*bps))
			}
		}
	}
	return nil
}

// sample reads one stored sample at byte offset off.
func (d *pageDecoder) sample(data []byte, off int) float32 {
	bo := d.f.bo
	switch {
	case d.ifd.SampleFormat == SampleFormatFloat:
		return math.Float32frombits(bo.Uint32(data[off:]))
	case d.ifd.bitsPerSample() == 16:
		return float32(bo.Uint16(data[off:]))
	default:
		return float32(data[off])
	}
}

// store writes source sample s of one pixel into the raster at px.
func (d *pageDecoder) store(px, s int, v float32) {
	ifd := d.ifd
	scale := float32(1)
	if ifd.SampleFormat == SampleFormatUint {
		scale = float32(int(1)<<ifd.bitsPerSample() - 1)
	}

	switch {
	case s == d.alpha:
		d.out.Pix[px+d.out.Channels-1] = v / scale
	case s >= ifd.storedColorSamples():
		// Extra samples other than alpha are dropped.
	case ifd.Photometric == PhotometricPalette:
		n := 1 << ifd.bitsPerSample()
		i := int(v)
		d.out.Pix[px] = float32(ifd.ColorMap[i]) / 65535
		d.out.Pix[px+1] = float32(ifd.ColorMap[n+i]) / 65535
		d.out.Pix[px+2] = float32(ifd.ColorMap[2*n+i]) / 65535
	case ifd.Photometric == PhotometricWhiteIsZero:
		if ifd.SampleFormat == SampleFormatFloat {
			d.out.Pix[px+s] = 1 - v
		} else {
			d.out.Pix[px+s] = 1 - v/scale
		}
	default:
		d.out.Pix[px+s] = v / scale
	}
}

// jpegBlock decodes a JPEG-compressed tile or strip, splicing in the shared
// JPEGTables when present.
func (d *pageDecoder) jpegBlock(raw []byte, x0, y0, bw, rows int) error {
	data := raw
	if tables := d.ifd.JPEGTables; len(tables) > 0 {
		// Strip the tables' EOI (FFD9) and the block's SOI (FFD8).
		if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
			tables = tables[:len(tables)-2]
		}
		if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
			data = data[2:]
		}
		data = append(append(make([]byte, 0, len(tables)+len(data)), tables...), data...)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding JPEG block: %w", err)
	}

	b := img.Bounds()
	colorCh := d.ifd.ColorChannels()
	for r := 0; r < rows && r < b.Dy(); r++ {
		y := y0 + r
		if y >= d.out.Height {
			break
		}
		for c := 0; c < bw && c < b.Dx(); c++ {
			x := x0 + c
			if x >= d.out.Width {
				break
			}
			px := (y*d.out.Width + x) * d.out.Channels
			writeColor(d.out.Pix[px:px+colorCh], img, b.Min.X+c, b.Min.Y+r)
			if d.alpha >= 0 {
				d.out.Pix[px+d.out.Channels-1] = 1
			}
		}
	}
	return nil
}

func writeColor(dst []float32, img image.Image, x, y int) {
	if len(dst) == 1 {
		g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
		dst[0] = float32(g.Y) / 65535
		return
	}
	r, g, b, _ := img.At(x, y).RGBA()
	dst[0] = float32(r) / 65535
	dst[1] = float32(g) / 65535
	dst[2] = float32(b) / 65535
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place.
func undoHorizontalPredictor(data []byte, bo binary.ByteOrder, width, rows, spp, bps int) {
	rowLen := width * spp * bps
	for r := 0; r < rows; r++ {
		row := data[r*rowLen : (r+1)*rowLen]
		switch bps {
		case 1:
			for i := spp; i < len(row); i++ {
				row[i] += row[i-spp]
			}
		case 2:
			for i := spp * 2; i < len(row); i += 2 {
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-spp*2:]))
			}
		}
	}
}
