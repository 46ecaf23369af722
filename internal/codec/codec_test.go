package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/gen2brain/webp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/bmp"

	"github.com/pspoerri/rasterwasm/internal/codec/tiff"
	"github.com/pspoerri/rasterwasm/internal/codec/tiff/tifftest"
)

func near(a, b float32, tol float64) bool {
	return math.Abs(float64(a-b)) <= tol
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func render(t *testing.T, r *Registry, data []byte, index int) (Header, *Frame) {
	t.Helper()
	img, err := r.Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f, err := img.Render(index)
	if err != nil {
		t.Fatalf("Render(%d): %v", index, err)
	}
	return img.Header(), f
}

func checkPix(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len(Pix) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !near(got[i], want[i], tol) {
			t.Errorf("Pix[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPixelFormat(t *testing.T) {
	tests := []struct {
		f    PixelFormat
		ch   int
		name string
	}{
		{Unsupported, 0, "unsupported"},
		{Gray, 1, "gray"},
		{RGB, 3, "rgb"},
		{RGBA, 4, "rgba"},
	}
	for _, tt := range tests {
		if tt.f.Channels() != tt.ch || tt.f.String() != tt.name {
			t.Errorf("%d: Channels %d String %q, want %d %q", tt.f, tt.f.Channels(), tt.f.String(), tt.ch, tt.name)
		}
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		name  string
		model color.Model
		want  PixelFormat
	}{
		{"gray", color.GrayModel, Gray},
		{"gray16", color.Gray16Model, Gray},
		{"ycbcr", color.YCbCrModel, RGB},
		{"cmyk", color.CMYKModel, RGB},
		{"rgba", color.RGBAModel, RGB},
		{"rgba64", color.RGBA64Model, RGB},
		{"nrgba", color.NRGBAModel, RGBA},
		{"nycbcra", color.NYCbCrAModel, RGBA},
		{"opaque palette", color.Palette{color.Black, color.White}, RGB},
		{"transparent palette", color.Palette{color.Transparent, color.White}, RGBA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatOf(tt.model); got != tt.want {
				t.Errorf("formatOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPNG(t *testing.T) {
	r := NewRegistry(Limits{})

	t.Run("gray", func(t *testing.T) {
		img := image.NewGray(image.Rect(0, 0, 2, 1))
		img.Pix = []byte{0, 255}
		h, f := render(t, r, encodePNG(t, img), 0)
		if h != (Header{Width: 2, Height: 1, Format: Gray}) {
			t.Errorf("Header = %+v", h)
		}
		checkPix(t, f.Pix, []float32{0, 1}, 0)
	})

	t.Run("opaque rgb", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 1, 1))
		img.Pix = []byte{255, 51, 0, 255}
		h, f := render(t, r, encodePNG(t, img), 0)
		if h.Format != RGB || f.Channels != 3 {
			t.Fatalf("format %v, %d channels", h.Format, f.Channels)
		}
		checkPix(t, f.Pix, []float32{1, 0.2, 0}, 1e-6)
	})

	t.Run("translucent rgba", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		img.Pix = []byte{255, 0, 0, 128}
		h, f := render(t, r, encodePNG(t, img), 0)
		if h.Format != RGBA {
			t.Fatalf("Format = %v, want rgba", h.Format)
		}
		checkPix(t, f.Pix, []float32{1, 0, 0, 128.0 / 255}, 1e-6)
	})

	t.Run("only keyframe zero", func(t *testing.T) {
		img, err := r.Open(encodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1))))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if ks := img.Keyframes(); len(ks) != 1 || ks[0] != 0 {
			t.Errorf("Keyframes = %v, want [0]", ks)
		}
		if _, err := img.Render(1); err == nil {
			t.Error("Render(1) succeeded")
		}
	})
}

func TestJPEG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	h, f := render(t, NewRegistry(Limits{}), buf.Bytes(), 0)
	if h != (Header{Width: 8, Height: 8, Format: Gray}) {
		t.Errorf("Header = %+v", h)
	}
	for i, v := range f.Pix {
		if !near(v, 128.0/255, 2.0/255) {
			t.Fatalf("Pix[%d] = %v, want ~%v", i, v, 128.0/255)
		}
	}
}

func TestBMP(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Pix = []byte{255, 0, 0, 255, 0, 0, 255, 255}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(Limits{})
	if got := r.Sniff(buf.Bytes()); got != "bmp" {
		t.Errorf("Sniff = %q, want bmp", got)
	}
	h, f := render(t, r, buf.Bytes(), 0)
	if h != (Header{Width: 2, Height: 1, Format: RGB}) {
		t.Errorf("Header = %+v", h)
	}
	checkPix(t, f.Pix, []float32{1, 0, 0, 0, 0, 1}, 0)
}

func TestWebP(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{0, 255, 0, 255})
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Lossless: true}); err != nil {
		t.Fatalf("webp.Encode: %v", err)
	}

	r := NewRegistry(Limits{})
	if got := r.Sniff(buf.Bytes()); got != "webp" {
		t.Errorf("Sniff = %q, want webp", got)
	}
	h, f := render(t, r, buf.Bytes(), 0)
	if h.Width != 3 || h.Height != 2 || h.Format == Unsupported {
		t.Fatalf("Header = %+v", h)
	}
	if f.Channels != h.Format.Channels() {
		t.Fatalf("frame has %d channels, format %v", f.Channels, h.Format)
	}
	for i := 0; i < len(f.Pix); i += f.Channels {
		if !near(f.Pix[i], 0, 1.0/255) || !near(f.Pix[i+1], 1, 1.0/255) || !near(f.Pix[i+2], 0, 1.0/255) {
			t.Fatalf("pixel %d = %v, want green", i/f.Channels, f.Pix[i:i+3])
		}
	}
}

// buildAnimatedWebP wraps lossless encodings of frames into an animated WebP:
// VP8X with the animation flag, ANIM, then one full-canvas ANMF per frame
// that replaces the canvas without blending.
func buildAnimatedWebP(t *testing.T, frames ...*image.NRGBA) []byte {
	t.Helper()
	b := frames[0].Bounds()
	u24 := func(dst []byte, v int) []byte {
		return append(dst, byte(v), byte(v>>8), byte(v>>16))
	}
	chunk := func(dst []byte, fourcc string, body []byte) []byte {
		dst = append(dst, fourcc...)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
		dst = append(dst, body...)
		if len(body)%2 == 1 {
			dst = append(dst, 0)
		}
		return dst
	}

	vp8x := []byte{vp8xAnimation | vp8xAlpha, 0, 0, 0}
	vp8x = u24(vp8x, b.Dx()-1)
	vp8x = u24(vp8x, b.Dy()-1)
	body := chunk(nil, "VP8X", vp8x)
	body = chunk(body, "ANIM", []byte{0, 0, 0, 0, 0, 0})

	for _, img := range frames {
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, webp.Options{Lossless: true}); err != nil {
			t.Fatalf("webp.Encode: %v", err)
		}
		still := buf.Bytes()
		anmf := u24(nil, 0)
		anmf = u24(anmf, 0)
		anmf = u24(anmf, b.Dx()-1)
		anmf = u24(anmf, b.Dy()-1)
		anmf = u24(anmf, 100)
		anmf = append(anmf, 0x02) // do not blend, no disposal
		for off := 12; off+8 <= len(still); {
			fourcc := string(still[off : off+4])
			size := int(binary.LittleEndian.Uint32(still[off+4 : off+8]))
			if fourcc == "ALPH" || fourcc == "VP8 " || fourcc == "VP8L" {
				anmf = chunk(anmf, fourcc, still[off+8:off+8+size])
			}
			off += 8 + size + size&1
		}
		body = chunk(body, "ANMF", anmf)
	}

	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(4+len(body)))
	out = append(out, "WEBP"...)
	return append(out, body...)
}

func uniformNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{c.R, c.G, c.B, c.A})
	}
	return img
}

func TestWebP_Animated(t *testing.T) {
	data := buildAnimatedWebP(t,
		uniformNRGBA(2, 2, color.NRGBA{R: 255, A: 128}),
		uniformNRGBA(2, 2, color.NRGBA{B: 255, A: 255}),
	)

	r := NewRegistry(Limits{})
	img, err := r.Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h := img.Header(); h.Width != 2 || h.Height != 2 || h.Format != RGBA {
		t.Fatalf("Header = %+v, want 2x2 rgba", h)
	}
	if ks := img.Keyframes(); len(ks) != 2 {
		t.Fatalf("Keyframes = %v, want 2", ks)
	}

	want := [][4]float32{{1, 0, 0, 128.0 / 255}, {0, 0, 1, 1}}
	for k, px := range want {
		f, err := img.Render(k)
		if err != nil {
			t.Fatalf("Render(%d): %v", k, err)
		}
		if f.Width != 2 || f.Height != 2 || f.Channels != 4 {
			t.Fatalf("Render(%d) = %dx%dx%d", k, f.Width, f.Height, f.Channels)
		}
		for i := 0; i < len(f.Pix); i += 4 {
			for c := range px {
				if !near(f.Pix[i+c], px[c], 2.0/255) {
					t.Fatalf("frame %d pixel %d = %v, want %v", k, i/4, f.Pix[i:i+4], px)
				}
			}
		}
	}
	if _, err := img.Render(2); err == nil {
		t.Error("Render(2) succeeded on a two-frame animation")
	}
}

func TestScanWebP(t *testing.T) {
	var still bytes.Buffer
	if err := webp.Encode(&still, uniformNRGBA(3, 1, color.NRGBA{G: 255, A: 255}), webp.Options{Lossless: true}); err != nil {
		t.Fatal(err)
	}
	info, err := scanWebP(still.Bytes())
	if err != nil || info.animated || info.frames != 0 {
		t.Errorf("still: %+v, %v", info, err)
	}

	anim := buildAnimatedWebP(t, uniformNRGBA(3, 1, color.NRGBA{A: 255}), uniformNRGBA(3, 1, color.NRGBA{A: 255}), uniformNRGBA(3, 1, color.NRGBA{A: 255}))
	info, err = scanWebP(anim)
	if err != nil || !info.animated || info.frames != 3 || info.width != 3 || info.height != 1 {
		t.Errorf("animated: %+v, %v", info, err)
	}

	// Cut inside the last ANMF chunk but keep the RIFF size.
	if _, err := scanWebP(anim[:len(anim)-4]); err == nil {
		t.Error("truncated chunk accepted")
	}
	if _, err := scanWebP(anim[:10]); err == nil {
		t.Error("truncated header accepted")
	}
}

// twoFrameGIF returns a 2x2 animation: a red frame followed by a blue pixel
// drawn at (0,0).
func twoFrameGIF(t *testing.T, firstDisposal byte) []byte {
	t.Helper()
	pal := color.Palette{color.Transparent, color.RGBA{255, 0, 0, 255}, color.RGBA{0, 0, 255, 255}}
	f0 := image.NewPaletted(image.Rect(0, 0, 2, 2), pal)
	for i := range f0.Pix {
		f0.Pix[i] = 1
	}
	f1 := image.NewPaletted(image.Rect(0, 0, 1, 1), pal)
	f1.Pix[0] = 2

	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &gif.GIF{
		Image:    []*image.Paletted{f0, f1},
		Delay:    []int{0, 0},
		Disposal: []byte{firstDisposal, gif.DisposalNone},
	})
	if err != nil {
		t.Fatalf("gif.EncodeAll: %v", err)
	}
	return buf.Bytes()
}

func TestGIF(t *testing.T) {
	red := []float32{1, 0, 0, 1}
	blue := []float32{0, 0, 1, 1}
	clear := []float32{0, 0, 0, 0}
	join := func(px ...[]float32) []float32 {
		var out []float32
		for _, p := range px {
			out = append(out, p...)
		}
		return out
	}

	tests := []struct {
		name     string
		disposal byte
		want1    []float32
	}{
		{"none", gif.DisposalNone, join(blue, red, red, red)},
		{"background", gif.DisposalBackground, join(blue, clear, clear, clear)},
		{"previous", gif.DisposalPrevious, join(blue, clear, clear, clear)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := NewRegistry(Limits{}).Open(twoFrameGIF(t, tt.disposal))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if h := img.Header(); h != (Header{Width: 2, Height: 2, Format: RGBA}) {
				t.Errorf("Header = %+v", h)
			}
			if ks := img.Keyframes(); len(ks) != 2 {
				t.Fatalf("Keyframes = %v, want 2", ks)
			}

			f0, err := img.Render(0)
			if err != nil {
				t.Fatalf("Render(0): %v", err)
			}
			checkPix(t, f0.Pix, join(red, red, red, red), 0)

			f1, err := img.Render(1)
			if err != nil {
				t.Fatalf("Render(1): %v", err)
			}
			checkPix(t, f1.Pix, tt.want1, 0)

			// Rendering backwards restarts composition from the first frame.
			again, err := img.Render(0)
			if err != nil {
				t.Fatalf("Render(0) again: %v", err)
			}
			checkPix(t, again.Pix, f0.Pix, 0)
		})
	}
}

func TestTIFF(t *testing.T) {
	r := NewRegistry(Limits{})

	t.Run("pages are keyframes", func(t *testing.T) {
		data := tifftest.Encode(
			tifftest.Uniform(2, 2, 3, tiff.PhotometricRGB, 255),
			tifftest.Uniform(2, 2, 3, tiff.PhotometricRGB, 0),
		)
		img, err := r.Open(data)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if h := img.Header(); h != (Header{Width: 2, Height: 2, Format: RGB}) {
			t.Errorf("Header = %+v", h)
		}
		if ks := img.Keyframes(); len(ks) != 2 || ks[0] != 0 || ks[1] != 1 {
			t.Fatalf("Keyframes = %v", ks)
		}
		f, err := img.Render(1)
		if err != nil {
			t.Fatalf("Render(1): %v", err)
		}
		if f.Channels != 3 || f.Pix[0] != 0 {
			t.Errorf("frame 1: %d channels, first sample %v", f.Channels, f.Pix[0])
		}
	})

	t.Run("gray with alpha is unsupported", func(t *testing.T) {
		p := tifftest.Uniform(1, 1, 2, tiff.PhotometricBlackIsZero, 10)
		p.ExtraSamples = []uint16{2}
		img, err := r.Open(tifftest.Encode(p))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if f := img.Header().Format; f != Unsupported {
			t.Errorf("Format = %v, want unsupported", f)
		}
	})

	t.Run("page over pixel limit", func(t *testing.T) {
		small := NewRegistry(Limits{MaxPixels: 10})
		data := tifftest.Encode(
			tifftest.Uniform(2, 2, 1, tiff.PhotometricBlackIsZero, 1),
			tifftest.Uniform(4, 4, 1, tiff.PhotometricBlackIsZero, 1),
		)
		if _, err := small.Open(data); err == nil {
			t.Error("Open succeeded with an oversized second page")
		}
	})
}

func TestTransportUnwrap(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	raw := encodePNG(t, img)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zstdData := enc.EncodeAll(raw, nil)
	enc.Close()

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(raw)
	zw.Close()

	tests := []struct {
		name  string
		data  []byte
		sniff string
	}{
		{"zstd", zstdData, "zstd"},
		{"gzip", gz.Bytes(), "gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(Limits{})
			if got := r.Sniff(tt.data); got != tt.sniff {
				t.Errorf("Sniff = %q, want %q", got, tt.sniff)
			}
			h, _ := render(t, r, tt.data, 0)
			if h != (Header{Width: 4, Height: 4, Format: Gray}) {
				t.Errorf("Header = %+v", h)
			}

			tiny := NewRegistry(Limits{MaxUnwrappedBytes: 8})
			if _, err := tiny.Open(tt.data); err == nil {
				t.Error("Open succeeded past the unwrap limit")
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	r := NewRegistry(Limits{MaxPixels: 10})

	if _, err := r.Open([]byte("definitely not an image")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("unknown input: err = %v, want ErrUnknownFormat", err)
	}
	if _, err := r.Open(nil); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("nil input: err = %v, want ErrUnknownFormat", err)
	}

	big := encodePNG(t, image.NewGray(image.Rect(0, 0, 4, 4)))
	if _, err := r.Open(big); err == nil {
		t.Error("Open succeeded past the pixel limit")
	}

	truncated := encodePNG(t, image.NewGray(image.Rect(0, 0, 2, 2)))[:12]
	if _, err := r.Open(truncated); err == nil {
		t.Error("Open of truncated PNG succeeded")
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry(Limits{})
	called := false
	r.Register("test", hasPrefix("TEST"), DecoderFunc(func(data []byte) (Image, error) {
		called = true
		return nil, errors.New("boom")
	}))
	if got := r.Sniff([]byte("TESTDATA")); got != "test" {
		t.Errorf("Sniff = %q, want test", got)
	}
	if _, err := r.Open([]byte("TESTDATA")); err == nil || !called {
		t.Errorf("Open: err = %v, called = %v", err, called)
	}
}
