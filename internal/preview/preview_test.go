package preview

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/gen2brain/webp"

	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/pixel"
)

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		format  string
		wantFmt string
		wantExt string
		wantErr bool
	}{
		{"jpeg", "jpeg", ".jpg", false},
		{"jpg", "jpeg", ".jpg", false},
		{"png", "png", ".png", false},
		{"webp", "webp", ".webp", false},
		{"bmp", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := NewEncoder(tt.format, 85)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enc.Format() != tt.wantFmt {
				t.Errorf("Format() = %q, want %q", enc.Format(), tt.wantFmt)
			}
			if enc.FileExtension() != tt.wantExt {
				t.Errorf("FileExtension() = %q, want %q", enc.FileExtension(), tt.wantExt)
			}
		})
	}
}

func TestFromSamples_Gray(t *testing.T) {
	pix := []byte{0, 64, 128, 255, 10, 20}
	img, err := FromSamples(pix, 3, 2, codec.Gray, pixel.UInt8)
	if err != nil {
		t.Fatal(err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("got %T, want *image.Gray", img)
	}
	if !bytes.Equal(g.Pix, pix) {
		t.Errorf("Pix = %v, want %v", g.Pix, pix)
	}
}

func TestFromSamples_Encodings(t *testing.T) {
	// One RGB pixel encoded as four channels with synthesized alpha.
	u16 := binary.LittleEndian.AppendUint16(nil, 0xff00)
	u16 = binary.LittleEndian.AppendUint16(u16, 0x8000)
	u16 = binary.LittleEndian.AppendUint16(u16, 0)
	u16 = binary.LittleEndian.AppendUint16(u16, 0xffff)

	var f32 []byte
	for _, v := range []float32{1, 0.5, 0, 1} {
		f32 = binary.LittleEndian.AppendUint32(f32, math.Float32bits(v))
	}

	tests := []struct {
		name string
		pix  []byte
		enc  pixel.Encoding
		want []uint8
	}{
		{"uint16", u16, pixel.UInt16LE, []uint8{255, 128, 0, 255}},
		{"float32", f32, pixel.Float32LE, []uint8{255, 128, 0, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := FromSamples(tt.pix, 1, 1, codec.RGB, tt.enc)
			if err != nil {
				t.Fatal(err)
			}
			n := img.(*image.NRGBA)
			if !bytes.Equal(n.Pix, tt.want) {
				t.Errorf("Pix = %v, want %v", n.Pix, tt.want)
			}
		})
	}
}

func TestFromSamples_Errors(t *testing.T) {
	if _, err := FromSamples(make([]byte, 3), 2, 2, codec.Gray, pixel.UInt8); err == nil {
		t.Error("short buffer accepted")
	}
	if _, err := FromSamples(make([]byte, 16), 2, 2, codec.Unsupported, pixel.UInt8); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestEncoders_Decodable(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}

	tests := []struct {
		enc    Encoder
		decode func([]byte) (image.Image, error)
	}{
		{&PNGEncoder{}, func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) }},
		{&JPEGEncoder{}, func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) }},
		{&WebPEncoder{Quality: 100}, func(b []byte) (image.Image, error) { return webp.Decode(bytes.NewReader(b)) }},
	}
	for _, tt := range tests {
		t.Run(tt.enc.Format(), func(t *testing.T) {
			data, err := tt.enc.Encode(img)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := tt.decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Bounds() != img.Bounds() {
				t.Errorf("bounds = %v, want %v", out.Bounds(), img.Bounds())
			}
		})
	}
}
