package batch

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pspoerri/rasterwasm/internal/abi"
	"github.com/pspoerri/rasterwasm/internal/arena"
	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/pixel"
	"github.com/pspoerri/rasterwasm/internal/preview"
)

func grayPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func rgbPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeBytes(t *testing.T) {
	m := abi.New(abi.Config{})

	img, err := DecodeBytes(m, grayPNG(t, 4, 3), pixel.UInt8)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if img.Width != 4 || img.Height != 3 || img.Frames != 1 || img.Format != codec.Gray {
		t.Errorf("got %dx%d, %d frames, %v", img.Width, img.Height, img.Frames, img.Format)
	}
	for i, b := range img.Pix {
		if b != byte(i) {
			t.Fatalf("Pix[%d] = %d, want %d", i, b, i)
		}
	}

	img, err = DecodeBytes(m, rgbPNG(t, 2, 2), pixel.UInt16LE)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if img.Format != codec.RGB || len(img.Pix) != 2*2*4*2 {
		t.Errorf("got %v with %d bytes", img.Format, len(img.Pix))
	}

	if st := m.Arena().Stats(); st.Live != 0 || st.Refused != 0 {
		t.Errorf("arena not clean: %+v", st)
	}
}

func TestDecodeBytes_Errors(t *testing.T) {
	m := abi.New(abi.Config{})
	if _, err := DecodeBytes(m, nil, pixel.UInt8); err == nil {
		t.Error("empty input accepted")
	}
	if _, err := DecodeBytes(m, []byte("definitely not an image"), pixel.UInt8); err == nil {
		t.Error("garbage accepted")
	}
	if st := m.Arena().Stats(); st.Live != 0 {
		t.Errorf("%d buffers leaked", st.Live)
	}

	small := abi.New(abi.Config{ArenaLimit: 16})
	_, err := DecodeBytes(small, grayPNG(t, 8, 8), pixel.UInt8)
	var ex *arena.Exhausted
	if !errors.As(err, &ex) {
		t.Errorf("err = %v, want *arena.Exhausted", err)
	}
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.JPG", "c.tif.zst", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}
	explicit := filepath.Join(dir, "notes.txt")

	got, err := CollectInputs([]string{dir, explicit})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.JPG"),
		filepath.Join(dir, "c.tif.zst"),
		explicit,
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("CollectInputs = %v, want %v", got, want)
	}

	if _, err := CollectInputs([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("missing path accepted")
	}
}

func TestOutputPath(t *testing.T) {
	img := &Image{Width: 4, Height: 3, Frames: 2, Format: codec.RGBA}
	got := OutputPath("out", "/data/anim.gif", img, pixel.Float32LE)
	want := filepath.Join("out", "anim.4x3x2.rgba.float32le.raw")
	if got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
}

func TestRun(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "raw")
	files := []string{
		filepath.Join(in, "one.png"),
		filepath.Join(in, "two.png"),
		filepath.Join(in, "bad.png"),
	}
	if err := os.WriteFile(files[0], grayPNG(t, 4, 3), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(files[1], rgbPNG(t, 2, 2), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(files[2], []byte("broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	var progress bytes.Buffer
	stats, err := Run(Config{
		OutputDir:   out,
		Encoding:    pixel.UInt8,
		Concurrency: 2,
		Progress:    &progress,
		Preview:     &preview.PNGEncoder{},
	}, files)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Stats{Files: 3, Decoded: 2, Failed: 1, Frames: 2, OutputBytes: 12 + 16}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
	if !strings.Contains(progress.String(), "3/3 files") {
		t.Errorf("progress output %q lacks final count", progress.String())
	}

	raw, err := os.ReadFile(filepath.Join(out, "one.4x3x1.gray.uint8.raw"))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 12 {
		t.Errorf("one.raw has %d bytes, want 12", len(raw))
	}

	f, err := os.Open(filepath.Join(out, "two.2x2x1.rgb.uint8.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	pv, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding preview: %v", err)
	}
	if r, g, b, _ := pv.At(1, 1).RGBA(); r>>8 != 200 || g>>8 != 100 || b>>8 != 50 {
		t.Errorf("preview pixel = %d,%d,%d, want 200,100,50", r>>8, g>>8, b>>8)
	}
}

func TestRun_StopsOnWriteError(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	var files []string
	for _, name := range []string{"one.png", "two.png", "three.png"} {
		p := filepath.Join(in, name)
		if err := os.WriteFile(p, grayPNG(t, 4, 3), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, p)
	}
	// A directory where the first raw file should go makes its write fail.
	if err := os.Mkdir(filepath.Join(out, "one.4x3x1.gray.uint8.raw"), 0o755); err != nil {
		t.Fatal(err)
	}

	stats, err := Run(Config{OutputDir: out, Encoding: pixel.UInt8, Concurrency: 1}, files)
	if err == nil {
		t.Fatal("Run succeeded despite a write failure")
	}
	if stats.Failed != 1 || stats.Decoded != 0 {
		t.Errorf("Stats = %+v, want 1 failed and nothing decoded after it", stats)
	}
	for _, name := range []string{"two.4x3x1.gray.uint8.raw", "three.4x3x1.gray.uint8.raw"} {
		if _, err := os.Stat(filepath.Join(out, name)); err == nil {
			t.Errorf("%s written after the run was stopped", name)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{83*time.Second + 400*time.Millisecond, "1m23s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 << 20, "3.0 MB"},
		{5 << 30, "5.0 GB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.n); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
