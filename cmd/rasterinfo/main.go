package main

import (
	"fmt"
	"os"

	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/codec/tiff"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: rasterinfo <image>\n")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reg := codec.NewRegistry(codec.Limits{})
	fmt.Printf("File: %s (%d bytes)\n", os.Args[1], len(data))
	fmt.Printf("Container: %s\n", orNone(reg.Sniff(data)))

	img, err := reg.Open(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	h := img.Header()
	fmt.Printf("Size: %d x %d\n", h.Width, h.Height)
	fmt.Printf("Pixel format: %v (%d channels)\n", h.Format, h.Format.Channels())

	keyframes := img.Keyframes()
	fmt.Printf("Keyframes: %d\n", len(keyframes))

	if tiff.Signature(data) {
		printTIFFPages(data)
	}

	for _, k := range keyframes {
		f, err := img.Render(k)
		if err != nil {
			fmt.Printf("\n  Render(%d): ERROR: %v\n", k, err)
			continue
		}
		fmt.Printf("\n  Render(%d): OK, %dx%d, %d channel(s)\n", k, f.Width, f.Height, f.Channels)
		if k == keyframes[0] {
			samplePixels(f, 5)
		}
	}
}

func printTIFFPages(data []byte) {
	f, err := tiff.Parse(data)
	if err != nil {
		fmt.Printf("TIFF: ERROR: %v\n", err)
		return
	}
	for i := 0; i < f.NumPages(); i++ {
		p := f.Page(i)
		layout := "strips"
		if p.Tiled() {
			layout = fmt.Sprintf("tiles %dx%d", p.TileWidth, p.TileHeight)
		}
		fmt.Printf("  Page %d: %dx%d, %s, bits %v, photometric %d, compression %d, alpha sample %d\n",
			i, p.Width, p.Height, layout, p.BitsPerSample, p.Photometric, p.Compression, p.AlphaSample())
	}
}

func samplePixels(f *codec.Frame, count int) {
	step := f.Width / (count + 1)
	if step < 1 {
		step = 1
	}
	fmt.Printf("  Sample pixels (diagonal):\n")
	for i := 0; i < count; i++ {
		x := (i + 1) * step
		y := (i + 1) * step
		if x >= f.Width || y >= f.Height {
			break
		}
		off := (y*f.Width + x) * f.Channels
		fmt.Printf("    (%d,%d): %.4f\n", x, y, f.Pix[off:off+f.Channels])
	}
}

func orNone(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
