package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pspoerri/rasterwasm/internal/pixel"
	"github.com/pspoerri/rasterwasm/internal/wasmhost"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		wasmPath    string
		sampleBytes int
		outputDir   string
		showVersion bool
		verbose     bool
	)

	flag.StringVar(&wasmPath, "wasm", "rasterwasm.wasm", "Path to the compiled decoder module")
	flag.IntVar(&sampleBytes, "sample-bytes", 1, "Output bytes per sample: 1 (uint8), 2 (uint16 LE), 4 (float32 LE)")
	flag.StringVar(&outputDir, "out", "", "Directory for raw output files (empty = only print geometry)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&verbose, "verbose", false, "Forward guest stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rasterhost [flags] <image...>\n\n")
		fmt.Fprintf(os.Stderr, "Decode images inside the WebAssembly build of the decoder.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("rasterhost %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	enc, err := pixel.ParseBytesPerSample(sampleBytes)
	if err != nil {
		log.Fatalf("Sample width: %v", err)
	}

	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		log.Fatalf("Reading module: %v", err)
	}

	ctx := context.Background()
	start := time.Now()
	var stderr io.Writer
	if verbose {
		stderr = os.Stderr
	}
	h, err := wasmhost.New(ctx, wasm, stderr)
	if err != nil {
		log.Fatalf("Loading module: %v", err)
	}
	defer h.Close(ctx)
	if verbose {
		log.Printf("Instantiated %s in %v", wasmPath, time.Since(start).Round(time.Millisecond))
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			log.Fatalf("Creating output directory: %v", err)
		}
	}

	failed := 0
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("%s: %v", path, err)
			failed++
			continue
		}
		res, err := h.Decode(ctx, data, enc)
		if err != nil {
			log.Printf("%s: %v", path, err)
			failed++
			continue
		}
		fmt.Printf("%s: %dx%d %v, %d frame(s), %d bytes\n",
			path, res.Width, res.Height, res.Format, res.Frames, len(res.Pix))

		if outputDir == "" {
			continue
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		out := filepath.Join(outputDir, fmt.Sprintf("%s.%dx%dx%d.%s.%s.raw",
			base, res.Width, res.Height, res.Frames, res.Format, enc))
		if err := os.WriteFile(out, res.Pix, 0o644); err != nil {
			log.Fatalf("Writing %s: %v", out, err)
		}
	}
	if failed > 0 {
		h.Close(ctx)
		os.Exit(2)
	}
}

