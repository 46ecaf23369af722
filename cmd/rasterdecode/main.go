package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/pspoerri/rasterwasm/internal/abi"
	"github.com/pspoerri/rasterwasm/internal/arena"
	"github.com/pspoerri/rasterwasm/internal/batch"
	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/pixel"
	"github.com/pspoerri/rasterwasm/internal/preview"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		sampleBytes int
		concurrency int
		verbose     bool
		showVersion bool
		noProgress  bool
		cpuProfile  string
		memLimitMB  int
		maxPixels   int64
		outputDir   string
		previewFmt  string
		quality     int
	)

	flag.IntVar(&sampleBytes, "sample-bytes", 1, "Output bytes per sample: 1 (uint8), 2 (uint16 LE), 4 (float32 LE)")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of parallel workers")
	flag.BoolVar(&verbose, "verbose", false, "Log every decoded file and failed boundary call")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.IntVar(&memLimitMB, "mem-limit", 0, "Arena budget per worker in MB (0 = auto ~50% of RAM shared by all workers)")
	flag.Int64Var(&maxPixels, "max-pixels", codec.DefaultMaxPixels, "Largest accepted width*height per frame")
	flag.StringVar(&outputDir, "out", ".", "Directory for raw output files")
	flag.StringVar(&previewFmt, "preview", "", "Also write the first frame as an image: png, jpeg, webp")
	flag.IntVar(&quality, "quality", 85, "JPEG/WebP preview quality 1-100 (100 = lossless WebP)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rasterdecode [flags] <input-dir-or-files...>\n\n")
		fmt.Fprintf(os.Stderr, "Decode images to raw interleaved sample buffers through the module boundary.\n")
		fmt.Fprintf(os.Stderr, "Each input yields <name>.<W>x<H>x<frames>.<format>.<encoding>.raw.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("rasterdecode %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatalf("Creating CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Starting CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	if concurrency < 1 {
		log.Fatal("Concurrency must be at least 1")
	}

	enc, err := pixel.ParseBytesPerSample(sampleBytes)
	if err != nil {
		log.Fatalf("Sample width: %v", err)
	}

	var pv preview.Encoder
	if previewFmt != "" {
		if pv, err = preview.NewEncoder(previewFmt, quality); err != nil {
			log.Fatalf("Preview: %v", err)
		}
	}

	files, err := batch.CollectInputs(flag.Args())
	if err != nil {
		log.Fatalf("Collecting input files: %v", err)
	}
	if len(files) == 0 {
		log.Fatal("No image files found in the specified inputs")
	}

	var logger *log.Logger
	if verbose {
		logger = log.New(os.Stderr, "boundary: ", log.LstdFlags)
	}

	var arenaLimit int64
	if memLimitMB > 0 {
		arenaLimit = int64(memLimitMB) * 1024 * 1024
	} else if total := arena.DefaultLimit(arena.DefaultMemoryFraction, logger); total > 0 {
		arenaLimit = total / int64(concurrency)
	}

	fmt.Printf("rasterdecode %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %s\n", "Encoding:", enc)
	fmt.Printf("  %-14s %d\n", "Concurrency:", concurrency)
	if arenaLimit > 0 {
		fmt.Printf("  %-14s %s per worker\n", "Arena:", humanSize(arenaLimit))
	} else {
		fmt.Printf("  %-14s unlimited\n", "Arena:")
	}
	if pv != nil {
		fmt.Printf("  %-14s %s\n", "Preview:", pv.Format())
	}
	fmt.Printf("  %-14s %d file(s)\n", "Input:", len(files))
	fmt.Printf("  %-14s %s\n", "Output:", outputDir)

	var progress io.Writer
	if !noProgress && !verbose {
		progress = os.Stderr
	}

	start := time.Now()
	stats, err := batch.Run(batch.Config{
		OutputDir:   outputDir,
		Encoding:    enc,
		Concurrency: concurrency,
		Verbose:     verbose,
		Progress:    progress,
		Preview:     pv,
		Module: abi.Config{
			ArenaLimit: arenaLimit,
			Limits:     codec.Limits{MaxPixels: maxPixels},
			Logger:     logger,
		},
	}, files)
	if err != nil {
		log.Fatalf("Decoding: %v", err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fmt.Printf("Done: %d decoded, %d failed, %d frame(s), %s, %v → %s\n",
		stats.Decoded, stats.Failed, stats.Frames, humanSize(stats.OutputBytes), elapsed, outputDir)
	if stats.Failed > 0 {
		os.Exit(2)
	}
}

func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
