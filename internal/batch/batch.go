// Package batch decodes many files to raw sample buffers with a pool of
// workers, each driving its own boundary instance exactly as a wasm host
// would.
package batch

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pspoerri/rasterwasm/internal/abi"
	"github.com/pspoerri/rasterwasm/internal/arena"
	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/pixel"
	"github.com/pspoerri/rasterwasm/internal/preview"
)

// Config configures a batch run.
type Config struct {
	OutputDir   string
	Encoding    pixel.Encoding
	Concurrency int
	Verbose     bool

	// Module is the template for every worker's boundary instance.
	Module abi.Config

	// Progress receives the progress bar. Nil disables it.
	Progress io.Writer

	// Preview, if set, also writes the first frame of every input as an
	// image next to the raw output.
	Preview preview.Encoder
}

// Stats summarizes a run.
type Stats struct {
	Files       int64
	Decoded     int64
	Failed      int64
	Frames      int64
	OutputBytes int64
}

// Image is one decoded input.
type Image struct {
	Width  int
	Height int
	Frames int
	Format codec.PixelFormat
	Pix    []byte
}

// extensions are the inputs CollectInputs picks up from directories.
var extensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff",
	".zst", ".gz",
}

// CollectInputs resolves files and directories to a list of input files.
// Directories are not searched recursively.
func CollectInputs(paths []string) ([]string, error) {
	var result []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			result = append(result, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("readdir %s: %w", p, err)
		}
		for _, e := range entries {
			if !e.IsDir() && isImage(e.Name()) {
				result = append(result, filepath.Join(p, e.Name()))
			}
		}
	}
	return result, nil
}

func isImage(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// OutputPath names the raw file written for input.
func OutputPath(dir, input string, img *Image, enc pixel.Encoding) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := fmt.Sprintf("%s.%dx%dx%d.%s.%s.raw", base, img.Width, img.Height, img.Frames, img.Format, enc)
	return filepath.Join(dir, name)
}

// Run decodes every file and writes one raw buffer per input into
// cfg.OutputDir. Decode failures are logged and counted; the first write
// failure stops the run, leaving the remaining files untouched.
func Run(cfg Config, files []string) (Stats, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return Stats{}, fmt.Errorf("creating output directory: %w", err)
	}

	var decoded, failed, frames, outBytes atomic.Int64
	var stop atomic.Bool
	var pb *progressBar
	if cfg.Progress != nil {
		pb = newProgressBar(cfg.Progress, int64(len(files)))
	}

	jobs := make(chan string, cfg.Concurrency*2)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := abi.New(cfg.Module)
			for path := range jobs {
				if stop.Load() {
					continue
				}
				n, err := decodeFile(m, cfg, path, &frames)
				if pb != nil {
					pb.Add(n)
				}
				var werr *writeError
				switch {
				case errors.As(err, &werr):
					failed.Add(1)
					stop.Store(true)
					select {
					case errCh <- err:
					default:
					}
				case err != nil:
					failed.Add(1)
					log.Printf("%s: %v", path, err)
				default:
					decoded.Add(1)
					outBytes.Add(n)
				}
			}
			if st := m.Arena().Stats(); st.Live != 0 || st.Refused != 0 {
				log.Printf("worker arena not clean: %d live buffers, %d refused releases", st.Live, st.Refused)
			}
		}()
	}

	for _, f := range files {
		if stop.Load() {
			break
		}
		jobs <- f
	}
	close(jobs)
	wg.Wait()
	if pb != nil {
		pb.Finish()
	}

	stats := Stats{
		Files:       int64(len(files)),
		Decoded:     decoded.Load(),
		Failed:      failed.Load(),
		Frames:      frames.Load(),
		OutputBytes: outBytes.Load(),
	}
	select {
	case err := <-errCh:
		return stats, err
	default:
	}
	return stats, nil
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func decodeFile(m *abi.Module, cfg Config, path string, frames *atomic.Int64) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	img, err := DecodeBytes(m, data, cfg.Encoding)
	if err != nil {
		return 0, err
	}
	out := OutputPath(cfg.OutputDir, path, img, cfg.Encoding)
	if err := os.WriteFile(out, img.Pix, 0o644); err != nil {
		return 0, &writeError{fmt.Errorf("writing %s: %w", out, err)}
	}
	if cfg.Preview != nil {
		if err := writePreview(cfg.Preview, out, img, cfg.Encoding); err != nil {
			return 0, err
		}
	}
	if cfg.Verbose {
		log.Printf("%s: %dx%d %v, %d frame(s) → %s", path, img.Width, img.Height, img.Format, img.Frames, out)
	}
	frames.Add(int64(img.Frames))
	return int64(len(img.Pix)), nil
}

func writePreview(enc preview.Encoder, rawPath string, img *Image, samples pixel.Encoding) error {
	pv, err := preview.FromSamples(img.Pix, img.Width, img.Height, img.Format, samples)
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	data, err := enc.Encode(pv)
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	out := strings.TrimSuffix(rawPath, ".raw") + enc.FileExtension()
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return &writeError{fmt.Errorf("writing %s: %w", out, err)}
	}
	return nil
}

// DecodeBytes runs the boundary protocol for one input: copy it into an
// arena buffer, query format and geometry, decode, copy the result out and
// release both buffers. Arena exhaustion is returned as *arena.Exhausted.
func DecodeBytes(m *abi.Module, data []byte, enc pixel.Encoding) (img *Image, err error) {
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}
	defer func() {
		if r := recover(); r != nil {
			ex, ok := r.(*arena.Exhausted)
			if !ok {
				panic(r)
			}
			img, err = nil, ex
		}
	}()
	inSize := uint32(len(data))
	in := m.Allocate(inSize)
	defer m.Release(in, inSize)
	buf, err := m.Arena().Bytes(in)
	if err != nil {
		return nil, err
	}
	copy(buf, data)

	s := m.OpenSession(in, inSize)
	if s == 0 {
		return nil, fmt.Errorf("open_session: %v", m.LastError())
	}
	format := codec.PixelFormat(m.SessionFormat(s))
	m.CloseSession(s)

	img = &Image{Format: format}
	queries := []struct {
		name string
		fn   func(arena.Handle, uint32, uint32) int32
		dst  *int
	}{
		{"width", m.Width, &img.Width},
		{"height", m.Height, &img.Height},
		{"frame_count", m.FrameCount, &img.Frames},
	}
	for _, q := range queries {
		v := q.fn(in, inSize, 1)
		if v < 0 {
			return nil, fmt.Errorf("%s: %d (%v)", q.name, v, m.LastError())
		}
		*q.dst = int(v)
	}

	frameSize, err := pixel.FrameSize(img.Width, img.Height, format, enc)
	if err != nil {
		return nil, err
	}
	outSize := uint32(frameSize * img.Frames)
	out := m.DecodeWithSampleSize(in, inSize, outSize, uint32(enc.BytesPerSample()))
	if out == 0 {
		return nil, fmt.Errorf("decode_with_sample_size: %v", m.LastError())
	}
	defer m.Release(out, outSize)

	pix, err := m.Arena().Bytes(out)
	if err != nil {
		return nil, err
	}
	img.Pix = append([]byte(nil), pix...)
	return img, nil
}
