package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Default limits applied by NewRegistry when a field is zero.
const (
	DefaultMaxPixels         = 1 << 28
	DefaultMaxUnwrappedBytes = 1 << 30
)

// ErrUnknownFormat is returned when no registered container matches.
var ErrUnknownFormat = errors.New("codec: unknown container format")

// Limits bounds the resources a single Open may commit to.
type Limits struct {
	// MaxPixels caps Width*Height of the header and of every TIFF page.
	MaxPixels int64
	// MaxUnwrappedBytes caps the output of a zstd or gzip transport frame.
	MaxUnwrappedBytes int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	if l.MaxUnwrappedBytes <= 0 {
		l.MaxUnwrappedBytes = DefaultMaxUnwrappedBytes
	}
	return l
}

func (l Limits) checkPixels(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if int64(width)*int64(height) > l.MaxPixels {
		return fmt.Errorf("%dx%d exceeds the %d pixel limit", width, height, l.MaxPixels)
	}
	return nil
}

type container struct {
	name  string
	match func([]byte) bool
	dec   Decoder
}

// Registry sniffs container bytes and dispatches to the matching decoder.
// It is safe for concurrent use once registration is finished.
type Registry struct {
	limits     Limits
	containers []container
	zstdPool   sync.Pool
}

// NewRegistry returns a registry with every built-in container registered.
func NewRegistry(limits Limits) *Registry {
	r := &Registry{limits: limits.withDefaults()}
	r.zstdPool.New = func() any {
		dec, err := zstd.NewReader(
			nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
			zstd.WithDecoderMaxMemory(uint64(r.limits.MaxUnwrappedBytes)),
		)
		if err != nil {
			panic(err)
		}
		return dec
	}

	r.Register("png", hasPrefix("\x89PNG\r\n\x1a\n"), DecoderFunc(r.openPNG))
	r.Register("jpeg", hasPrefix("\xff\xd8\xff"), DecoderFunc(r.openJPEG))
	r.Register("gif", isGIF, DecoderFunc(r.openGIF))
	r.Register("webp", isWebP, DecoderFunc(r.openWebP))
	r.Register("bmp", hasPrefix("BM"), DecoderFunc(r.openBMP))
	r.Register("tiff", isTIFF, DecoderFunc(r.openTIFF))
	return r
}

// Limits returns the effective limits.
func (r *Registry) Limits() Limits {
	return r.limits
}

// Register adds a container. Containers are tried in registration order.
func (r *Registry) Register(name string, match func([]byte) bool, dec Decoder) {
	r.containers = append(r.containers, container{name: name, match: match, dec: dec})
}

// Sniff names the container format of data after transport unwrapping is
// taken into account, or returns "" if nothing matches. Wrapped inputs are
// reported as "zstd" or "gzip".
func (r *Registry) Sniff(data []byte) string {
	if t := transportOf(data); t != "" {
		return t
	}
	if c := r.lookup(data); c != nil {
		return c.name
	}
	return ""
}

// Open implements Decoder. A zstd or gzip transport frame is unwrapped once
// before the container is sniffed.
func (r *Registry) Open(data []byte) (Image, error) {
	if t := transportOf(data); t != "" {
		unwrapped, err := r.unwrap(t, data)
		if err != nil {
			return nil, fmt.Errorf("unwrapping %s: %w", t, err)
		}
		data = unwrapped
	}

	c := r.lookup(data)
	if c == nil {
		return nil, ErrUnknownFormat
	}
	img, err := c.dec.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	h := img.Header()
	if err := r.limits.checkPixels(h.Width, h.Height); err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return img, nil
}

func (r *Registry) lookup(data []byte) *container {
	for i := range r.containers {
		if r.containers[i].match(data) {
			return &r.containers[i]
		}
	}
	return nil
}

func transportOf(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return "zstd"
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		return "gzip"
	}
	return ""
}

func (r *Registry) unwrap(transport string, data []byte) ([]byte, error) {
	if transport == "zstd" {
		dec := r.zstdPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(data, nil)
		r.zstdPool.Put(dec)
		if err != nil {
			return nil, err
		}
		if int64(len(out)) > r.limits.MaxUnwrappedBytes {
			return nil, fmt.Errorf("output exceeds %d bytes", r.limits.MaxUnwrappedBytes)
		}
		return out, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, r.limits.MaxUnwrappedBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > r.limits.MaxUnwrappedBytes {
		return nil, fmt.Errorf("output exceeds %d bytes", r.limits.MaxUnwrappedBytes)
	}
	return out, nil
}

func hasPrefix(magic string) func([]byte) bool {
	return func(data []byte) bool {
		return bytes.HasPrefix(data, []byte(magic))
	}
}

func isGIF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}
