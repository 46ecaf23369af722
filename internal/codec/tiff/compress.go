package tiff

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// decompress expands one block. want is the decoded size the block layout
// calls for; decoders stop there so a corrupt stream cannot balloon.
func decompress(compression uint16, src []byte, want int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return src, nil
	case CompressionLZW:
		return decompressLZW(src, want)
	case CompressionDeflate, CompressionAdobeZIP:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, int64(want)))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return out, nil
	case CompressionPackBits:
		return unpackBits(src, want)
	default:
		return nil, fmt.Errorf("unsupported compression %d", compression)
	}
}

// unpackBits decodes Apple PackBits run-length data.
func unpackBits(src []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for i := 0; i < len(src) && len(out) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(src) {
				return nil, errors.New("packbits: literal run past end of data")
			}
			out = append(out, src[i:end]...)
			i = end
		case n != -128:
			if i >= len(src) {
				return nil, errors.New("packbits: missing repeat byte")
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, src[i])
			}
			i++
		}
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}

// TIFF LZW differs from the GIF flavour implemented by compress/lzw: the
// code width grows one code early ("deferred increment"), so compress/lzw
// rejects TIFF streams with "invalid code".
const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwTableSize = 1 << lzwMaxWidth
)

type lzwEntry struct {
	prefix int // -1 for single-byte entries
	suffix byte
	length int
}

type lzwReader struct {
	src    []byte
	bitPos int
}

// next reads an MSB-first code of width bits.
func (r *lzwReader) next(width int) (int, bool) {
	if r.bitPos+width > len(r.src)*8 {
		return 0, false
	}
	code := 0
	for i := 0; i < width; i++ {
		b := r.src[r.bitPos>>3] >> (7 - uint(r.bitPos&7)) & 1
		code = code<<1 | int(b)
		r.bitPos++
	}
	return code, true
}

func decompressLZW(src []byte, want int) ([]byte, error) {
	var table [lzwTableSize + 1]lzwEntry
	for i := 0; i < 256; i++ {
		table[i] = lzwEntry{prefix: -1, suffix: byte(i), length: 1}
	}

	r := &lzwReader{src: src}
	out := make([]byte, 0, want)
	scratch := make([]byte, lzwTableSize)

	expand := func(code int) []byte {
		n := table[code].length
		s := scratch[:n]
		for i := n - 1; code >= 0; i-- {
			s[i] = table[code].suffix
			code = table[code].prefix
		}
		return s
	}

	nextCode := lzwFirstCode
	width := 9
	prev := -1

	for len(out) < want {
		code, ok := r.next(width)
		if !ok || code == lzwEOICode {
			break
		}
		if code == lzwClearCode {
			nextCode = lzwFirstCode
			width = 9
			prev = -1
			continue
		}
		if prev == -1 {
			if code >= 256 {
				return nil, errors.New("lzw: first code after clear is not a literal")
			}
			out = append(out, byte(code))
			prev = code
			continue
		}

		var first byte
		switch {
		case code < nextCode:
			s := expand(code)
			first = s[0]
			out = append(out, s...)
		case code == nextCode:
			s := expand(prev)
			first = s[0]
			out = append(out, s...)
			out = append(out, first)
		default:
			return nil, fmt.Errorf("lzw: invalid code %d", code)
		}

		if nextCode <= lzwTableSize {
			table[nextCode] = lzwEntry{prefix: prev, suffix: first, length: table[prev].length + 1}
			nextCode++
		}
		if nextCode+1 >= 1<<width && width < lzwMaxWidth {
			width++
		}
		prev = code
	}

	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
