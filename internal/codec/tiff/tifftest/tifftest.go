// Package tifftest assembles small little-endian TIFF files for tests.
package tifftest

import (
	"encoding/binary"
	"slices"
)

// Page describes one IFD. Strips hold the already compressed strip payloads
// in order; RowsPerStrip defaults to Height.
type Page struct {
	Width, Height   int
	SamplesPerPixel int // default 1
	BitsPerSample   int // default 8
	SampleFormat    int // 0 omits the tag
	Photometric     int
	Compression     int // default 1
	Predictor       int // 0 omits the tag
	RowsPerStrip    int
	ExtraSamples    []uint16
	ColorMap        []uint16
	Strips          [][]byte

	// BadOffsets points every strip past the end of the file.
	BadOffsets bool
}

type entry struct {
	tag    uint16
	typ    uint16
	values []uint32
}

const (
	typShort = 3
	typLong  = 4
)

// Encode lays out the strip data of every page followed by the IFD chain.
func Encode(pages ...Page) []byte {
	le := binary.LittleEndian
	buf := []byte("II*\x00\x00\x00\x00\x00")

	offsets := make([][]uint32, len(pages))
	for i, p := range pages {
		for _, s := range p.Strips {
			offsets[i] = append(offsets[i], uint32(len(buf)))
			buf = append(buf, s...)
		}
	}

	nextPtr := 4
	for i, p := range pages {
		if len(buf)%2 == 1 {
			buf = append(buf, 0)
		}
		ifdOff := len(buf)
		le.PutUint32(buf[nextPtr:], uint32(ifdOff))

		offs := offsets[i]
		if p.BadOffsets {
			offs = make([]uint32, len(offsets[i]))
			for k := range offs {
				offs[k] = 0x7FFFFF00
			}
		}
		entries := p.entries(offs)
		n := len(entries)
		extraOff := ifdOff + 2 + n*12 + 4

		ifd := make([]byte, 2+n*12+4)
		le.PutUint16(ifd, uint16(n))
		var extra []byte
		for k, e := range entries {
			raw := e.bytes()
			rec := ifd[2+k*12:]
			le.PutUint16(rec[0:], e.tag)
			le.PutUint16(rec[2:], e.typ)
			le.PutUint32(rec[4:], uint32(len(e.values)))
			if len(raw) <= 4 {
				copy(rec[8:12], raw)
			} else {
				le.PutUint32(rec[8:], uint32(extraOff+len(extra)))
				extra = append(extra, raw...)
			}
		}
		buf = append(buf, ifd...)
		nextPtr = ifdOff + 2 + n*12
		buf = append(buf, extra...)
	}
	return buf
}

func (p Page) entries(offsets []uint32) []entry {
	spp := max(p.SamplesPerPixel, 1)
	bits := p.BitsPerSample
	if bits == 0 {
		bits = 8
	}
	compression := p.Compression
	if compression == 0 {
		compression = 1
	}
	rows := p.RowsPerStrip
	if rows == 0 {
		rows = p.Height
	}

	counts := make([]uint32, len(p.Strips))
	for i, s := range p.Strips {
		counts[i] = uint32(len(s))
	}

	es := []entry{
		{256, typLong, []uint32{uint32(p.Width)}},
		{257, typLong, []uint32{uint32(p.Height)}},
		{258, typShort, repeat(uint32(bits), spp)},
		{259, typShort, []uint32{uint32(compression)}},
		{262, typShort, []uint32{uint32(p.Photometric)}},
		{273, typLong, offsets},
		{277, typShort, []uint32{uint32(spp)}},
		{278, typLong, []uint32{uint32(rows)}},
		{279, typLong, counts},
		{284, typShort, []uint32{1}},
	}
	if p.Predictor != 0 {
		es = append(es, entry{317, typShort, []uint32{uint32(p.Predictor)}})
	}
	if len(p.ColorMap) > 0 {
		cm := make([]uint32, len(p.ColorMap))
		for i, v := range p.ColorMap {
			cm[i] = uint32(v)
		}
		es = append(es, entry{320, typShort, cm})
	}
	if len(p.ExtraSamples) > 0 {
		xs := make([]uint32, len(p.ExtraSamples))
		for i, v := range p.ExtraSamples {
			xs[i] = uint32(v)
		}
		es = append(es, entry{338, typShort, xs})
	}
	if p.SampleFormat != 0 {
		es = append(es, entry{339, typShort, repeat(uint32(p.SampleFormat), spp)})
	}
	slices.SortFunc(es, func(a, b entry) int { return int(a.tag) - int(b.tag) })
	return es
}

func (e entry) bytes() []byte {
	le := binary.LittleEndian
	var out []byte
	for _, v := range e.values {
		if e.typ == typShort {
			out = le.AppendUint16(out, uint16(v))
		} else {
			out = le.AppendUint32(out, v)
		}
	}
	return out
}

func repeat(v uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Uniform returns a single-strip 8-bit page where every sample is v.
func Uniform(width, height, spp, photometric int, v byte) Page {
	strip := make([]byte, width*height*spp)
	for i := range strip {
		strip[i] = v
	}
	return Page{
		Width:           width,
		Height:          height,
		SamplesPerPixel: spp,
		Photometric:     photometric,
		Strips:          [][]byte{strip},
	}
}
