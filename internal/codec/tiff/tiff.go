// Package tiff parses baseline and BigTIFF files held in memory and decodes
// each page (IFD) into a normalized float raster.
//
// Every IFD is treated as an independent page. Supported layouts are strips
// and tiles in chunky or planar order; compressions none, LZW, Deflate,
// PackBits and JPEG; 8/16-bit unsigned and 32-bit float samples.
package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPages bounds the IFD chain so that cyclic or hostile files terminate.
const MaxPages = 4096

// ErrFormat is wrapped by every structural parse error.
var ErrFormat = errors.New("tiff: invalid format")

// Signature reports whether data starts with a TIFF or BigTIFF header.
func Signature(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	switch string(data[:4]) {
	case "II*\x00", "MM\x00*", "II+\x00", "MM\x00+":
		return true
	}
	return false
}

// File is a parsed TIFF held in memory. It is not safe for concurrent use.
type File struct {
	data []byte
	bo   binary.ByteOrder
	big  bool
	ifds []IFD
}

// Parse reads the header and every IFD of data. Pixel data is not touched;
// block offsets are only bounds-checked when a page is decoded.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d byte header", ErrFormat, len(data))
	}

	var bo binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: byte order %x", ErrFormat, data[0:2])
	}

	f := &File{data: data, bo: bo}

	var offset uint64
	switch magic := bo.Uint16(data[2:4]); magic {
	case 42:
		offset = uint64(bo.Uint32(data[4:8]))
	case 43:
		// BigTIFF: bytes 4-5 = offset size (8), 6-7 = 0, 8-15 = first IFD.
		if len(data) < 16 || bo.Uint16(data[4:6]) != 8 {
			return nil, fmt.Errorf("%w: BigTIFF header", ErrFormat)
		}
		f.big = true
		offset = bo.Uint64(data[8:16])
	default:
		return nil, fmt.Errorf("%w: magic %d", ErrFormat, magic)
	}

	seen := make(map[uint64]bool)
	for offset != 0 {
		if seen[offset] {
			return nil, fmt.Errorf("%w: IFD loop at offset %d", ErrFormat, offset)
		}
		if len(f.ifds) == MaxPages {
			return nil, fmt.Errorf("%w: more than %d IFDs", ErrFormat, MaxPages)
		}
		seen[offset] = true

		ifd, next, err := f.parseIFD(offset)
		if err != nil {
			return nil, fmt.Errorf("%w: IFD %d at offset %d: %v", ErrFormat, len(f.ifds), offset, err)
		}
		f.ifds = append(f.ifds, ifd)
		offset = next
	}

	if len(f.ifds) == 0 {
		return nil, fmt.Errorf("%w: no IFDs", ErrFormat)
	}
	return f, nil
}

// NumPages returns the number of IFDs.
func (f *File) NumPages() int {
	return len(f.ifds)
}

// Page returns the directory of page i.
func (f *File) Page(i int) *IFD {
	return &f.ifds[i]
}

// slice returns data[off:off+n] or an error if the range is out of bounds.
func (f *File) slice(off, n uint64) ([]byte, error) {
	size := uint64(len(f.data))
	if off > size || n > size-off {
		return nil, fmt.Errorf("range [%d:+%d] exceeds file size %d", off, n, size)
	}
	return f.data[off : off+n], nil
}

func (f *File) parseIFD(offset uint64) (IFD, uint64, error) {
	countSize, entrySize, offSize := uint64(2), uint64(12), uint64(4)
	if f.big {
		countSize, entrySize, offSize = 8, 20, 8
	}

	raw, err := f.slice(offset, countSize)
	if err != nil {
		return IFD{}, 0, err
	}
	var numEntries uint64
	if f.big {
		numEntries = f.bo.Uint64(raw)
	} else {
		numEntries = uint64(f.bo.Uint16(raw))
	}

	if numEntries > uint64(len(f.data))/entrySize {
		return IFD{}, 0, fmt.Errorf("%d entries exceed file size", numEntries)
	}
	table, err := f.slice(offset+countSize, numEntries*entrySize+offSize)
	if err != nil {
		return IFD{}, 0, err
	}

	entries := make([]tiffEntry, numEntries)
	for i := range entries {
		e, err := f.parseEntry(table[uint64(i)*entrySize:])
		if err != nil {
			return IFD{}, 0, err
		}
		entries[i] = e
	}

	var next uint64
	tail := table[numEntries*entrySize:]
	if f.big {
		next = f.bo.Uint64(tail)
	} else {
		next = uint64(f.bo.Uint32(tail))
	}

	ifd := buildIFD(entries, f.bo)
	if err := ifd.validate(); err != nil {
		return IFD{}, 0, err
	}
	return ifd, next, nil
}

// parseEntry decodes one directory entry, resolving values that are stored
// out of line.
func (f *File) parseEntry(buf []byte) (tiffEntry, error) {
	e := tiffEntry{
		Tag:      f.bo.Uint16(buf[0:2]),
		DataType: f.bo.Uint16(buf[2:4]),
	}

	var inline []byte
	if f.big {
		e.Count = f.bo.Uint64(buf[4:12])
		inline = buf[12:20]
	} else {
		e.Count = uint64(f.bo.Uint32(buf[4:8]))
		inline = buf[8:12]
	}

	size := uint64(dataTypeSize(e.DataType))
	if e.Count > uint64(len(f.data))/size {
		return tiffEntry{}, fmt.Errorf("tag %d: count %d exceeds file size", e.Tag, e.Count)
	}
	total := e.Count * size

	if total <= uint64(len(inline)) {
		e.Value = append([]byte(nil), inline...)
		return e, nil
	}

	var dataOffset uint64
	if f.big {
		dataOffset = f.bo.Uint64(inline)
	} else {
		dataOffset = uint64(f.bo.Uint32(inline))
	}
	value, err := f.slice(dataOffset, total)
	if err != nil {
		return tiffEntry{}, fmt.Errorf("tag %d: %w", e.Tag, err)
	}
	e.Value = value
	return e, nil
}
