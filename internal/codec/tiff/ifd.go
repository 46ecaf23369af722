package tiff

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TIFF tag IDs.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagColorMap        = 320
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagExtraSamples    = 338
	tagSampleFormat    = 339
	tagJPEGTables      = 347
)

// TIFF data types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndef     = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

// Compression schemes.
const (
	CompressionNone     = 1
	CompressionLZW      = 5
	CompressionJPEG     = 7
	CompressionDeflate  = 8
	CompressionPackBits = 32773
	CompressionAdobeZIP = 32946
)

// Photometric interpretations.
const (
	PhotometricWhiteIsZero = 0
	PhotometricBlackIsZero = 1
	PhotometricRGB         = 2
	PhotometricPalette     = 3
	PhotometricYCbCr       = 6
)

// Sample formats.
const (
	SampleFormatUint  = 1
	SampleFormatFloat = 3
)

// Extra sample kinds.
const (
	extraAssociatedAlpha   = 1
	extraUnassociatedAlpha = 2
)

// IFD is one parsed Image File Directory: one page of the file.
type IFD struct {
	Width           uint32
	Height          uint32
	TileWidth       uint32
	TileHeight      uint32
	RowsPerStrip    uint32
	BitsPerSample   []uint16
	SamplesPerPixel uint16
	Compression     uint16
	Photometric     uint16
	PlanarConfig    uint16
	Predictor       uint16
	SampleFormat    uint16
	ExtraSamples    []uint16
	Offsets         []uint64 // strip or tile offsets
	ByteCounts      []uint64
	ColorMap        []uint16
	JPEGTables      []byte
}

// Tiled reports whether the page is stored as tiles rather than strips.
func (ifd *IFD) Tiled() bool {
	return ifd.TileWidth > 0 && ifd.TileHeight > 0
}

// ColorChannels is the number of colour channels the page renders to
// (palette pages expand to RGB).
func (ifd *IFD) ColorChannels() int {
	switch ifd.Photometric {
	case PhotometricWhiteIsZero, PhotometricBlackIsZero:
		return 1
	case PhotometricRGB, PhotometricPalette, PhotometricYCbCr:
		return 3
	default:
		return 0
	}
}

// storedColorSamples is the number of samples per pixel that carry colour in
// the stored data.
func (ifd *IFD) storedColorSamples() int {
	if ifd.Photometric == PhotometricPalette {
		return 1
	}
	return ifd.ColorChannels()
}

// AlphaSample returns the index of the alpha sample, or -1.
func (ifd *IFD) AlphaSample() int {
	base := ifd.storedColorSamples()
	for i, kind := range ifd.ExtraSamples {
		if kind == extraAssociatedAlpha || kind == extraUnassociatedAlpha {
			if idx := base + i; idx < int(ifd.SamplesPerPixel) {
				return idx
			}
		}
	}
	return -1
}

// HasAlpha reports whether the page carries an alpha sample.
func (ifd *IFD) HasAlpha() bool {
	return ifd.AlphaSample() >= 0
}

// bitsPerSample returns the common sample depth. Mixed depths are rejected by
// validate.
func (ifd *IFD) bitsPerSample() int {
	if len(ifd.BitsPerSample) == 0 {
		return 1
	}
	return int(ifd.BitsPerSample[0])
}

// blockGeometry returns the block size and the number of blocks across and
// down one plane.
func (ifd *IFD) blockGeometry() (bw, bh, across, down int) {
	w, h := int(ifd.Width), int(ifd.Height)
	if ifd.Tiled() {
		bw, bh = int(ifd.TileWidth), int(ifd.TileHeight)
	} else {
		bw = w
		bh = int(ifd.RowsPerStrip)
		if bh <= 0 || bh > h {
			bh = h
		}
	}
	across = (w + bw - 1) / bw
	down = (h + bh - 1) / bh
	return
}

func (ifd *IFD) validate() error {
	if ifd.Width == 0 || ifd.Height == 0 {
		return fmt.Errorf("invalid dimensions %dx%d", ifd.Width, ifd.Height)
	}
	if ifd.SamplesPerPixel == 0 {
		return fmt.Errorf("zero samples per pixel")
	}
	for _, b := range ifd.BitsPerSample[1:] {
		if b != ifd.BitsPerSample[0] {
			return fmt.Errorf("mixed bits per sample %v", ifd.BitsPerSample)
		}
	}
	if ifd.storedColorSamples() == 0 {
		return fmt.Errorf("unsupported photometric interpretation %d", ifd.Photometric)
	}
	if int(ifd.SamplesPerPixel) < ifd.storedColorSamples() {
		return fmt.Errorf("%d samples per pixel for photometric %d", ifd.SamplesPerPixel, ifd.Photometric)
	}
	if ifd.PlanarConfig != 1 && ifd.PlanarConfig != 2 {
		return fmt.Errorf("invalid planar configuration %d", ifd.PlanarConfig)
	}
	if ifd.Tiled() != (ifd.TileWidth > 0 || ifd.TileHeight > 0) {
		return fmt.Errorf("incomplete tile size %dx%d", ifd.TileWidth, ifd.TileHeight)
	}
	_, _, across, down := ifd.blockGeometry()
	planes := 1
	if ifd.PlanarConfig == 2 {
		planes = int(ifd.SamplesPerPixel)
	}
	if want := across * down * planes; len(ifd.Offsets) < want || len(ifd.ByteCounts) < want {
		return fmt.Errorf("%d/%d block offsets/counts, want %d", len(ifd.Offsets), len(ifd.ByteCounts), want)
	}
	return nil
}

// tiffEntry is a raw directory entry whose value has been resolved.
type tiffEntry struct {
	Tag      uint16
	DataType uint16
	Count    uint64
	Value    []byte
}

func dataTypeSize(dt uint16) int {
	switch dt {
	case dtByte, dtASCII, dtSByte, dtUndef:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	default:
		return 1
	}
}

func buildIFD(entries []tiffEntry, bo binary.ByteOrder) IFD {
	ifd := IFD{
		SamplesPerPixel: 1,
		PlanarConfig:    1,
		Compression:     CompressionNone,
		Photometric:     PhotometricBlackIsZero,
		Predictor:       1,
		SampleFormat:    SampleFormatUint,
		RowsPerStrip:    math.MaxUint32,
	}

	var stripOffsets, stripCounts, tileOffsets, tileCounts []uint64
	for _, e := range entries {
		switch e.Tag {
		case tagImageWidth:
			ifd.Width = getUint32(e, bo)
		case tagImageLength:
			ifd.Height = getUint32(e, bo)
		case tagTileWidth:
			ifd.TileWidth = getUint32(e, bo)
		case tagTileLength:
			ifd.TileHeight = getUint32(e, bo)
		case tagRowsPerStrip:
			ifd.RowsPerStrip = getUint32(e, bo)
		case tagBitsPerSample:
			ifd.BitsPerSample = getUint16Slice(e, bo)
		case tagSamplesPerPixel:
			ifd.SamplesPerPixel = getUint16Val(e, bo)
		case tagCompression:
			ifd.Compression = getUint16Val(e, bo)
		case tagPhotometric:
			ifd.Photometric = getUint16Val(e, bo)
		case tagPlanarConfig:
			ifd.PlanarConfig = getUint16Val(e, bo)
		case tagPredictor:
			ifd.Predictor = getUint16Val(e, bo)
		case tagSampleFormat:
			ifd.SampleFormat = getUint16Val(e, bo)
		case tagExtraSamples:
			ifd.ExtraSamples = getUint16Slice(e, bo)
		case tagColorMap:
			ifd.ColorMap = getUint16Slice(e, bo)
		case tagStripOffsets:
			stripOffsets = getUint64Slice(e, bo)
		case tagStripByteCounts:
			stripCounts = getUint64Slice(e, bo)
		case tagTileOffsets:
			tileOffsets = getUint64Slice(e, bo)
		case tagTileByteCounts:
			tileCounts = getUint64Slice(e, bo)
		case tagJPEGTables:
			ifd.JPEGTables = append([]byte(nil), e.Value...)
		}
	}

	if ifd.Tiled() {
		ifd.Offsets, ifd.ByteCounts = tileOffsets, tileCounts
	} else {
		ifd.Offsets, ifd.ByteCounts = stripOffsets, stripCounts
	}
	if len(ifd.BitsPerSample) == 0 {
		ifd.BitsPerSample = []uint16{1}
	}
	return ifd
}

func getUint16Val(e tiffEntry, bo binary.ByteOrder) uint16 {
	switch e.DataType {
	case dtShort, dtSShort:
		return bo.Uint16(e.Value)
	case dtLong, dtSLong:
		return uint16(bo.Uint32(e.Value))
	default:
		return uint16(e.Value[0])
	}
}

func getUint32(e tiffEntry, bo binary.ByteOrder) uint32 {
	switch e.DataType {
	case dtShort, dtSShort:
		return uint32(bo.Uint16(e.Value))
	case dtLong, dtSLong:
		return bo.Uint32(e.Value)
	case dtLong8, dtSLong8:
		return uint32(bo.Uint64(e.Value))
	default:
		return uint32(e.Value[0])
	}
}

// getUint16Slice reads a SHORT array; BYTE arrays are widened.
func getUint16Slice(e tiffEntry, bo binary.ByteOrder) []uint16 {
	n := int(e.Count)
	result := make([]uint16, n)
	switch dataTypeSize(e.DataType) {
	case 1:
		for i := 0; i < n; i++ {
			result[i] = uint16(e.Value[i])
		}
	case 2:
		for i := 0; i < n; i++ {
			result[i] = bo.Uint16(e.Value[i*2:])
		}
	case 4:
		for i := 0; i < n; i++ {
			result[i] = uint16(bo.Uint32(e.Value[i*4:]))
		}
	}
	return result
}

func getUint64Slice(e tiffEntry, bo binary.ByteOrder) []uint64 {
	n := int(e.Count)
	result := make([]uint64, n)
	switch e.DataType {
	case dtLong:
		for i := 0; i < n; i++ {
			result[i] = uint64(bo.Uint32(e.Value[i*4:]))
		}
	case dtLong8, dtIFD8:
		for i := 0; i < n; i++ {
			result[i] = bo.Uint64(e.Value[i*8:])
		}
	case dtShort:
		for i := 0; i < n; i++ {
			result[i] = uint64(bo.Uint16(e.Value[i*2:]))
		}
	}
	return result
}
