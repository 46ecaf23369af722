package abi

import (
	"errors"

	"github.com/pspoerri/rasterwasm/internal/arena"
	"github.com/pspoerri/rasterwasm/internal/decode"
	"github.com/pspoerri/rasterwasm/internal/pixel"
)

// Status is the outcome of the most recent boundary call.
type Status int32

const (
	// OK means the call succeeded.
	OK Status = 0

	// InvalidArgument covers null or unknown handles, zero lengths, an input
	// size past the end of its buffer and unsupported sample widths.
	InvalidArgument Status = 1

	// ParseFailure means the input could not be opened.
	ParseFailure Status = 2

	// RenderFailure means a keyframe could not be reconstructed.
	RenderFailure Status = 3

	// UnsupportedFormat means the pixel format is outside gray, RGB and RGBA.
	UnsupportedFormat Status = 4

	// SizeMismatch means the encoded output length differs from the
	// requested output size.
	SizeMismatch Status = 5

	// NoFrames means the container produced zero keyframes.
	NoFrames Status = 6
)

// ErrInvalidArgument is wrapped by argument validation failures.
var ErrInvalidArgument = errors.New("abi: invalid argument")

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid argument"
	case ParseFailure:
		return "parse failure"
	case RenderFailure:
		return "render failure"
	case UnsupportedFormat:
		return "unsupported format"
	case SizeMismatch:
		return "size mismatch"
	case NoFrames:
		return "no frames"
	default:
		return "unknown"
	}
}

// Sentinel is the negative value the integer queries return for s:
// -1 invalid arguments, -2 parse failure, -3 render failure, -4 no frames.
// Statuses without a sentinel of their own report as render failures.
func (s Status) Sentinel() int32 {
	switch s {
	case OK:
		return 0
	case InvalidArgument:
		return -1
	case ParseFailure:
		return -2
	case NoFrames:
		return -4
	default:
		return -3
	}
}

// StatusOf classifies err.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, arena.ErrUnknownHandle),
		errors.Is(err, arena.ErrSizeMismatch):
		return InvalidArgument
	case errors.Is(err, pixel.ErrUnsupportedFormat):
		return UnsupportedFormat
	case errors.Is(err, pixel.ErrSizeMismatch):
		return SizeMismatch
	case errors.Is(err, decode.ErrNoFrames):
		return NoFrames
	case errors.Is(err, decode.ErrParse):
		return ParseFailure
	default:
		return RenderFailure
	}
}
