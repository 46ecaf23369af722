//go:build wasip1

package main

import (
	"github.com/pspoerri/rasterwasm/internal/abi"
	"github.com/pspoerri/rasterwasm/internal/arena"
)

// mod backs every export. The guest is single threaded; exports run to
// completion one at a time.
var mod = abi.New(abi.Config{})

func main() {}

//go:wasmexport allocate
func allocate(size uint32) uint32 {
	return uint32(mod.Allocate(size))
}

//go:wasmexport release
func release(handle, size uint32) {
	mod.Release(arena.Handle(handle), size)
}

//go:wasmexport pointer
func pointer(handle uint32) uint32 {
	return uint32(mod.Pointer(arena.Handle(handle)))
}

//go:wasmexport length
func length(handle uint32) uint32 {
	return mod.Len(arena.Handle(handle))
}

//go:wasmexport decode
func decode(handle, inSize, outSize uint32) uint32 {
	return uint32(mod.Decode(arena.Handle(handle), inSize, outSize))
}

//go:wasmexport decode_with_sample_size
func decodeWithSampleSize(handle, inSize, outSize, bytesPerSample uint32) uint32 {
	return uint32(mod.DecodeWithSampleSize(arena.Handle(handle), inSize, outSize, bytesPerSample))
}

//go:wasmexport width
func width(handle, inSize, outSize uint32) int32 {
	return mod.Width(arena.Handle(handle), inSize, outSize)
}

//go:wasmexport height
func height(handle, inSize, outSize uint32) int32 {
	return mod.Height(arena.Handle(handle), inSize, outSize)
}

//go:wasmexport frame_count
func frameCount(handle, inSize, outSize uint32) int32 {
	return mod.FrameCount(arena.Handle(handle), inSize, outSize)
}

//go:wasmexport height_and_width
func heightAndWidth(handle, inSize uint32) int64 {
	return mod.PackedDimensions(arena.Handle(handle), inSize)
}

//go:wasmexport last_error
func lastError() int32 {
	return int32(mod.LastError())
}

//go:wasmexport open_session
func openSession(handle, inSize uint32) uint32 {
	return uint32(mod.OpenSession(arena.Handle(handle), inSize))
}

//go:wasmexport session_width
func sessionWidth(session uint32) int32 {
	return mod.SessionWidth(abi.SessionHandle(session))
}

//go:wasmexport session_height
func sessionHeight(session uint32) int32 {
	return mod.SessionHeight(abi.SessionHandle(session))
}

//go:wasmexport session_format
func sessionFormat(session uint32) int32 {
	return mod.SessionFormat(abi.SessionHandle(session))
}

//go:wasmexport session_frame_count
func sessionFrameCount(session uint32) int32 {
	return mod.SessionFrameCount(abi.SessionHandle(session))
}

//go:wasmexport session_decode_frame
func sessionDecodeFrame(session, index, outSize, bytesPerSample uint32) uint32 {
	return uint32(mod.SessionDecodeFrame(abi.SessionHandle(session), index, outSize, bytesPerSample))
}

//go:wasmexport close_session
func closeSession(session uint32) {
	mod.CloseSession(abi.SessionHandle(session))
}
