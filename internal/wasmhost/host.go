// Package wasmhost drives the rasterwasm WebAssembly module from Go using
// wazero, the way a browser or any other embedder would: copy bytes into
// guest memory, query geometry, decode, copy the result out and release
// both buffers.
package wasmhost

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/pspoerri/rasterwasm/internal/abi"
	"github.com/pspoerri/rasterwasm/internal/codec"
	"github.com/pspoerri/rasterwasm/internal/pixel"
)

// exports lists the guest functions the host needs.
var exports = []string{
	"allocate", "release", "pointer",
	"decode_with_sample_size", "width", "height", "frame_count",
	"last_error", "open_session", "session_format", "close_session",
}

// Host is one instantiated guest. It is not safe for concurrent use.
type Host struct {
	runtime wazero.Runtime
	mem     api.Memory
	fns     map[string]api.Function
}

// Result is a decoded image copied out of guest memory.
type Result struct {
	Width    int
	Height   int
	Frames   int
	Format   codec.PixelFormat
	Encoding pixel.Encoding
	Pix      []byte // Frames consecutive frames
}

// FrameSize returns the byte length of one frame in Pix.
func (r *Result) FrameSize() int {
	n, _ := pixel.FrameSize(r.Width, r.Height, r.Format, r.Encoding)
	return n
}

// New compiles and instantiates the guest. Guest stderr goes to stderr,
// which may be nil.
func New(ctx context.Context, wasm []byte, stderr io.Writer) (*Host, error) {
	r := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiating WASI: %w", err)
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compiling module: %w", err)
	}

	cfg := wazero.NewModuleConfig().WithStartFunctions("_initialize")
	if stderr != nil {
		cfg = cfg.WithStderr(stderr)
	}
	mod, err := r.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiating module: %w", err)
	}

	h := &Host{runtime: r, mem: mod.Memory(), fns: make(map[string]api.Function)}
	if h.mem == nil {
		r.Close(ctx)
		return nil, errors.New("module does not export its memory")
	}
	for _, name := range exports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			r.Close(ctx)
			return nil, fmt.Errorf("module does not export %q", name)
		}
		h.fns[name] = fn
	}
	return h, nil
}

// Close releases the runtime and everything instantiated in it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

func (h *Host) call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	res, err := h.fns[name].Call(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// status fetches last_error and wraps it for op.
func (h *Host) status(ctx context.Context, op string) error {
	v, err := h.call(ctx, "last_error")
	if err != nil {
		return err
	}
	return fmt.Errorf("%s: %v", op, abi.Status(api.DecodeI32(v)))
}

// Load allocates a guest buffer and copies data into it.
func (h *Host) Load(ctx context.Context, data []byte) (uint32, error) {
	v, err := h.call(ctx, "allocate", api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, err
	}
	handle := api.DecodeU32(v)
	if handle == 0 {
		return 0, h.status(ctx, "allocate")
	}
	ptr, err := h.call(ctx, "pointer", api.EncodeU32(handle))
	if err != nil {
		return 0, err
	}
	if !h.mem.Write(api.DecodeU32(ptr), data) {
		return 0, fmt.Errorf("writing %d bytes at %#x: out of range", len(data), ptr)
	}
	return handle, nil
}

// Read copies size bytes out of the buffer behind handle.
func (h *Host) Read(ctx context.Context, handle, size uint32) ([]byte, error) {
	ptr, err := h.call(ctx, "pointer", api.EncodeU32(handle))
	if err != nil {
		return nil, err
	}
	if ptr == 0 {
		return nil, h.status(ctx, "pointer")
	}
	view, ok := h.mem.Read(api.DecodeU32(ptr), size)
	if !ok {
		return nil, fmt.Errorf("reading %d bytes at %#x: out of range", size, ptr)
	}
	return append([]byte(nil), view...), nil
}

// Release hands a buffer back to the guest.
func (h *Host) Release(ctx context.Context, handle, size uint32) error {
	if _, err := h.call(ctx, "release", api.EncodeU32(handle), api.EncodeU32(size)); err != nil {
		return err
	}
	v, err := h.call(ctx, "last_error")
	if err != nil {
		return err
	}
	if s := abi.Status(api.DecodeI32(v)); s != abi.OK {
		return fmt.Errorf("release of handle %d: %v", handle, s)
	}
	return nil
}

// query calls a scalar export and turns negative sentinels into errors.
func (h *Host) query(ctx context.Context, name string, handle, inSize uint32) (int, error) {
	v, err := h.call(ctx, name, api.EncodeU32(handle), api.EncodeU32(inSize), api.EncodeU32(1))
	if err != nil {
		return 0, err
	}
	n := api.DecodeI32(v)
	if n < 0 {
		return 0, h.status(ctx, name)
	}
	return int(n), nil
}

func (h *Host) format(ctx context.Context, handle, inSize uint32) (codec.PixelFormat, error) {
	v, err := h.call(ctx, "open_session", api.EncodeU32(handle), api.EncodeU32(inSize))
	if err != nil {
		return 0, err
	}
	session := api.DecodeU32(v)
	if session == 0 {
		return 0, h.status(ctx, "open_session")
	}
	defer h.call(ctx, "close_session", api.EncodeU32(session))

	v, err = h.call(ctx, "session_format", api.EncodeU32(session))
	if err != nil {
		return 0, err
	}
	return codec.PixelFormat(api.DecodeI32(v)), nil
}

// Decode runs the whole protocol for one input. Both guest buffers are
// released before it returns; a release the guest refuses is reported in
// the returned error.
func (h *Host) Decode(ctx context.Context, data []byte, enc pixel.Encoding) (res *Result, err error) {
	in, err := h.Load(ctx, data)
	if err != nil {
		return nil, err
	}
	inSize := uint32(len(data))
	defer h.releaseInto(ctx, &res, &err, in, inSize)

	format, err := h.format(ctx, in, inSize)
	if err != nil {
		return nil, err
	}
	res = &Result{Format: format, Encoding: enc}
	if res.Width, err = h.query(ctx, "width", in, inSize); err != nil {
		return nil, err
	}
	if res.Height, err = h.query(ctx, "height", in, inSize); err != nil {
		return nil, err
	}
	if res.Frames, err = h.query(ctx, "frame_count", in, inSize); err != nil {
		return nil, err
	}

	frameSize, err := pixel.FrameSize(res.Width, res.Height, format, enc)
	if err != nil {
		return nil, err
	}
	outSize := uint32(frameSize * res.Frames)
	v, err := h.call(ctx, "decode_with_sample_size",
		api.EncodeU32(in), api.EncodeU32(inSize), api.EncodeU32(outSize), api.EncodeU32(uint32(enc.BytesPerSample())))
	if err != nil {
		return nil, err
	}
	out := api.DecodeU32(v)
	if out == 0 {
		return nil, h.status(ctx, "decode_with_sample_size")
	}
	defer h.releaseInto(ctx, &res, &err, out, outSize)

	if res.Pix, err = h.Read(ctx, out, outSize); err != nil {
		return nil, err
	}
	return res, nil
}

// releaseInto releases handle and joins a failure into *err, dropping the
// result.
func (h *Host) releaseInto(ctx context.Context, res **Result, err *error, handle, size uint32) {
	if rerr := h.Release(ctx, handle, size); rerr != nil {
		*err = errors.Join(*err, rerr)
		*res = nil
	}
}
