// Command rasterwasm is the WebAssembly build of the decoder. Build it as a
// reactor module:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o rasterwasm.wasm ./cmd/rasterwasm
//
// Hosts call _initialize once and then the exported functions. Buffers are
// addressed by handle; pointer(handle) gives the offset in linear memory.
package main
