package arena

import "sync"

// bufferPools maps buffer length to a *sync.Pool of *[]byte. Hosts tend to
// decode many images of one geometry, so released input and output buffers
// of a given length are recycled for the next request of that length.
var bufferPools sync.Map

// getBuffer returns a zeroed buffer of exactly size bytes, recycled when
// possible.
func getBuffer(size int) []byte {
	if p, ok := bufferPools.Load(size); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			buf := (*v.(*[]byte))[:size]
			clear(buf)
			return buf
		}
	}
	return make([]byte, size)
}

// putBuffer makes buf available for reuse. Empty buffers are ignored.
func putBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	p, _ := bufferPools.LoadOrStore(len(buf), &sync.Pool{})
	p.(*sync.Pool).Put(&buf)
}
