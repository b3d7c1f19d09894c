package encryption

import (
	"sync"
)

const defaultBufferSize = 32 * 1024 // 32KB default buffer size

// bufferPool provides a pool of reusable byte slices for hashing and copying.
//
//nolint:gochecknoglobals
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, defaultBufferSize)

		return &buf
	},
}

func getBuffer() []byte {
	buf, _ := bufferPool.Get().(*[]byte) //nolint:errcheck // type is guaranteed by New

	return *buf
}

func putBuffer(buf []byte) {
	bufferPool.Put(&buf)
}
