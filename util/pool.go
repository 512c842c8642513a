package util

import "sync"

// DefaultBufSize is the read buffer size for socket reader goroutines
// (32 KiB).
const DefaultBufSize = 32 * 1024

// BufPool provides reusable read buffers, reducing GC pressure on
// connections that stream a lot of data.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.  Buffers of the wrong
// size are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || len(*buf) != DefaultBufSize {
		return
	}
	BufPool.Put(buf)
}
