package rs232

import (
	"sync"

	"go.uber.org/atomic"
)

// readBufSize is the chunk size of one transport read.
const readBufSize = 4096

var readBufPool = NewBufferPool(readBufSize)

func getReadBuf() []byte { return readBufPool.Get() }

func putReadBuf(b []byte) { readBufPool.Put(b) }

// ReadBufferPoolStats reports usage of the pool shared by serial transports.
func ReadBufferPoolStats() PoolStats { return readBufPool.Stats() }

// BufferPool manages reusable byte buffers for I/O operations
type BufferPool struct {
	pool sync.Pool
	size int
	// Metrics for monitoring pool efficiency
	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() any {
			bp.creates.Inc()
			return make([]byte, bufferSize)
		},
	}
	return bp
}

// Get retrieves a buffer from the pool
func (bp *BufferPool) Get() []byte {
	bp.gets.Inc()
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool, zeroed. Buffers of the wrong size are
// dropped.
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return
	}
	bp.puts.Inc()
	clear(buf)
	bp.pool.Put(buf) //nolint:staticcheck // slice header allocation is fine at this rate
}

// Stats returns pool usage statistics
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// PoolStats contains buffer pool usage statistics
type PoolStats struct {
	Size    int   // Buffer size managed by this pool
	Gets    int64 // Number of Get() calls
	Puts    int64 // Number of Put() calls
	Creates int64 // Number of new buffers created
}

// HitRatio returns the cache hit ratio (0.0 to 1.0)
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0.0
	}
	return 1.0 - (float64(ps.Creates) / float64(ps.Gets))
}
