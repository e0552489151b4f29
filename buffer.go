package rs232

import (
	"bytes"
	"sync"
	"time"
)

// receiveBuffer accumulates everything the transport delivers. The raw and
// text views share the one byte stream, so they are always cleared together.
//
// claimed is the "command outstanding" gate. While it is set, appended bytes
// belong to the reply of the in-flight command and are not surfaced as
// events. It lives under the buffer lock so that the routing decision for a
// chunk and the pre-transmit clear can never interleave.
type receiveBuffer struct {
	mu       sync.Mutex
	data     []byte
	wait     chan struct{}
	claimed  bool
	lastRecv time.Time
}

func newReceiveBuffer() *receiveBuffer {
	return &receiveBuffer{wait: make(chan struct{})}
}

// append adds p and wakes every waiter. When no command owns the chunk,
// window holds up to overlap bytes that preceded it followed by the chunk,
// so markers split across two reads are still found.
func (b *receiveBuffer) append(p []byte, overlap int) (claimed bool, window []byte) {
	if len(p) == 0 {
		return false, nil
	}
	b.mu.Lock()
	start := len(b.data) - overlap
	if start < 0 || overlap < 0 {
		start = 0
	}
	b.data = append(b.data, p...)
	b.lastRecv = time.Now()
	claimed = b.claimed
	if !claimed {
		window = bytes.Clone(b.data[start:])
	}
	old := b.wait
	b.wait = make(chan struct{})
	b.mu.Unlock()
	close(old)
	return claimed, window
}

func (b *receiveBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.data)
}

func (b *receiveBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// HexString renders the raw view as "0x42,0x4F,...".
func (b *receiveBuffer) HexString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return formatHex(b.data)
}

func (b *receiveBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *receiveBuffer) clear() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

// reset drops the backing array as well, so nothing survives a reopen.
func (b *receiveBuffer) reset() {
	b.mu.Lock()
	b.data = nil
	b.claimed = false
	b.lastRecv = time.Time{}
	b.mu.Unlock()
}

// claim marks a command outstanding and clears the buffer in one step.
func (b *receiveBuffer) claim() {
	b.mu.Lock()
	b.claimed = true
	b.data = b.data[:0]
	b.mu.Unlock()
}

// release ends the command. With consume set, the accumulated reply is
// returned and removed before any later chunk can be routed to events.
func (b *receiveBuffer) release(consume bool) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.claimed = false
	if !consume {
		return nil
	}
	reply := bytes.Clone(b.data)
	b.data = b.data[:0]
	return reply
}

func (b *receiveBuffer) isClaimed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.claimed
}

// search looks for pattern starting at from. It returns the channel that is
// closed by the next append, taken under the same lock as the search so no
// append can be missed between the two. next is where the following search
// should resume; bytes that could start a split match are kept in range.
func (b *receiveBuffer) search(pattern []byte, from int) (found bool, next int, wait <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from < 0 || from > len(b.data) {
		// cleared since the last call
		from = 0
	}
	if bytes.Contains(b.data[from:], pattern) {
		return true, from, b.wait
	}
	next = len(b.data) - (len(pattern) - 1)
	if next < 0 {
		next = 0
	}
	return false, next, b.wait
}

// activity reports how much is buffered and when the last chunk arrived.
func (b *receiveBuffer) activity() (n int, last time.Time, wait <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data), b.lastRecv, b.wait
}
