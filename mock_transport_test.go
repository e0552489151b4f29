package rs232

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errMockClosed = errors.New("mock transport closed")

type mockChunk struct {
	data []byte
	err  error
	ack  chan struct{}
}

// mockTransport runs its own receive goroutine like the serial transport.
// feed blocks until the receiver has handled the chunk.
type mockTransport struct {
	mu       sync.Mutex
	readCh   chan mockChunk
	doneCh   chan struct{}
	writes   [][]byte
	writeErr error
	openErr  error
	closeErr error
	opens    int
	closes   int
	device   string
	opts     LineOptions

	// respond, if set, is called on every successful write and its chunks
	// are delivered as the device's answer.
	respond func(p []byte) []string
}

func newMockTransport() *mockTransport {
	return &mockTransport{}
}

func (m *mockTransport) Open(device string, opts LineOptions, rx Receiver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opens++
	m.device = device
	m.opts = opts
	m.readCh = make(chan mockChunk, 64)
	m.doneCh = make(chan struct{})
	go m.readerLoop(m.readCh, m.doneCh, rx)
	return nil
}

func (m *mockTransport) readerLoop(readCh chan mockChunk, doneCh chan struct{}, rx Receiver) {
	defer close(doneCh)
	failed := false
	for c := range readCh {
		if !failed {
			if c.err != nil {
				rx.OnError(c.err)
				failed = true
			} else {
				rx.OnReceive(c.data)
			}
		}
		if c.ack != nil {
			close(c.ack)
		}
	}
}

func (m *mockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.readCh == nil {
		m.mu.Unlock()
		return 0, errMockClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	respond, ch := m.respond, m.readCh
	m.mu.Unlock()

	if respond != nil {
		for _, s := range respond(p) {
			ch <- mockChunk{data: []byte(s)}
		}
	}
	return len(p), nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	ch, done := m.readCh, m.doneCh
	m.readCh = nil
	m.closes++
	err := m.closeErr
	m.mu.Unlock()
	if ch == nil {
		return nil
	}
	close(ch)
	<-done
	return err
}

// feed delivers each chunk as a separate read and waits until the session
// has processed it.
func (m *mockTransport) feed(chunks ...string) {
	for _, s := range chunks {
		m.deliver(mockChunk{data: []byte(s), ack: make(chan struct{})})
	}
}

// failRead makes the receive path fail with err.
func (m *mockTransport) failRead(err error) {
	m.deliver(mockChunk{err: err, ack: make(chan struct{})})
}

func (m *mockTransport) deliver(c mockChunk) {
	m.mu.Lock()
	ch := m.readCh
	m.mu.Unlock()
	if ch == nil {
		panic("mock transport not open")
	}
	ch <- c
	<-c.ack
}

func (m *mockTransport) written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	for i, w := range m.writes {
		out[i] = string(w)
	}
	return out
}

func (m *mockTransport) setRespond(f func(p []byte) []string) {
	m.mu.Lock()
	m.respond = f
	m.mu.Unlock()
}

// newTestSession returns an open session over a mock transport.
func newTestSession(t *testing.T, mutate ...func(*Config)) (*Session, *mockTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Device = "/dev/ttyUSB0"
	cfg.Serial = "C02TEST0001"
	for _, f := range mutate {
		f(&cfg)
	}
	mt := newMockTransport()
	s, err := NewSession(cfg, WithTransport(mt))
	require.NoError(t, err)
	require.NoError(t, s.Open())
	t.Cleanup(func() { _ = s.Close() })
	return s, mt
}
