package rs232

import (
	"errors"
	"fmt"
	"sync"

	gobug "go.bug.st/serial"
)

// Receiver is the inbound half of a Transport. Calls arrive on the
// transport's receive goroutine, one at a time, in receive order.
type Receiver interface {
	// OnReceive is handed each chunk as it is read. p is only valid for the
	// duration of the call.
	OnReceive(p []byte)
	// OnError reports a terminal read failure. The receive path has stopped.
	OnError(err error)
}

// Transport owns the OS handle of one serial line.
type Transport interface {
	Open(device string, opts LineOptions, rx Receiver) error
	Write(p []byte) (int, error)
	// Close stops the receive goroutine before returning.
	Close() error
}

// allow tests to override external dependencies
var openPort = func(name string, mode *gobug.Mode) (portHandle, error) { return gobug.Open(name, mode) }

type portHandle interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// SerialTransport is the go.bug.st/serial backed Transport.
type SerialTransport struct {
	// DTR and RTS are the modem output bits asserted at open. Nil leaves the
	// driver default.
	DTR *bool
	RTS *bool

	mu      sync.Mutex
	port    portHandle
	closeCh chan struct{}
	doneCh  chan struct{}
}

func NewSerialTransport() *SerialTransport {
	return &SerialTransport{}
}

func (t *SerialTransport) Open(device string, opts LineOptions, rx Receiver) error {
	if rx == nil {
		return errors.New("rs232: nil receiver")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return ErrAlreadyOpen
	}

	mode := opts.Mode()
	if t.DTR != nil || t.RTS != nil {
		bits := &gobug.ModemOutputBits{DTR: true, RTS: true}
		if t.DTR != nil {
			bits.DTR = *t.DTR
		}
		if t.RTS != nil {
			bits.RTS = *t.RTS
		}
		mode.InitialStatusBits = bits
	}

	p, err := openPort(device, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	// whatever the device sent before we were listening is stale
	if err = p.ResetInputBuffer(); err != nil {
		if e := p.Close(); e != nil {
			err = errors.Join(err, e)
		}
		return fmt.Errorf("resetting input buffer: %w", err)
	}

	t.port = p
	t.closeCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	go t.readerLoop(p, rx, t.closeCh, t.doneCh)
	return nil
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return 0, ErrClosed
	}

	written := 0
	for written < len(p) {
		n, err := port.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, fmt.Errorf("write stalled after %d of %d bytes", written, len(p))
		}
	}
	return written, nil
}

// Close is safe to call multiple times. It must not be called from the
// receive goroutine.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	port := t.port
	closeCh, doneCh := t.closeCh, t.doneCh
	t.port = nil
	t.mu.Unlock()
	if port == nil {
		return nil
	}

	close(closeCh)
	// Closing the port unblocks the in-flight Read.
	err := port.Close()
	<-doneCh
	return err
}

func (t *SerialTransport) readerLoop(p portHandle, rx Receiver, closeCh, doneCh chan struct{}) {
	defer close(doneCh)

	buf := getReadBuf()
	defer putReadBuf(buf)

	for {
		n, err := p.Read(buf)
		if n > 0 {
			rx.OnReceive(buf[:n])
		}
		if err != nil {
			select {
			case <-closeCh:
			default:
				rx.OnError(err)
			}
			return
		}
		select {
		case <-closeCh:
			return
		default:
		}
	}
}
