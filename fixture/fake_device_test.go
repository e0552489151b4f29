package fixture

import (
	"errors"
	"strings"
	"sync"

	"github.com/Station-Manager/rs232"
)

// fakeDevice answers commands from a script and can push unsolicited
// output. Delivery runs on its own goroutine like a real port.
type fakeDevice struct {
	mu      sync.Mutex
	script  map[string]string
	ch      chan []byte
	done    chan struct{}
	writes  []string
	openErr error
}

func newFakeDevice(script map[string]string) *fakeDevice {
	return &fakeDevice{script: script}
}

func (d *fakeDevice) Open(_ string, _ rs232.LineOptions, rx rs232.Receiver) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.ch = make(chan []byte, 64)
	d.done = make(chan struct{})
	go func(ch chan []byte, done chan struct{}) {
		defer close(done)
		for p := range ch {
			rx.OnReceive(p)
		}
	}(d.ch, d.done)
	return nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch == nil {
		return 0, errors.New("fake device closed")
	}
	cmd := string(p)
	d.writes = append(d.writes, cmd)
	if reply, ok := d.script[strings.TrimRight(cmd, "\r\n")]; ok {
		d.ch <- []byte(reply)
	}
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	ch, done := d.ch, d.done
	d.ch = nil
	d.mu.Unlock()
	if ch == nil {
		return nil
	}
	close(ch)
	<-done
	return nil
}

func (d *fakeDevice) push(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch != nil {
		d.ch <- []byte(s)
	}
}

func (d *fakeDevice) written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.writes...)
}
