package rs232

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWriteReadString_QuietPeriodReply(t *testing.T) {
	s, mt := newTestSession(t, func(c *Config) { c.QuietPeriod = 100 * time.Millisecond })
	mt.setRespond(func(p []byte) []string {
		if string(p) == "PING" {
			return []string{"PONG"}
		}
		return nil
	})

	start := time.Now()
	reply, err := s.WriteReadString("PING", 500*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "PONG", reply)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.Equal(t, []string{"PING"}, mt.written())
	assert.Equal(t, 0, s.BufferLen(), "reply is consumed")
}

func TestWriteReadString_DetectTokenTerminatesReply(t *testing.T) {
	s, mt := newTestSession(t, func(c *Config) {
		c.DetectToken = "OK"
		c.Terminator = "\r"
	})
	mt.setRespond(func(p []byte) []string {
		return []string{"led_state=", "green\r\n", "OK\r\n"}
	})

	reply, err := s.WriteReadString("led_state?", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "led_state=green\r\nOK\r\n", reply)
	assert.Equal(t, []string{"led_state?\r"}, mt.written())
}

func TestWriteReadString_TimeoutReleasesLock(t *testing.T) {
	s, mt := newTestSession(t)

	start := time.Now()
	reply, err := s.WriteReadString("PING", 200*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, reply)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond+timeoutSlack)
	assert.Equal(t, StateOpen, s.State())

	mt.setRespond(func([]byte) []string { return []string{"PONG"} })
	start = time.Now()
	reply, err = s.WriteReadString("PING", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PONG", reply)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "second command must not wait on the first")
}

func TestWriteReadString_NoCrossCommandLeakage(t *testing.T) {
	s, mt := newTestSession(t, func(c *Config) { c.DetectToken = "#" })

	// unsolicited noise before the command
	mt.feed("garbage from earlier\n")
	mt.setRespond(func(p []byte) []string {
		return []string{"reply:" + string(p) + "#"}
	})

	for i := 0; i < 20; i++ {
		cmd := fmt.Sprintf("c%d", i)
		reply, err := s.WriteReadString(cmd, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "reply:"+cmd+"#", reply)
	}
}

func TestWriteReadString_Serialized(t *testing.T) {
	s, mt := newTestSession(t, func(c *Config) { c.DetectToken = "OK" })

	var (
		inFlight  atomic.Int32
		overlaps  atomic.Int32
		orderMu   sync.Mutex
		order     []string
		respondWg sync.WaitGroup
	)
	mt.setRespond(func(p []byte) []string {
		if inFlight.Inc() > 1 {
			overlaps.Inc()
		}
		orderMu.Lock()
		order = append(order, "tx:"+string(p))
		orderMu.Unlock()
		// let the others pile up on the command lock
		time.Sleep(5 * time.Millisecond)
		inFlight.Dec()
		return []string{string(p) + " OK"}
	})

	const n = 10
	replies := make([]string, n)
	for i := 0; i < n; i++ {
		respondWg.Add(1)
		go func(i int) {
			defer respondWg.Done()
			cmd := fmt.Sprintf("cmd%02d", i)
			r, err := s.WriteReadString(cmd, 2*time.Second)
			assert.NoError(t, err)
			replies[i] = r
		}(i)
	}
	respondWg.Wait()

	assert.Zero(t, overlaps.Load())
	assert.Len(t, order, n)
	for i, r := range replies {
		assert.Equal(t, fmt.Sprintf("cmd%02d OK", i), r)
	}
}

func TestWriteReadString_WriteFailureReturnsAtOnce(t *testing.T) {
	s, mt := newTestSession(t, func(c *Config) { c.DetectToken = "OK" })
	boom := errors.New("usb cable pulled")
	mt.mu.Lock()
	mt.writeErr = boom
	mt.mu.Unlock()

	start := time.Now()
	_, err := s.WriteReadString("PING", 5*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "write", te.Op)
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.IsOpen(), "a transport failure leaves the session open")
	assert.False(t, s.buf.isClaimed())

	// lock was released
	mt.mu.Lock()
	mt.writeErr = nil
	mt.mu.Unlock()
	mt.setRespond(func([]byte) []string { return []string{"OK"} })
	_, err = s.WriteReadString("PING", time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Metrics().WriteErrors.Load())
}

func TestTryWriteReadString_RejectsWhileBusy(t *testing.T) {
	s, mt := newTestSession(t, func(c *Config) { c.DetectToken = "OK" })

	release := make(chan struct{})
	mt.setRespond(func(p []byte) []string {
		if string(p) == "slow" {
			<-release
		}
		return []string{"OK"}
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.WriteReadString("slow", 2*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return s.State() == StateCommandInFlight },
		time.Second, time.Millisecond)

	_, err := s.TryWriteReadString("fast", time.Second)
	require.ErrorIs(t, err, ErrCommandInFlight)
	assert.EqualValues(t, 1, s.Metrics().CommandsRejected.Load())

	close(release)
	require.NoError(t, <-done)

	reply, err := s.TryWriteReadString("fast", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}

func TestWriteReadString_ClosedSession(t *testing.T) {
	s, err := NewSession(Config{Device: "/dev/ttyUSB0"}, WithTransport(newMockTransport()))
	require.NoError(t, err)
	_, err = s.WriteReadString("PING", 10*time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
}

func TestWriteReadString_CloseWakesCommand(t *testing.T) {
	s, _ := newTestSession(t, func(c *Config) { c.DetectToken = "OK" })

	done := make(chan error, 1)
	go func() {
		_, err := s.WriteReadString("PING", 5*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return s.State() == StateCommandInFlight },
		time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("command still blocked after Close")
	}
}

func TestWriteStringAppendsTerminator(t *testing.T) {
	s, mt := newTestSession(t, func(c *Config) { c.Terminator = "\r\n" })

	n, err := s.WriteString("usb_power_on")
	require.NoError(t, err)
	assert.Equal(t, len("usb_power_on\r\n"), n)

	_, err = s.WriteString("already\r\n")
	require.NoError(t, err)
	_, err = s.WriteBytes([]byte{0x01, 0x02})
	require.NoError(t, err)

	assert.Equal(t, []string{"usb_power_on\r\n", "already\r\n", "\x01\x02"}, mt.written())
}

func TestWriteHexString(t *testing.T) {
	s, mt := newTestSession(t)

	n, err := s.WriteHexString("0x55,0xAA, 0x0d 7e")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"\x55\xaa\x0d\x7e"}, mt.written())

	_, err = s.WriteHexString("0x5G")
	require.ErrorIs(t, err, ErrInvalidHex)
	_, err = s.WriteHexString(" , ")
	require.ErrorIs(t, err, ErrInvalidHex)
}

func TestReadViews(t *testing.T) {
	s, mt := newTestSession(t)
	mt.feed("BO", "OT")
	assert.Equal(t, "BOOT", s.ReadString())
	assert.Equal(t, []byte("BOOT"), s.ReadBytes())
	assert.Equal(t, "0x42,0x4F,0x4F,0x54", s.ReadHexString())
	s.ClearBuffer()
	assert.Equal(t, "", s.ReadString())
}

func TestPrintable(t *testing.T) {
	assert.Equal(t, `OK\r\n0x00`, printable([]byte("OK\r\n\x00")))
	assert.True(t, strings.HasPrefix(printable([]byte{0xff}), "0xFF"))
}
