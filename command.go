package rs232

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// WriteString transmits text, appending the configured terminator if it is
// missing. It does not wait for a reply.
func (s *Session) WriteString(text string) (int, error) {
	return s.write([]byte(s.withTerminator(text)))
}

// WriteBytes transmits p unchanged.
func (s *Session) WriteBytes(p []byte) (int, error) {
	return s.write(p)
}

// WriteHexString transmits the bytes of a "0x55,0xAA,..." string.
func (s *Session) WriteHexString(hex string) (int, error) {
	p, err := parseHex(hex)
	if err != nil {
		return 0, err
	}
	return s.write(p)
}

func (s *Session) write(p []byte) (int, error) {
	t, _, err := s.active()
	if err != nil {
		return 0, err
	}
	return s.transmit(t, p)
}

func (s *Session) transmit(t Transport, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := t.Write(p)
	s.metrics.recordWrite(n, err)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.logger.Error().Err(err).Int("written", n).Int("len", len(p)).Msg("write failed")
		return n, &TransportError{Op: "write", Err: err}
	}
	s.logger.Debug().Int("len", n).Str("tx", printable(p)).Msg("tx")
	return n, nil
}

// WriteReadString sends text and waits for the reply. The reply is complete
// when the buffer contains the detect string or, with no detect string set,
// when the line has been quiet for the configured quiet period.
//
// Concurrent callers are served one at a time. On success the reply is
// removed from the buffer; on timeout ErrTimeout is returned with an empty
// reply.
func (s *Session) WriteReadString(text string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Exec(ctx, text)
}

// Exec is WriteReadString bounded by ctx.
func (s *Session) Exec(ctx context.Context, text string) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.execLocked(ctx, text)
}

// TryWriteReadString is WriteReadString that fails with ErrCommandInFlight
// instead of waiting for another command to finish.
func (s *Session) TryWriteReadString(text string, timeout time.Duration) (string, error) {
	if !s.cmdMu.TryLock() {
		s.metrics.CommandsRejected.Inc()
		return "", ErrCommandInFlight
	}
	defer s.cmdMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.execLocked(ctx, text)
}

// pendingCommand is the state of one write/read cycle.
type pendingCommand struct {
	out     []byte
	token   string
	started time.Time
}

func (s *Session) execLocked(ctx context.Context, text string) (reply string, err error) {
	t, done, err := s.active()
	if err != nil {
		return "", err
	}

	cmd := pendingCommand{
		out:     []byte(s.withTerminator(text)),
		token:   s.DetectString(),
		started: time.Now(),
	}
	defer func() { s.metrics.recordCommand(time.Since(cmd.started), err) }()

	s.buf.claim()
	consumed := false
	defer func() {
		if !consumed {
			s.buf.release(false)
		}
	}()

	if _, err = s.transmit(t, cmd.out); err != nil {
		return "", err
	}

	if cmd.token != "" {
		err = s.awaitToken(ctx, done, []byte(cmd.token))
	} else {
		err = s.awaitQuiet(ctx, done, s.cfg.QuietPeriod)
	}
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.logger.Warn().Str("cmd", printable(cmd.out)).Str("partial", s.buf.String()).Msg("command timed out")
		}
		return "", err
	}

	consumed = true
	reply = string(s.buf.release(true))
	s.logger.Debug().Str("cmd", printable(cmd.out)).Str("reply", printable([]byte(reply))).
		Dur("took", time.Since(cmd.started)).Msg("command done")
	return reply, nil
}

func (s *Session) withTerminator(text string) string {
	term := s.cfg.Terminator
	if term == "" || text == "" || strings.HasSuffix(text, term) {
		return text
	}
	return text + term
}

// ReadString returns the buffered text without consuming it.
func (s *Session) ReadString() string { return s.buf.String() }

// ReadBytes returns a copy of the buffered bytes without consuming them.
func (s *Session) ReadBytes() []byte { return s.buf.Bytes() }

// ReadHexString returns the buffer as "0x42,0x4F,...".
func (s *Session) ReadHexString() string { return s.buf.HexString() }

// BufferLen is the number of buffered bytes.
func (s *Session) BufferLen() int { return s.buf.Len() }

func (s *Session) ClearBuffer() { s.buf.clear() }

// printable quotes control characters for log output.
func printable(p []byte) string {
	var sb strings.Builder
	for _, c := range p {
		switch {
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c < 0x20 || c > 0x7e:
			sb.WriteString(formatHex([]byte{c}))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
