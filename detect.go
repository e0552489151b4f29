package rs232

import (
	"context"
	"errors"
	"time"
)

// SetDetectString replaces the detection token. An empty token disables
// detection. It may be called at any time, including during a wait; the
// running wait keeps the token it started with.
func (s *Session) SetDetectString(token string) {
	s.detect.Store(token)
	s.logger.Debug().Str("token", token).Msg("detect string set")
}

func (s *Session) DetectString() string { return s.detect.Load() }

// WaitDetect blocks until the receive buffer contains the detect string or
// timeout elapses. It returns ErrNoDetectString at once when no token is
// set and ErrClosed when the session is closed during the wait.
func (s *Session) WaitDetect(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.WaitDetectContext(ctx)
}

// WaitDetectContext is WaitDetect bounded by ctx. A context deadline is
// reported as ErrTimeout; cancellation as the context's error.
func (s *Session) WaitDetectContext(ctx context.Context) error {
	token := s.DetectString()
	if token == "" {
		return ErrNoDetectString
	}
	_, done, err := s.active()
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.awaitToken(ctx, done, []byte(token))
	switch {
	case err == nil:
		s.metrics.Detections.Inc()
		if s.cfg.ClearOnDetect {
			s.buf.clear()
		}
		s.logger.Debug().Str("token", token).Dur("after", time.Since(start)).Msg("detected")
	case errors.Is(err, ErrTimeout):
		s.metrics.DetectTimeouts.Inc()
		s.logger.Warn().Str("token", token).Dur("after", time.Since(start)).Msg("detect timed out")
	}
	return err
}

// awaitToken waits for token to appear in the buffer. Each append wakes it
// and the search resumes where the previous one stopped.
func (s *Session) awaitToken(ctx context.Context, done <-chan struct{}, token []byte) error {
	from := 0
	for {
		found, next, wait := s.buf.search(token, from)
		if found {
			return nil
		}
		from = next
		select {
		case <-wait:
		case <-done:
			return ErrClosed
		case <-ctx.Done():
			return ctxErr(ctx)
		}
	}
}

// awaitQuiet waits until the buffer holds something and no byte has
// arrived for quiet.
func (s *Session) awaitQuiet(ctx context.Context, done <-chan struct{}, quiet time.Duration) error {
	for {
		n, last, wait := s.buf.activity()
		if n == 0 {
			select {
			case <-wait:
				continue
			case <-done:
				return ErrClosed
			case <-ctx.Done():
				return ctxErr(ctx)
			}
		}

		idle := time.Since(last)
		if idle >= quiet {
			return nil
		}
		timer := time.NewTimer(quiet - idle)
		select {
		case <-wait:
		case <-timer.C:
		case <-done:
			timer.Stop()
			return ErrClosed
		case <-ctx.Done():
			timer.Stop()
			return ctxErr(ctx)
		}
		timer.Stop()
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
