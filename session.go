package rs232

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateCommandInFlight
	StateClosing
)

func (st State) String() string {
	switch st {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateCommandInFlight:
		return "command-in-flight"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int32(st))
}

// Session is one physical serial line of the fixture. The transport's
// receive goroutine feeds the buffer while foreground goroutines issue
// commands and waits.
type Session struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *Metrics

	// mu guards the lifecycle: transport ownership, done and device.
	mu        sync.RWMutex
	transport Transport
	state     atomic.Int32
	done      chan struct{}
	device    string

	buf   *receiveBuffer
	cmdMu sync.Mutex

	detect        atomic.String
	stopRequested atomic.Bool

	cbMu    sync.RWMutex
	site    int
	onEvent EventHandler
	onStop  StopHandler
}

// NewSession validates cfg and returns a closed session.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	cfg.applyDefaults()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		metrics: &Metrics{},
		buf:     newReceiveBuffer(),
		site:    cfg.Site,
	}
	s.detect.Store(cfg.DetectToken)
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = &SerialTransport{DTR: cfg.DTR, RTS: cfg.RTS}
	}
	s.logger = s.logger.With().Int("site", cfg.Site).Str("device", cfg.Device).Logger()
	return s, nil
}

// Open resolves the device and starts the receive path. Any data from a
// previous open is gone.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) != StateClosed {
		return ErrAlreadyOpen
	}
	s.metrics.OpenAttempts.Inc()

	opts, err := ParseLineOptions(s.cfg.LineOptions)
	if err != nil {
		s.metrics.OpenFailures.Inc()
		return err
	}
	device, err := ResolveDevice(s.cfg.Device)
	if err != nil {
		s.metrics.OpenFailures.Inc()
		return fmt.Errorf("resolving %q: %w", s.cfg.Device, err)
	}

	s.buf.reset()
	s.stopRequested.Store(false)

	if err = s.transport.Open(device, opts, sessionReceiver{s}); err != nil {
		s.metrics.OpenFailures.Inc()
		s.metrics.recordError()
		s.logger.Error().Err(err).Str("port", device).Msg("open failed")
		return &TransportError{Op: "open", Err: err}
	}

	s.device = device
	s.done = make(chan struct{})
	s.state.Store(int32(StateOpen))

	s.metrics.Opens.Inc()
	s.metrics.ConnectionStartTime.Store(time.Now().UnixNano())
	s.metrics.ConsecutiveFailures.Store(0)
	s.logger.Info().Str("port", device).Stringer("line", opts).Msg("session open")
	return nil
}

// Close stops the receive path, wakes every blocked waiter with ErrClosed
// and discards the buffer. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if State(s.state.Load()) != StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(StateClosing))
	close(s.done)
	t := s.transport
	s.mu.Unlock()

	// The receive goroutine may be inside a handler that reads session
	// state, so the lifecycle lock is not held here.
	err := t.Close()
	s.buf.reset()
	s.notifyStop("close")

	s.mu.Lock()
	s.state.Store(int32(StateClosed))
	s.mu.Unlock()

	s.metrics.Closes.Inc()
	s.metrics.ConnectionStartTime.Store(0)
	if err != nil {
		s.metrics.recordError()
		s.logger.Error().Err(err).Msg("transport close failed")
		return &TransportError{Op: "close", Err: err}
	}
	s.logger.Info().Msg("session closed")
	return nil
}

// active returns the transport and the done channel of the current open
// cycle.
func (s *Session) active() (Transport, <-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if State(s.state.Load()) != StateOpen {
		return nil, nil, ErrClosed
	}
	return s.transport, s.done, nil
}

func (s *Session) State() State {
	st := State(s.state.Load())
	if st == StateOpen && s.buf.isClaimed() {
		return StateCommandInFlight
	}
	return st
}

func (s *Session) IsOpen() bool {
	st := State(s.state.Load())
	return st == StateOpen
}

// Site returns the site index events are tagged with.
func (s *Session) Site() int {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	return s.site
}

func (s *Session) Serial() string { return s.cfg.Serial }

// Device returns the resolved port path of the current open, or the
// configured name when closed.
func (s *Session) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.device != "" {
		return s.device
	}
	return s.cfg.Device
}

// Config returns a copy of the configuration the session was built with.
func (s *Session) Config() Config { return s.cfg }
