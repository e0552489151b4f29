package rs232

import (
	"bytes"
	"fmt"
	"time"
)

// EventType classifies unsolicited traffic from the device.
type EventType int

const (
	// EventData is unsolicited data with no known marker.
	EventData EventType = iota
	// EventDetected means the detect string arrived while idle.
	EventDetected
	// EventStart means the start flag arrived, e.g. the operator pressed
	// the fixture start button.
	EventStart
	// EventTransportError reports that the receive path failed and stopped.
	EventTransportError
)

func (t EventType) String() string {
	switch t {
	case EventData:
		return "data"
	case EventDetected:
		return "detected"
	case EventStart:
		return "start"
	case EventTransportError:
		return "transport-error"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Event is delivered to the registered EventHandler.
type Event struct {
	Serial string    `json:"serial"`
	Site   int       `json:"site"`
	Type   EventType `json:"type"`
	Data   []byte    `json:"data,omitempty"`
	Err    error     `json:"-"`
	Time   time.Time `json:"time"`
}

// EventHandler runs on the receive goroutine. It must return promptly and
// must not call Close on the session that raised the event.
type EventHandler func(Event)

// StopHandler is called once per stop request.
type StopHandler func()

// SetEventHandler registers h for events of this session, tagged with site.
// The last registration wins; nil unregisters.
func (s *Session) SetEventHandler(site int, h EventHandler) {
	s.cbMu.Lock()
	s.site = site
	s.onEvent = h
	s.cbMu.Unlock()
}

// SetStopHandler registers h as the stop notification. Nil unregisters.
func (s *Session) SetStopHandler(h StopHandler) {
	s.cbMu.Lock()
	s.onStop = h
	s.cbMu.Unlock()
}

// Stop raises a stop request. The stop handler runs once per request; a
// request stays pending until the session is opened again.
func (s *Session) Stop() bool {
	return s.notifyStop("requested")
}

// StopRequested reports whether a stop request is pending.
func (s *Session) StopRequested() bool { return s.stopRequested.Load() }

func (s *Session) notifyStop(reason string) bool {
	if !s.stopRequested.CompareAndSwap(false, true) {
		return false
	}
	s.metrics.StopRequests.Inc()
	s.logger.Info().Str("reason", reason).Msg("stop")

	s.cbMu.RLock()
	h := s.onStop
	s.cbMu.RUnlock()
	if h != nil {
		h()
	}
	return true
}

// sessionReceiver is how the transport reaches the session.
type sessionReceiver struct{ s *Session }

func (r sessionReceiver) OnReceive(p []byte) { r.s.handleReceive(p) }

func (r sessionReceiver) OnError(err error) { r.s.handleTransportError(err) }

func (s *Session) handleReceive(p []byte) {
	s.metrics.BytesReceived.Add(int64(len(p)))

	token := s.DetectString()
	overlap := max(len(token), len(s.cfg.StartFlag)) - 1
	claimed, window := s.buf.append(p, max(overlap, 0))
	if claimed {
		s.logger.Trace().Int("len", len(p)).Msg("rx reply")
		return
	}
	s.logger.Debug().Str("rx", printable(p)).Msg("rx")
	s.dispatch(s.classify(window, len(p), token), p, nil)
}

func (s *Session) handleTransportError(err error) {
	s.metrics.TransportErrors.Inc()
	s.metrics.recordError()
	s.logger.Error().Err(err).Msg("receive path failed")
	s.dispatch(EventTransportError, nil, &TransportError{Op: "read", Err: err})
}

// classify inspects the window of an unclaimed chunk of length n. The start
// flag wins over the detect string.
func (s *Session) classify(window []byte, n int, token string) EventType {
	if arrived(window, n, s.cfg.StartFlag) {
		return EventStart
	}
	if arrived(window, n, token) {
		return EventDetected
	}
	return EventData
}

// arrived reports whether marker ends inside the last n bytes of window.
// Occurrences completed by earlier chunks were reported with those chunks.
func arrived(window []byte, n int, marker string) bool {
	if marker == "" {
		return false
	}
	start := max(len(window)-n-(len(marker)-1), 0)
	return bytes.Contains(window[start:], []byte(marker))
}

func (s *Session) dispatch(typ EventType, data []byte, err error) {
	s.cbMu.RLock()
	h, site := s.onEvent, s.site
	s.cbMu.RUnlock()
	if h == nil {
		return
	}
	s.metrics.EventsDispatched.Inc()
	h(Event{
		Serial: s.cfg.Serial,
		Site:   site,
		Type:   typ,
		Data:   bytes.Clone(data),
		Err:    err,
		Time:   time.Now(),
	})
}
