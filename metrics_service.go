package rs232

import "time"

// Metrics returns the live counters of the session.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// MetricsSnapshot assembles a snapshot with derived rates and a health
// assessment.
func (s *Session) MetricsSnapshot() MetricsSnapshot {
	m := s.metrics
	isConnected := s.IsOpen()

	snapshot := MetricsSnapshot{
		Timestamp:   time.Now(),
		Site:        s.Site(),
		Device:      s.Device(),
		IsConnected: isConnected,

		Commands:           m.Commands.Load(),
		CommandTimeouts:    m.CommandTimeouts.Load(),
		CommandFailures:    m.CommandFailures.Load(),
		CommandsRejected:   m.CommandsRejected.Load(),
		AverageCommandTime: m.averageCommandTime(),
		MaxCommandTime:     time.Duration(m.MaxCommandTime.Load()),
		TimeoutRate:        m.timeoutRate(),
		ErrorRate:          m.errorRate(),

		BytesSent:     m.BytesSent.Load(),
		BytesReceived: m.BytesReceived.Load(),
		WriteErrors:   m.WriteErrors.Load(),

		Detections:       m.Detections.Load(),
		DetectTimeouts:   m.DetectTimeouts.Load(),
		EventsDispatched: m.EventsDispatched.Load(),
		StopRequests:     m.StopRequests.Load(),
		TransportErrors:  m.TransportErrors.Load(),

		ConsecutiveFailures: m.ConsecutiveFailures.Load(),
		UptimeSeconds:       m.uptime(isConnected),
	}
	snapshot.HealthStatus = assessHealthStatus(&snapshot)
	snapshot.HealthScore = calculateHealthScore(&snapshot)
	return snapshot
}

// ResetMetrics zeroes the counters (useful for testing).
func (s *Session) ResetMetrics() {
	m := s.metrics
	for _, c := range []interface{ Store(int64) }{
		&m.OpenAttempts, &m.Opens, &m.OpenFailures, &m.Closes,
		&m.Commands, &m.CommandTimeouts, &m.CommandFailures, &m.CommandsRejected,
		&m.TotalCommandTime, &m.MaxCommandTime,
		&m.Writes, &m.WriteErrors, &m.BytesSent, &m.BytesReceived,
		&m.Detections, &m.DetectTimeouts, &m.EventsDispatched, &m.StopRequests,
		&m.TransportErrors, &m.ConsecutiveFailures, &m.LastErrorTime,
	} {
		c.Store(0)
	}
}

// StartMetricsBroadcasting returns a running broadcaster for this session.
// The caller stops it.
func (s *Session) StartMetricsBroadcasting(interval time.Duration) *MetricsBroadcaster {
	mb := NewMetricsBroadcaster(0, interval)
	mb.Start(s)
	return mb
}
