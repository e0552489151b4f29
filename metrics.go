package rs232

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Metrics tracks serial session health statistics
type Metrics struct {
	// Connection Statistics
	OpenAttempts        atomic.Int64 // Total Open calls on a closed session
	Opens               atomic.Int64 // Successful opens
	OpenFailures        atomic.Int64 // Failed opens
	Closes              atomic.Int64 // Completed closes
	ConnectionStartTime atomic.Int64 // When current connection started (ns), 0 when closed

	// Command channel
	Commands         atomic.Int64 // WriteReadString/Exec cycles
	CommandTimeouts  atomic.Int64 // Cycles that ended in ErrTimeout
	CommandFailures  atomic.Int64 // Cycles that failed otherwise
	CommandsRejected atomic.Int64 // TryWriteReadString calls refused
	TotalCommandTime atomic.Int64 // ns
	MaxCommandTime   atomic.Int64 // Slowest command (ns)

	// Raw I/O
	Writes        atomic.Int64
	WriteErrors   atomic.Int64
	BytesSent     atomic.Int64
	BytesReceived atomic.Int64

	// Detection and events
	Detections       atomic.Int64
	DetectTimeouts   atomic.Int64
	EventsDispatched atomic.Int64
	StopRequests     atomic.Int64
	TransportErrors  atomic.Int64

	// Health Indicators
	ConsecutiveFailures atomic.Int64 // Consecutive failed commands or writes
	LastErrorTime       atomic.Int64 // Unix timestamp of last error
}

// HealthStatus represents the overall health of serial communication
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time copy of a session's metrics.
type MetricsSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	Site        int       `json:"site"`
	Device      string    `json:"device"`
	IsConnected bool      `json:"is_connected"`

	Commands           int64         `json:"commands"`
	CommandTimeouts    int64         `json:"command_timeouts"`
	CommandFailures    int64         `json:"command_failures"`
	CommandsRejected   int64         `json:"commands_rejected"`
	AverageCommandTime time.Duration `json:"average_command_time"`
	MaxCommandTime     time.Duration `json:"max_command_time"`
	TimeoutRate        float64       `json:"timeout_rate"`
	ErrorRate          float64       `json:"error_rate"`

	BytesSent     int64 `json:"bytes_sent"`
	BytesReceived int64 `json:"bytes_received"`
	WriteErrors   int64 `json:"write_errors"`

	Detections       int64 `json:"detections"`
	DetectTimeouts   int64 `json:"detect_timeouts"`
	EventsDispatched int64 `json:"events_dispatched"`
	StopRequests     int64 `json:"stop_requests"`
	TransportErrors  int64 `json:"transport_errors"`

	ConsecutiveFailures int64        `json:"consecutive_failures"`
	UptimeSeconds       float64      `json:"uptime_seconds"`
	HealthStatus        HealthStatus `json:"health_status"`
	HealthScore         float64      `json:"health_score"`
}

// MetricsBroadcaster periodically pushes snapshots of one session to a
// channel.
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	enabled          atomic.Bool
	stopCh           chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once
}

func NewMetricsBroadcaster(channelSize int, interval time.Duration) *MetricsBroadcaster {
	if channelSize <= 0 {
		channelSize = 50
	}
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		stopCh:           make(chan struct{}),
		emissionInterval: interval,
	}
}

// Start begins broadcasting snapshots of s. It is a no-op when running.
func (mb *MetricsBroadcaster) Start(s *Session) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return
	}

	ticker := time.NewTicker(mb.emissionInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-mb.stopCh:
				return
			case <-ticker.C:
				mb.broadcast(s)
			}
		}
	}()
}

// Stop stops broadcasting. The channel is left open for draining.
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
		})
	}
}

// BroadcastImmediate sends a snapshot now.
func (mb *MetricsBroadcaster) BroadcastImmediate(s *Session) {
	mb.broadcast(s)
}

func (mb *MetricsBroadcaster) C() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcast(s *Session) {
	if !mb.enabled.Load() {
		return
	}
	// Non-blocking: a slow consumer loses snapshots, never the session.
	select {
	case mb.metricsChannel <- s.MetricsSnapshot():
	default:
	}
}

func (m *Metrics) recordWrite(n int, err error) {
	m.Writes.Inc()
	if n > 0 {
		m.BytesSent.Add(int64(n))
	}
	if err != nil {
		m.WriteErrors.Inc()
		m.recordError()
	}
}

func (m *Metrics) recordCommand(d time.Duration, err error) {
	m.Commands.Inc()
	m.TotalCommandTime.Add(d.Nanoseconds())
	for {
		current := m.MaxCommandTime.Load()
		if d.Nanoseconds() <= current {
			break
		}
		if m.MaxCommandTime.CompareAndSwap(current, d.Nanoseconds()) {
			break
		}
	}

	switch {
	case err == nil:
		m.ConsecutiveFailures.Store(0)
	case errors.Is(err, ErrTimeout):
		m.CommandTimeouts.Inc()
		m.recordError()
	case errors.Is(err, ErrClosed):
		// closing under a command is not a fault of the line
	default:
		m.CommandFailures.Inc()
		m.recordError()
	}
}

func (m *Metrics) recordError() {
	m.ConsecutiveFailures.Inc()
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *Metrics) averageCommandTime() time.Duration {
	n := m.Commands.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.TotalCommandTime.Load() / n)
}

func (m *Metrics) timeoutRate() float64 {
	n := m.Commands.Load()
	if n == 0 {
		return 0.0
	}
	return float64(m.CommandTimeouts.Load()) / float64(n) * 100
}

func (m *Metrics) errorRate() float64 {
	ops := m.Commands.Load() + m.Writes.Load()
	if ops == 0 {
		return 0.0
	}
	errs := m.CommandFailures.Load() + m.WriteErrors.Load() + m.TransportErrors.Load()
	return float64(errs) / float64(ops) * 100
}

func (m *Metrics) uptime(isConnected bool) float64 {
	start := m.ConnectionStartTime.Load()
	if !isConnected || start == 0 {
		return 0.0
	}
	d := time.Now().UnixNano() - start
	if d <= 0 {
		return 0.0
	}
	return float64(d) / float64(time.Second)
}

func assessHealthStatus(snapshot *MetricsSnapshot) HealthStatus {
	if !snapshot.IsConnected {
		return HealthStatusDown
	}

	if snapshot.ErrorRate > 50.0 || snapshot.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}

	if snapshot.ErrorRate > 10.0 || snapshot.TimeoutRate > 20.0 || snapshot.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func calculateHealthScore(snapshot *MetricsSnapshot) float64 {
	if !snapshot.IsConnected {
		return 0.0
	}

	score := 100.0
	score -= snapshot.ErrorRate * 2
	score -= snapshot.TimeoutRate
	// consecutive failures weigh more than rates
	score -= float64(snapshot.ConsecutiveFailures) * 10

	if score < 0 {
		score = 0
	}
	return score
}
