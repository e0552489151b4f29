package rs232

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultQuietPeriod is the reply grace interval used by WriteReadString
// when no detect string is configured.
const DefaultQuietPeriod = 30 * time.Millisecond

// Config describes one serial line of the fixture. It is passed explicitly
// to NewSession; nothing is looked up globally.
type Config struct {
	// Device is a tty path (/dev/ttyUSB0, COM3), "usb:VID:PID[:SERIAL]" or
	// "product:<USB product string>".
	Device string `mapstructure:"device" validate:"required"`

	// LineOptions is the "baud,databits,parity,stopbits" descriptor.
	LineOptions string `mapstructure:"line_options"`

	Site   int    `mapstructure:"site" validate:"gte=0"`
	Serial string `mapstructure:"serial"`

	DetectToken string `mapstructure:"detect_token"`
	StartFlag   string `mapstructure:"start_flag"`
	Terminator  string `mapstructure:"terminator" validate:"max=4"`

	QuietPeriod   time.Duration `mapstructure:"quiet_period" validate:"gte=0"`
	ClearOnDetect bool          `mapstructure:"clear_on_detect"`

	// Initial modem output bits. Nil leaves the driver default (asserted).
	DTR *bool `mapstructure:"dtr"`
	RTS *bool `mapstructure:"rts"`
}

// DefaultConfig returns a configuration with the fixture defaults filled in.
func DefaultConfig() Config {
	return Config{
		LineOptions: DefaultLineOptions,
		QuietPeriod: DefaultQuietPeriod,
	}
}

func (c *Config) applyDefaults() {
	if c.LineOptions == "" {
		c.LineOptions = DefaultLineOptions
	}
	if c.QuietPeriod == 0 {
		c.QuietPeriod = DefaultQuietPeriod
	}
}

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger sets the logger used by the session. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithTransport replaces the go.bug.st/serial transport.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithMetrics makes the session record into m instead of its own counters,
// so several sessions can share one set.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}
