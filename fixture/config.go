package fixture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Station-Manager/rs232"
	"github.com/Station-Manager/rs232/internal/logging"
)

// Well known actions of the fixture command table.
const (
	ActionInit            = "init"
	ActionReset           = "reset"
	ActionUSBPowerOn      = "usb_power_on"
	ActionUSBPowerOff     = "usb_power_off"
	ActionBatteryPowerOn  = "battery_power_on"
	ActionBatteryPowerOff = "battery_power_off"
	ActionUSBSignalOn     = "usb_signal_on"
	ActionUSBSignalOff    = "usb_signal_off"
	ActionUARTSignalOn    = "uart_signal_on"
	ActionUARTSignalOff   = "uart_signal_off"
	ActionDUTPowerOn      = "dut_power_on"
	ActionDUTPowerOff     = "dut_power_off"
	ActionForceDFUOn      = "force_dfu_on"
	ActionForceDFUOff     = "force_dfu_off"
	ActionForceDiagsOn    = "force_diags_on"
	ActionForceDiagsOff   = "force_diags_off"
)

// LED states understood by SetLED. The command table holds them as
// "led_state_<state>".
const (
	LEDOff       = "off"
	LEDPass      = "pass"
	LEDFail      = "fail"
	LEDInProcess = "inprocess"
	LEDFailGoFA  = "fail_goto_fa"
	LEDPanic     = "panic"
)

const (
	DefaultCommandTimeout = 3 * time.Second
	DefaultEventBuffer    = 64
)

// Config is the fixture description: its identity, one entry per site and
// the command table mapping actions to the text sent on the line.
type Config struct {
	Vendor  string `mapstructure:"vendor"`
	Serial  string `mapstructure:"serial_number"`
	Version string `mapstructure:"version"`

	Log logging.Config `mapstructure:"log"`

	Sites    []SiteConfig      `mapstructure:"sites" validate:"required,min=1,dive"`
	Commands map[string]string `mapstructure:"commands"`

	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gte=0"`
	EventBuffer    int           `mapstructure:"event_buffer" validate:"gte=0"`
}

// SiteConfig is one slot of the fixture.
type SiteConfig struct {
	rs232.Config `mapstructure:",squash"`

	// Commands override entries of the fixture command table for this site.
	Commands map[string]string `mapstructure:"commands"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads a fixture description. The format follows the file
// extension (yaml, json, toml). Every key can be overridden from the
// environment with the FIXTURE_ prefix, e.g. FIXTURE_COMMAND_TIMEOUT=5s.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FIXTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading fixture config: %w", err)
	}
	return Decode(v)
}

// SetDefaults registers the fixture defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("command_timeout", DefaultCommandTimeout)
	v.SetDefault("event_buffer", DefaultEventBuffer)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding fixture config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	for i := range c.Sites {
		sc := &c.Sites[i].Config
		if sc.LineOptions == "" {
			sc.LineOptions = rs232.DefaultLineOptions
		}
		if sc.QuietPeriod == 0 {
			sc.QuietPeriod = rs232.DefaultQuietPeriod
		}
	}
}

// Validate checks the fixture as a whole and every site.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid fixture config: %w", err)
	}

	var errs []error
	seen := make(map[int]bool, len(c.Sites))
	for i := range c.Sites {
		sc := &c.Sites[i].Config
		if err := rs232.ValidateConfig(sc); err != nil {
			errs = append(errs, fmt.Errorf("site %d: %w", sc.Site, err))
		}
		if seen[sc.Site] {
			errs = append(errs, fmt.Errorf("site %d defined twice", sc.Site))
		}
		seen[sc.Site] = true
	}
	return errors.Join(errs...)
}

// command resolves action for site, site overrides first.
func (c *Config) command(site SiteConfig, action string) (string, bool) {
	if cmd, ok := site.Commands[action]; ok {
		return cmd, true
	}
	cmd, ok := c.Commands[action]
	return cmd, ok
}
