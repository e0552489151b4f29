package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Station-Manager/rs232/fixture"
	"github.com/Station-Manager/rs232/internal/logging"
)

var (
	cfgFile    string
	configRead bool

	logger    = zerolog.Nop()
	logCloser io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fixturectl",
	Short: "Drive the RS-232 sites of a test fixture",
	Long: `fixturectl opens the sites described by a fixture file and talks to
them over their serial lines.

The fixture file (yaml, json or toml) is looked up as ./fixture.yaml or
/etc/fixture/fixture.yaml unless --config is given. Any key can be
overridden from the environment with the FIXTURE_ prefix, for example
FIXTURE_COMMAND_TIMEOUT=5s.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfig(); err != nil {
			return err
		}
		l, closer, err := logging.New(logging.Config{
			Level:      viper.GetString("log.level"),
			Format:     viper.GetString("log.format"),
			NoColor:    viper.GetBool("log.no_color"),
			File:       viper.GetString("log.file"),
			MaxSizeMB:  viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAgeDays: viper.GetInt("log.max_age_days"),
			Compress:   viper.GetBool("log.compress"),
		})
		if err != nil {
			return err
		}
		logger, logCloser = l, closer
		if configRead {
			logger.Debug().Str("file", viper.ConfigFileUsed()).Msg("config loaded")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "fixture file (default ./fixture.yaml)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "console", "stderr log format: console or json")
	pf.String("log-file", "", "also write JSON logs to this rotated file")

	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("log.file", pf.Lookup("log-file"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/fixture")
		viper.SetConfigName("fixture")
	}
	viper.SetEnvPrefix("FIXTURE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	fixture.SetDefaults(viper.GetViper())
}

// readConfig loads the fixture file. A missing file is only an error when
// it was named on the command line; commands that need sites check again.
func readConfig() error {
	err := viper.ReadInConfig()
	if err == nil {
		configRead = true
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("reading fixture config: %w", err)
}

// openFixture decodes the fixture file and opens every site.
func openFixture() (*fixture.Controller, error) {
	if !configRead {
		return nil, errors.New("no fixture file found, use --config")
	}
	cfg, err := fixture.Decode(viper.GetViper())
	if err != nil {
		return nil, err
	}
	c, err := fixture.New(cfg, fixture.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := c.Open(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseSite(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid site %q", arg)
	}
	return id, nil
}
