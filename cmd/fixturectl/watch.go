package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Station-Manager/rs232"
	"github.com/Station-Manager/rs232/fixture"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print site events until interrupted",
	Long: `Open every site and print its unsolicited output, detections and
operator start requests as they arrive.

Ctrl-C raises a stop request on every site, then closes the fixture. With
--metrics-interval the per-site metrics are printed periodically as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		interval, _ := cmd.Flags().GetDuration("metrics-interval")

		c, err := openFixture()
		if err != nil {
			return err
		}
		defer c.Close()

		var metrics chan rs232.MetricsSnapshot
		if interval > 0 {
			metrics = make(chan rs232.MetricsSnapshot, len(c.Sites()))
			done := make(chan struct{})
			defer close(done)
			for _, id := range c.Sites() {
				s, _ := c.Session(id)
				mb := s.StartMetricsBroadcasting(interval)
				defer mb.Stop()
				go forward(mb.C(), metrics, done)
			}
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		enc := json.NewEncoder(os.Stdout)
		for {
			select {
			case ev := <-c.Events():
				if asJSON {
					if err := enc.Encode(ev); err != nil {
						return err
					}
					continue
				}
				printEvent(ev)
			case snap := <-metrics:
				if asJSON {
					if err := enc.Encode(snap); err != nil {
						return err
					}
					continue
				}
				printMetrics(snap)
			case sig := <-sigs:
				logger.Info().Str("signal", sig.String()).Msg("aborting")
				c.Abort()
				if n := c.Dropped(); n > 0 {
					logger.Warn().Int64("dropped", n).Msg("events lost")
				}
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Bool("json", false, "print events and metrics as JSON lines")
	watchCmd.Flags().Duration("metrics-interval", 0, "print site metrics at this interval (0 disables)")
}

func forward(in <-chan rs232.MetricsSnapshot, out chan<- rs232.MetricsSnapshot, done <-chan struct{}) {
	for {
		select {
		case snap := <-in:
			select {
			case out <- snap:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

var eventStyles = map[rs232.EventType]lipgloss.Style{
	rs232.EventData:           lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
	rs232.EventDetected:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	rs232.EventStart:          lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	rs232.EventTransportError: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
}

func printEvent(ev fixture.SiteEvent) {
	label := eventStyles[ev.Type].Render(fmt.Sprintf("%-9s", ev.Type))
	body := strconv.Quote(string(ev.Data))
	if ev.Err != nil {
		body = ev.Err.Error()
	}
	fmt.Printf("%s site %d %-12s %s %s\n", ev.Time.Format(time.TimeOnly), ev.Site, ev.Serial, label, body)
}

func printMetrics(m rs232.MetricsSnapshot) {
	fmt.Printf("site %d %s: %s score=%.0f cmds=%d timeouts=%d rx=%dB tx=%dB events=%d\n",
		m.Site, m.Device, m.HealthStatus, m.HealthScore,
		m.Commands, m.CommandTimeouts, m.BytesReceived, m.BytesSent, m.EventsDispatched)
}
