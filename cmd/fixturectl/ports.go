package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Station-Manager/rs232"
)

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports of this host",
	Long: `List the serial ports of this host with their USB identity.

The VID, PID and serial number columns are what a fixture file can name
instead of a tty path, e.g. "usb:0403:6011@2" for the third port of an FTDI
quad adapter.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := rs232.ListPorts()
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ports)
		}

		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		renderPorts(ports)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().Bool("json", false, "print the port list as JSON")
}

// renderPorts prints the port list as a styled table
func renderPorts(ports []rs232.PortInfo) {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	const row = "%-22s %-6s %-6s %-16s %s"
	fmt.Println(headerStyle.Render(fmt.Sprintf(row, "Port", "VID", "PID", "Serial", "Product")))
	for _, p := range ports {
		line := fmt.Sprintf(row, p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
		if !p.IsUSB {
			line = dim.Render(line)
		}
		fmt.Println(line)
	}
}
