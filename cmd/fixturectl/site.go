package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Station-Manager/rs232"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <site> <text>",
	Short: "Send a command to a site and print the reply",
	Long: `Send text to one site and print what the site answers.

The site's terminator is appended when missing. The reply ends at the
site's detect token, or after the quiet period when none is configured.

Example usage:
  fixturectl send 0 "version"
  fixturectl send 1 "usb 1" --timeout 5s
  fixturectl send 0 "55 AA 01" --hex`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSite(args[0])
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		hex, _ := cmd.Flags().GetBool("hex")

		c, err := openFixture()
		if err != nil {
			return err
		}
		defer c.Close()

		if hex {
			s, err := c.Session(id)
			if err != nil {
				return err
			}
			s.ClearBuffer()
			if _, err := s.WriteHexString(args[1]); err != nil {
				return err
			}
			time.Sleep(s.Config().QuietPeriod)
			fmt.Println(s.ReadHexString())
			return nil
		}

		reply, err := c.Send(id, args[1], timeout)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <site|all> <action>",
	Short: "Run an action of the fixture command table",
	Long: `Run an action from the fixture command table, such as usb_power_on
or dut_power_off, on one site or on every site at once.

Example usage:
  fixturectl exec 0 usb_power_on
  fixturectl exec all reset`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openFixture()
		if err != nil {
			return err
		}
		defer c.Close()

		if args[0] == "all" {
			results := c.ExecAll(args[1])
			ids := make([]int, 0, len(results))
			for id := range results {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			var failed error
			for _, id := range ids {
				if err := results[id]; err != nil {
					fmt.Printf("site %d: %v\n", id, err)
					failed = errors.Join(failed, err)
					continue
				}
				fmt.Printf("site %d: ok\n", id)
			}
			return failed
		}

		id, err := parseSite(args[0])
		if err != nil {
			return err
		}
		reply, err := c.Exec(id, args[1])
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

// ledCmd represents the led command
var ledCmd = &cobra.Command{
	Use:       "led <site> <state>",
	Short:     "Set the LED of a site",
	ValidArgs: []string{"off", "pass", "fail", "inprocess", "fail_goto_fa", "panic"},
	Args:      cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSite(args[0])
		if err != nil {
			return err
		}
		c, err := openFixture()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.SetLED(id, args[1])
	},
}

// waitCmd represents the wait command
var waitCmd = &cobra.Command{
	Use:   "wait <site> <token>",
	Short: "Wait until a site prints a token",
	Long: `Wait until the given token shows up in the output of a site, e.g. a
boot prompt. Exits non-zero on timeout.

Example usage:
  fixturectl wait 0 "login:" --timeout 30s`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSite(args[0])
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		c, err := openFixture()
		if err != nil {
			return err
		}
		defer c.Close()

		start := time.Now()
		if err := c.WaitDetect(id, args[1], timeout); err != nil {
			if rs232.IsTimeout(err) {
				return fmt.Errorf("site %d: %q not seen within %s", id, args[1], timeout)
			}
			return err
		}
		fmt.Printf("site %d: %q after %s\n", id, args[1], time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd, execCmd, ledCmd, waitCmd)

	sendCmd.Flags().DurationP("timeout", "t", 3*time.Second, "reply timeout")
	sendCmd.Flags().Bool("hex", false, "text is hex bytes; print the raw answer as hex")
	waitCmd.Flags().DurationP("timeout", "t", 10*time.Second, "how long to wait")
}
