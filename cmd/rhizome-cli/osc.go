package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"
)

func newOSCCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "osc",
		Short: "Send raw OSC messages",
		Long:  "Commands that talk OSC over UDP directly, bypassing the HTTP API",
		// OSC commands need no HTTP client
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}

	cmd.AddCommand(newOSCSendCommand())

	return cmd
}

func newOSCSendCommand() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "send ADDRESS [ARGS...]",
		Short: "Send one OSC message over UDP",
		Long: `Send one OSC message over UDP. Each argument is sent as an int32 if it
parses as an integer, as a float32 if it parses as a number, and as a string
otherwise. Control messages work too:

  rhizome-cli osc send --to localhost:9000 /sys/subscribe 9001 /bla`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOSCSend(cmd, to, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&to, "to", "localhost:9000", "host:port of the OSC server")

	return cmd
}

func runOSCSend(cmd *cobra.Command, to, address string, rawArgs []string) error {
	if !strings.HasPrefix(address, "/") {
		return fmt.Errorf("OSC address must start with /, got %q", address)
	}

	host, portStr, err := net.SplitHostPort(to)
	if err != nil {
		return fmt.Errorf("invalid --to %q: %w", to, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port in --to %q", to)
	}

	msg := goosc.NewMessage(address, parseOSCArgs(rawArgs)...)
	if err := goosc.NewClient(host, port).Send(msg); err != nil {
		return fmt.Errorf("failed to send OSC message: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "📤 Sent %s %s to %s\n", address, formatArgs(msg.Arguments), to)
	return nil
}

// parseOSCArgs types command-line arguments for OSC
func parseOSCArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			args[i] = int32(n)
			continue
		}
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			args[i] = float32(f)
			continue
		}
		args[i] = s
	}
	return args
}
