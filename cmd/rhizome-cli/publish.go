package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
)

func newPublishCommand() *cobra.Command {
	var (
		address  string
		argsJSON string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to an address",
		Long: `Publish a message to an address. Arguments are a JSON array; whole numbers
are sent as int32, other numbers as float64, and {"blob": "<base64>"} as a blob.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, address, argsJSON)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Address to publish to (required)")
	cmd.Flags().StringVar(&argsJSON, "args-json", "[]", "Message arguments as a JSON array")
	if err := cmd.MarkFlagRequired("address"); err != nil {
		panic(fmt.Sprintf("Failed to mark address as required: %v", err))
	}

	return cmd
}

func runPublish(cmd *cobra.Command, address, argsJSON string) error {
	msgArgs, err := parseArgsJSON(argsJSON)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := ensureAuthenticated(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Publishing to '%s'...\n", address)

	response, err := client.Publish(ctx, address, msgArgs...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Message published!\n")
	fmt.Fprintf(out, "Delivered: %d\n", response.Delivered)
	fmt.Fprintf(out, "Failed: %d\n", response.Failed)
	fmt.Fprintf(out, "Timestamp: %s\n", response.Timestamp.Format("2006-01-02 15:04:05"))

	return nil
}

// parseArgsJSON decodes a JSON array into typed message arguments
func parseArgsJSON(argsJSON string) ([]any, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(argsJSON)))
	decoder.UseNumber()

	var raw []any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON args: %w", err)
	}

	msgArgs, err := envelope.DecodeArgs(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON args: %w", err)
	}
	return msgArgs, nil
}
