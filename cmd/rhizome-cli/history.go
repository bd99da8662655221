package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		address string
		offset  int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Read recent messages of an address",
		Long: `Read the recent messages the server retains for one exact address,
starting at an offset. Messages published below the address are not included.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, address, offset, limit)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Address to read (required)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Offset to start reading from")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of messages (0 = server default)")
	if err := cmd.MarkFlagRequired("address"); err != nil {
		panic(fmt.Sprintf("Failed to mark address as required: %v", err))
	}

	return cmd
}

func runHistory(cmd *cobra.Command, address string, offset int64, limit int) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := ensureAuthenticated(ctx); err != nil {
		return err
	}

	response, err := client.ReadHistory(ctx, address, offset, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(response.Messages) == 0 {
		fmt.Fprintf(out, "No messages at %s from offset %d (end offset %d)\n", address, offset, response.EndOffset)
		return nil
	}

	first, last := response.Messages[0].Offset, response.Messages[len(response.Messages)-1].Offset
	fmt.Fprintf(out, "📜 %d message(s) at %s, offsets %d to %d:\n\n", response.Count, address, first, last)
	for _, record := range response.Messages {
		fmt.Fprintf(out, "#%d %s [%s] %s\n",
			record.Offset,
			record.Timestamp.Format("2006-01-02 15:04:05.000"),
			record.Source,
			formatArgs(record.Args))
	}

	return nil
}
