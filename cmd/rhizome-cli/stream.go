package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/httpclient"
)

func newStreamCommand() *cobra.Command {
	var (
		address     string
		offset      int64
		bufferSize  int
		maxMessages int
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream messages published at or below an address",
		Long: `Stream messages in real-time using Server-Sent Events. The stream is
subscribed at --address, so every message published at that address or any
address below it is printed. With --offset, retained history of the exact
address is replayed first. Press Ctrl+C to stop streaming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, address, offset, bufferSize, maxMessages)
		},
	}

	cmd.Flags().StringVar(&address, "address", "/", "Address to subscribe at")
	cmd.Flags().Int64Var(&offset, "offset", -1, "Replay history from this offset before live messages (-1 disables replay)")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Message buffer size")
	cmd.Flags().IntVar(&maxMessages, "max-messages", 0, "Stop after this many messages (0 = unlimited)")

	return cmd
}

func runStream(cmd *cobra.Command, address string, offset int64, bufferSize, maxMessages int) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	authCtx, authCancel := context.WithTimeout(ctx, timeout)
	err := ensureAuthenticated(authCtx)
	authCancel()
	if err != nil {
		return err
	}

	config := httpclient.StreamConfig{
		Address:    address,
		BufferSize: bufferSize,
	}
	if offset >= 0 {
		config.ReplayFrom = &offset
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🌊 Streaming %s from %s...\n", address, serverURL)
	fmt.Fprintln(out, "Press Ctrl+C to stop streaming")

	streamClient, err := client.Stream(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer streamClient.Close()

	errs := streamClient.Errors()
	count := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n✅ Stream stopped. Received %d messages.\n", count)
			return nil

		case msg, ok := <-streamClient.Messages():
			if !ok {
				fmt.Fprintf(out, "\n🔌 Stream closed. Received %d messages.\n", count)
				return nil
			}

			count++
			printMessage(out, msg)
			if maxMessages > 0 && count >= maxMessages {
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Errors are non-fatal while the client reconnects
			fmt.Fprintf(out, "❌ Stream error: %v\n", err)

		case <-streamClient.Done():
			fmt.Fprintf(out, "\n🔌 Stream finished. Received %d messages.\n", count)
			return nil
		}
	}
}

func printMessage(out io.Writer, msg httpclient.StreamMessage) {
	prefix := "📨"
	if msg.Offset != nil {
		prefix = fmt.Sprintf("📜 #%d", *msg.Offset)
	}
	fmt.Fprintf(out, "%s %s %s %s\n", prefix, msg.Timestamp.Format("15:04:05.000"), msg.Address, formatArgs(msg.Args))
}

// formatArgs renders message arguments on one line. Blobs show their size.
func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case []byte:
			parts[i] = fmt.Sprintf("blob(%d bytes)", len(v))
		case string:
			parts[i] = strconv.Quote(v)
		case map[string]any:
			if b, ok := v["blob"].(string); ok {
				parts[i] = fmt.Sprintf("blob(%d base64 chars)", len(b))
				continue
			}
			parts[i] = fmt.Sprint(v)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
