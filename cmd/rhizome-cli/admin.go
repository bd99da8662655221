package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newSubscriptionsCommand() *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List or clear all subscriptions (admin)",
		Long: `List every (address, connection) subscription on the server, or remove
all of them with --clear. Requires an admin token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearAll {
				return runClearSubscriptions(cmd)
			}
			return runListSubscriptions(cmd)
		},
	}

	cmd.Flags().BoolVar(&clearAll, "clear", false, "Remove every subscription of every connection")

	return cmd
}

func runListSubscriptions(cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := ensureAuthenticated(ctx); err != nil {
		return err
	}

	response, err := client.AdminListSubscriptions(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(response.Subscriptions) == 0 {
		fmt.Fprintln(out, "No subscriptions")
		return nil
	}

	fmt.Fprintf(out, "Found %d subscription(s):\n\n", len(response.Subscriptions))
	for i, sub := range response.Subscriptions {
		fmt.Fprintf(out, "%d. %s -> %s (%s)\n", i+1, sub.Address, sub.ConnectionID, sub.Kind)
	}

	return nil
}

func runClearSubscriptions(cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := ensureAuthenticated(ctx); err != nil {
		return err
	}
	if err := client.AdminClearSubscriptions(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✅ All subscriptions cleared")
	return nil
}

func newConnectionsCommand() *cobra.Command {
	var disconnect string

	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List connections or disconnect one (admin)",
		Long: `List every connection the server tracks, or drop one with --disconnect ID.
Disconnecting removes the connection's subscriptions and blob pairing.
Requires an admin token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if disconnect != "" {
				return runDisconnect(cmd, disconnect)
			}
			return runListConnections(cmd)
		},
	}

	cmd.Flags().StringVar(&disconnect, "disconnect", "", "ID of the connection to disconnect")

	return cmd
}

func runListConnections(cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := ensureAuthenticated(ctx); err != nil {
		return err
	}

	response, err := client.AdminListConnections(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(response.Connections) == 0 {
		fmt.Fprintln(out, "No connections")
		return nil
	}

	fmt.Fprintf(out, "Found %d connection(s):\n\n", len(response.Connections))
	for i, conn := range response.Connections {
		fmt.Fprintf(out, "%d. %s (%s)\n", i+1, conn.ID, conn.Kind)
		fmt.Fprintf(out, "   Connected At: %s\n", conn.ConnectedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "   Subscribed: %t\n", conn.Subscribed)
		if conn.BlobPort != 0 {
			fmt.Fprintf(out, "   Blob Port: %d\n", conn.BlobPort)
		}
	}

	return nil
}

func runDisconnect(cmd *cobra.Command, connectionID string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := ensureAuthenticated(ctx); err != nil {
		return err
	}
	if err := client.AdminDisconnect(ctx, connectionID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Disconnected %s\n", connectionID)
	return nil
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show system statistics (admin)",
		Long:  "Display connection, subscription and history statistics of the rhizome server",
		RunE:  runStats,
	}

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := ensureAuthenticated(ctx); err != nil {
		return err
	}

	response, err := client.AdminGetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📊 rhizome node %s (up %.0fs)\n\n", response.NodeID, response.UptimeSeconds)
	fmt.Fprintf(out, "Connections: %d\n", response.Connections)

	kinds := make([]string, 0, len(response.ConnectionsByKind))
	for kind := range response.ConnectionsByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(out, "  %s: %d\n", kind, response.ConnectionsByKind[kind])
	}

	fmt.Fprintf(out, "Subscriptions: %d\n", response.Subscriptions)
	fmt.Fprintf(out, "Subscribed Addresses: %d\n", response.Addresses)
	fmt.Fprintf(out, "Subscribers: %d\n", response.Subscribers)
	fmt.Fprintf(out, "Blob Pairings: %d\n", response.BlobPairings)
	fmt.Fprintf(out, "Retained Messages: %d across %d address(es)\n", response.History.TotalEntries, response.History.AddressCount)

	return nil
}
