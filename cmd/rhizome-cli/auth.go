package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the rhizome server",
		Long: `Authenticate with the rhizome server using your client ID, and the admin
secret when you need admin commands. Prints a JWT token that can be passed
to later commands with --token.`,
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	if err := client.Authenticate(ctx); err != nil {
		return err
	}

	issued := client.GetToken()
	fmt.Fprintf(out, "✅ Authentication successful!\n")
	fmt.Fprintf(out, "Admin: %t\n", client.IsAdmin())
	fmt.Fprintf(out, "Token: %s\n", issued)
	fmt.Fprintf(out, "\nYou can now save this token for future use:\n")
	fmt.Fprintf(out, "  export RHIZOME_TOKEN=\"%s\"\n", issued)
	fmt.Fprintf(out, "  rhizome-cli --token \"$RHIZOME_TOKEN\" publish --address /bla --args-json '[1, \"hello\"]'\n")

	return nil
}
