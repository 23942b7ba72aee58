package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/damio-kids/admin-console/internal/auth"
)

func newInspectTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-token [token|-]",
		Short: "Decode a backend credential's subject and expiry without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if raw == "-" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				raw = line
			}
			cred, err := auth.DecodeCredential(strings.TrimSpace(raw))
			if err != nil {
				return err
			}

			now := time.Now()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject:    %s\n", cred.Subject)
			fmt.Fprintf(out, "expires at: %s\n", cred.ExpiresAt.UTC().Format(time.RFC3339))
			if cred.Expired(now) {
				fmt.Fprintf(out, "status:     expired %s ago\n", now.Sub(cred.ExpiresAt).Truncate(time.Second))
				return nil
			}
			fmt.Fprintf(out, "status:     valid for %s\n", cred.ExpiresAt.Sub(now).Truncate(time.Second))
			return nil
		},
	}
}
