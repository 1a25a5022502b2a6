// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/cmd"
	"github.com/carabiner-dev/podauth/pkg/logging"
)

var version = "dev" // Set via ldflags during build

func main() {
	rootCmd := &cobra.Command{
		Use:   "podauth",
		Short: "Automated Solid OIDC login for test harnesses",
		Long: `podauth drives a browser through the OAuth 2.0 Authorization Code + PKCE
login of a Solid identity provider and stores the resulting tokens, together
with a DPoP key pair, as a complete auth data bundle.

Test harnesses load the bundle to start from an authenticated session. The
bundle is regenerated when its tokens expire within a minute.`,
		SilenceErrors: true,
	}

	// Add commands
	cmd.AddLogging(rootCmd)
	cmd.AddGenerate(rootCmd)
	cmd.AddSetup(rootCmd)
	cmd.AddStatus(rootCmd)
	cmd.AddWhoami(rootCmd)
	cmd.AddProof(rootCmd)
	cmd.AddClear(rootCmd)
	cmd.AddSessions(rootCmd)
	addVersion(rootCmd)

	// The browser is closed through context cancellation on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addVersion(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("podauth version %s\n", version)
		},
	})
}
