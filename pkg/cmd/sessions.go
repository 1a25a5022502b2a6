// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/client/credentials"
)

// AddSessions registers the sessions command and its subcommands.
func AddSessions(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage per-issuer auth data sessions",
		Long: `Each issuer gets its own session directory holding its auth data bundle.
A sessions.json file tracks which session belongs to which issuer and which
one is the default.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(credentials.DefaultSessions(), cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(credentials.DefaultSessions(), cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "use ISSUER",
		Short: "Make the session of ISSUER the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer := issuerURL(args[0])
			if err := credentials.DefaultSessions().SetDefault(issuer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Default session is now %s\n", issuer)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm ISSUER",
		Short: "Delete the session of ISSUER and its auth data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer := issuerURL(args[0])
			if err := credentials.DefaultSessions().Remove(issuer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Session for %s deleted\n", issuer)
			return nil
		},
	})

	parent.AddCommand(cmd)
}

func listSessions(sessions *credentials.Sessions, out io.Writer) error {
	list, def, err := sessions.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No sessions (run 'podauth generate' first)")
		return nil
	}

	issuers := make([]string, 0, len(list))
	for issuer := range list {
		issuers = append(issuers, issuer)
	}
	sort.Strings(issuers)

	for _, issuer := range issuers {
		s := list[issuer]
		marker := " "
		if issuer == def {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, issuer)
		fmt.Fprintf(out, "    dir:     %s\n", filepath.Join(sessions.Root, s.Dir))
		fmt.Fprintf(out, "    created: %s\n", s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
