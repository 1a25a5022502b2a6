// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carabiner-dev/command"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/client/credentials"
	"github.com/carabiner-dev/podauth/pkg/client/oauth"
)

var _ command.OptionsSet = (*WhoamiOptions)(nil)

type WhoamiOptions struct {
	BundleReadOptions
	JSON bool
}

var defaultWhoamiOptions = WhoamiOptions{}

func (wo *WhoamiOptions) Validate() error {
	return wo.BundleReadOptions.Validate()
}

func (wo *WhoamiOptions) AddFlags(cmd *cobra.Command) {
	wo.BundleReadOptions.AddFlags(cmd)
	cmd.PersistentFlags().BoolVar(&wo.JSON, "json", false, "Output in JSON format")
}

func (wo *WhoamiOptions) Config() *command.OptionsSetConfig {
	return nil
}

// Identity is what whoami reports about a stored session
type Identity struct {
	WebID     string   `json:"web_id"`
	Subject   string   `json:"sub,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	ClientID  string   `json:"client_id"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	Scope     string   `json:"scope,omitempty"`
}

func AddWhoami(parent *cobra.Command) {
	opts := defaultWhoamiOptions

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Display the identity of the stored session",
		Long: `Displays the WebID and id token claims of the stored auth data.

Examples:
  # Show the default session identity
  podauth whoami

  # Show the identity for a specific issuer
  podauth whoami --issuer https://solidcommunity.net/

  # Output as JSON
  podauth whoami --json`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), &opts, credentials.DefaultSessions(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	opts.AddFlags(cmd)
	parent.AddCommand(cmd)
}

func runWhoami(ctx context.Context, opts *WhoamiOptions, sessions *credentials.Sessions, stdin io.Reader, out io.Writer) error {
	b, _, err := opts.ReadBundle(ctx, stdin, sessions)
	if err != nil {
		return err
	}

	id := &Identity{
		WebID:    b.WebID,
		ClientID: b.AuthResponse.ClientID,
	}
	if b.AuthResponse.Token.Scope != nil {
		id.Scope = *b.AuthResponse.Token.Scope
	}
	if tok := b.IDToken(); tok != "" {
		if err := id.fillClaims(tok); err != nil {
			return fmt.Errorf("parsing id token: %w", err)
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(id)
	}

	fmt.Fprintf(out, "WebID:      %s\n", id.WebID)
	if id.Subject != "" && id.Subject != id.WebID {
		fmt.Fprintf(out, "Subject:    %s\n", id.Subject)
	}
	if id.Issuer != "" {
		fmt.Fprintf(out, "Issuer:     %s\n", id.Issuer)
	}
	fmt.Fprintf(out, "Client ID:  %s\n", id.ClientID)
	if len(id.Audience) > 0 {
		fmt.Fprintf(out, "Audience:   %s\n", strings.Join(id.Audience, ", "))
	}
	if id.Scope != "" {
		fmt.Fprintf(out, "Scope:      %s\n", id.Scope)
	}
	if id.ExpiresAt != 0 {
		exp := time.Unix(id.ExpiresAt, 0)
		fmt.Fprintf(out, "Expires:    %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
	}
	return nil
}

// solidClaims extends jwt.RegisteredClaims with the Solid WebID claim
type solidClaims struct {
	jwt.RegisteredClaims
	WebID string `json:"webid,omitempty"`
}

// fillClaims reads the id token claims without signature validation.
func (id *Identity) fillClaims(tokenString string) error {
	parser := jwt.NewParser(jwt.WithPaddingAllowed())
	token, _, err := parser.ParseUnverified(tokenString, &solidClaims{})
	if err != nil {
		return fmt.Errorf("parsing JWT: %w", err)
	}

	claims, ok := token.Claims.(*solidClaims)
	if !ok {
		return fmt.Errorf("invalid claims type")
	}

	id.Subject = claims.Subject
	id.Issuer = claims.Issuer
	id.Audience = claims.Audience
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Unix()
	}
	if id.WebID == "" {
		if subject, ok := oauth.ExtractSubject(tokenString); ok {
			id.WebID = subject
		}
	}
	return nil
}
