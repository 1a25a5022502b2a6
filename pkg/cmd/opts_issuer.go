// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/client/config"
)

var _ command.OptionsSet = (*IssuerOptions)(nil)

var defaultIssuerOptions = IssuerOptions{}

// IssuerOptions select the identity provider and the redirect port.
type IssuerOptions struct {
	Issuer string
	Port   int
}

func (so *IssuerOptions) Config() *command.OptionsSetConfig {
	return nil
}

func (so *IssuerOptions) Validate() error {
	if so.Port < 0 || so.Port > 65535 {
		return fmt.Errorf("invalid redirect port %d", so.Port)
	}
	return nil
}

func (so *IssuerOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&so.Issuer, "issuer", defaultIssuerOptions.Issuer, "identity provider URL or preset name (solidcommunity.au, solidcommunity.net, inrupt)")
	cmd.PersistentFlags().IntVar(&so.Port, "port", defaultIssuerOptions.Port, fmt.Sprintf("local redirect port (default %d)", config.DefaultPort))
}

// Apply overrides the configuration with the flags that were set.
func (so *IssuerOptions) Apply(cfg *config.ProviderConfig) {
	if so.Issuer != "" {
		cfg.Issuer = so.Issuer
	}
	if so.Port != 0 {
		cfg.Port = so.Port
	}
}
