// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/logging"
)

var _ command.OptionsSet = (*LogOptions)(nil)

var defaultLogOptions = LogOptions{
	Level:  "warn",
	Format: "console",
}

// LogOptions control the process logger
type LogOptions struct {
	Level  string
	Format string
}

func (lo *LogOptions) Config() *command.OptionsSetConfig {
	return nil
}

func (lo *LogOptions) Validate() error {
	switch strings.ToLower(lo.Format) {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (use console or json)", lo.Format)
	}
}

func (lo *LogOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&lo.Level, "log-level", defaultLogOptions.Level, "log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&lo.Format, "log-format", defaultLogOptions.Format, "log format: console or json")
}

// AddLogging registers the logging flags on root and initializes the
// logger before any subcommand runs.
func AddLogging(root *cobra.Command) {
	opts := defaultLogOptions
	opts.AddFlags(root)

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := opts.Validate(); err != nil {
			return err
		}
		l := logging.Init(logging.Options{Level: opts.Level, Format: opts.Format})
		cmd.SetContext(logging.WithContext(cmd.Context(), l))
		return nil
	}
}
