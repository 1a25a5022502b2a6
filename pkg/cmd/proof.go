// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/client/credentials"
	"github.com/carabiner-dev/podauth/pkg/client/keys"
)

var _ command.OptionsSet = (*ProofOptions)(nil)

type ProofOptions struct {
	BundleReadOptions
	Method string
	URL    string
	Nonce  string
	NoAth  bool
}

var defaultProofOptions = ProofOptions{
	Method: http.MethodGet,
}

func (po *ProofOptions) Validate() error {
	var errs = []error{
		po.BundleReadOptions.Validate(),
	}
	if po.URL == "" {
		errs = append(errs, errors.New("target URL is required"))
	} else if u, err := url.Parse(po.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid target URL %q", po.URL))
	}
	if po.Method == "" {
		errs = append(errs, errors.New("HTTP method is required"))
	}
	return errors.Join(errs...)
}

func (po *ProofOptions) AddFlags(cmd *cobra.Command) {
	po.BundleReadOptions.AddFlags(cmd)
	cmd.PersistentFlags().StringVarP(&po.Method, "method", "X", defaultProofOptions.Method, "HTTP method the proof is bound to")
	cmd.PersistentFlags().StringVar(&po.Nonce, "nonce", "", "server provided DPoP nonce")
	cmd.PersistentFlags().BoolVar(&po.NoAth, "no-ath", false, "do not bind the proof to the access token")
}

func (po *ProofOptions) Config() *command.OptionsSetConfig {
	return nil
}

func AddProof(parent *cobra.Command) {
	opts := defaultProofOptions

	cmd := &cobra.Command{
		Use:   "proof URL",
		Short: "Print a DPoP proof for a request",
		Long: `Signs a DPoP proof with the key pair stored in the auth data.

The proof is printed to stdout, ready to be sent in the DPoP header next
to "Authorization: DPoP <access token>".`,
		Example: `  # Proof for reading a pod resource
  podauth proof https://pod.example/private/notes.ttl

  # Proof for a write
  podauth proof -X PUT https://pod.example/private/notes.ttl`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			opts.URL = args[0]
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProof(cmd.Context(), &opts, credentials.DefaultSessions(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	opts.AddFlags(cmd)
	parent.AddCommand(cmd)
}

func runProof(ctx context.Context, opts *ProofOptions, sessions *credentials.Sessions, stdin io.Reader, out io.Writer) error {
	b, _, err := opts.ReadBundle(ctx, stdin, sessions)
	if err != nil {
		return err
	}

	km, err := b.KeyMaterial()
	if err != nil {
		return err
	}

	popts := keys.ProofOptions{Nonce: opts.Nonce}
	if !opts.NoAth {
		popts.AccessToken = b.AccessToken()
	}

	proof, err := keys.NewProof(km, strings.ToUpper(opts.Method), opts.URL, popts)
	if err != nil {
		return fmt.Errorf("signing proof: %w", err)
	}
	fmt.Fprintln(out, proof)
	return nil
}
