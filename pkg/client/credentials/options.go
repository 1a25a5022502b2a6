// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"time"

	"go.uber.org/zap"

	"github.com/carabiner-dev/podauth/pkg/client/config"
)

// Option is a functional option for configuring the Coordinator.
type Option func(*Coordinator)

// WithAuthenticator sets what runs the browser login on regeneration.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Coordinator) {
		c.auth = a
	}
}

// WithAutoRegenerate controls whether stale sessions are regenerated or
// reported as ErrStale. Default is true.
func WithAutoRegenerate(enabled bool) Option {
	return func(c *Coordinator) {
		c.autoRegenerate = enabled
	}
}

// WithCredentialsFile reads the test credentials from path.
func WithCredentialsFile(path string) Option {
	return func(c *Coordinator) {
		if path != "" {
			c.loadCreds = func() (*config.TestCredentials, error) {
				return config.LoadTestCredentials(path)
			}
		}
	}
}

// WithCredentials uses fixed test credentials.
func WithCredentials(creds *config.TestCredentials) Option {
	return func(c *Coordinator) {
		if creds != nil {
			c.loadCreds = func() (*config.TestCredentials, error) {
				return creds, creds.Validate()
			}
		}
	}
}

// WithSource sets where existing bundles are loaded from. Defaults to the
// bundle file.
func WithSource(s BundleSource) Option {
	return func(c *Coordinator) {
		c.source = s
	}
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
