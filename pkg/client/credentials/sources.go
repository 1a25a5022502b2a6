// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/carabiner-dev/podauth/pkg/client/authdata"
	"github.com/carabiner-dev/podauth/pkg/client/storage"
)

// DefaultAuthDataEnvVar is the environment variable checked for an inline
// auth data bundle.
const DefaultAuthDataEnvVar = "PODAUTH_AUTH_DATA"

// BundleSource returns a persisted bundle and the time it was captured.
// The capture time is zero when the source cannot tell.
type BundleSource interface {
	Bundle(ctx context.Context) (*authdata.Bundle, time.Time, error)
}

// StaticBundleSource returns a fixed bundle. Useful for testing.
type StaticBundleSource struct {
	bundle     *authdata.Bundle
	capturedAt time.Time
}

// NewStaticBundleSource creates a BundleSource that always returns b.
func NewStaticBundleSource(b *authdata.Bundle, capturedAt time.Time) *StaticBundleSource {
	return &StaticBundleSource{bundle: b, capturedAt: capturedAt}
}

func (s *StaticBundleSource) Bundle(_ context.Context) (*authdata.Bundle, time.Time, error) {
	if s.bundle == nil {
		return nil, time.Time{}, errors.New("static bundle is empty")
	}
	return s.bundle, s.capturedAt, nil
}

// FileBundleSource reads the bundle file on each call, its modification
// time is the capture time.
type FileBundleSource struct {
	file *storage.BundleFile
}

// NewFileBundleSource creates a BundleSource that reads from a file.
func NewFileBundleSource(path string) *FileBundleSource {
	return &FileBundleSource{file: storage.NewBundleFile(path)}
}

func (f *FileBundleSource) Bundle(ctx context.Context) (*authdata.Bundle, time.Time, error) {
	return f.file.Load(ctx)
}

// EnvBundleSource reads an inline JSON bundle from an environment variable.
type EnvBundleSource struct {
	envVar string
}

// NewEnvBundleSource creates a BundleSource that reads from an environment variable.
func NewEnvBundleSource(envVar string) *EnvBundleSource {
	return &EnvBundleSource{envVar: envVar}
}

func (e *EnvBundleSource) Bundle(_ context.Context) (*authdata.Bundle, time.Time, error) {
	if e.envVar == "" {
		return nil, time.Time{}, errors.New("environment variable name is empty")
	}

	data := strings.TrimSpace(os.Getenv(e.envVar))
	if data == "" {
		return nil, time.Time{}, fmt.Errorf("environment variable %q is not set or empty", e.envVar)
	}

	b, err := authdata.Parse([]byte(data))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading %s: %w", e.envVar, err)
	}
	return b, time.Time{}, nil
}

// ChainedBundleSource tries multiple BundleSources in order until one succeeds.
type ChainedBundleSource struct {
	sources []BundleSource
}

// NewChainedBundleSource creates a BundleSource that tries each source in order.
func NewChainedBundleSource(sources ...BundleSource) *ChainedBundleSource {
	return &ChainedBundleSource{sources: sources}
}

func (c *ChainedBundleSource) Bundle(ctx context.Context) (*authdata.Bundle, time.Time, error) {
	if len(c.sources) == 0 {
		return nil, time.Time{}, errors.New("no bundle sources configured")
	}

	var errs []error
	for _, source := range c.sources {
		b, at, err := source.Bundle(ctx)
		if err == nil && b != nil {
			return b, at, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	return nil, time.Time{}, fmt.Errorf("all bundle sources failed: %w", errors.Join(errs...))
}

// DefaultBundleSource returns a ChainedBundleSource that tries:
// 1. PODAUTH_AUTH_DATA environment variable
// 2. the bundle file at path
func DefaultBundleSource(path string) BundleSource {
	return NewChainedBundleSource(
		NewEnvBundleSource(DefaultAuthDataEnvVar),
		NewFileBundleSource(path),
	)
}
