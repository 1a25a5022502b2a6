// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carabiner-dev/podauth/pkg/client/storage"
)

const inlineBundle = `{"web_id":"INLINE","auth_response":{"client_id":"C1","token":{"access_token":"A","expires_at":4102444800}}}`

func TestStaticBundleSource(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)

	t.Run("valid bundle", func(t *testing.T) {
		source := NewStaticBundleSource(bundleExpiringAt("W", at), at)
		b, got, err := source.Bundle(ctx)
		if err != nil {
			t.Errorf("Bundle() error: %v", err)
		}
		if b.WebID != "W" {
			t.Errorf("Bundle().WebID = %q, want %q", b.WebID, "W")
		}
		if !got.Equal(at) {
			t.Errorf("Bundle() time = %v, want %v", got, at)
		}
	})

	t.Run("empty bundle", func(t *testing.T) {
		source := NewStaticBundleSource(nil, at)
		_, _, err := source.Bundle(ctx)
		if err == nil {
			t.Error("Bundle() expected error for empty bundle, got nil")
		}
	})
}

func TestFileBundleSource(t *testing.T) {
	ctx := context.Background()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "auth.json")
		if err := os.WriteFile(path, []byte(inlineBundle), 0600); err != nil {
			t.Fatalf("WriteFile() error: %v", err)
		}

		b, at, err := NewFileBundleSource(path).Bundle(ctx)
		if err != nil {
			t.Fatalf("Bundle() error: %v", err)
		}
		if b.WebID != "INLINE" {
			t.Errorf("Bundle().WebID = %q, want %q", b.WebID, "INLINE")
		}
		if at.IsZero() {
			t.Error("Bundle() returned zero capture time for a file")
		}
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, _, err := NewFileBundleSource("/non/existent/path").Bundle(ctx)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Bundle() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "auth.json")
		if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
			t.Fatalf("WriteFile() error: %v", err)
		}
		if _, _, err := NewFileBundleSource(path).Bundle(ctx); err == nil {
			t.Error("Bundle() expected error for invalid file, got nil")
		}
	})
}

func TestEnvBundleSource(t *testing.T) {
	ctx := context.Background()

	t.Run("set env var", func(t *testing.T) {
		t.Setenv("TEST_PODAUTH_BUNDLE", inlineBundle)
		b, at, err := NewEnvBundleSource("TEST_PODAUTH_BUNDLE").Bundle(ctx)
		if err != nil {
			t.Fatalf("Bundle() error: %v", err)
		}
		if b.WebID != "INLINE" {
			t.Errorf("Bundle().WebID = %q, want %q", b.WebID, "INLINE")
		}
		if !at.IsZero() {
			t.Errorf("Bundle() time = %v, want zero", at)
		}
	})

	t.Run("unset env var", func(t *testing.T) {
		if _, _, err := NewEnvBundleSource("TEST_PODAUTH_UNSET_VAR").Bundle(ctx); err == nil {
			t.Error("Bundle() expected error for unset env var, got nil")
		}
	})

	t.Run("empty var name", func(t *testing.T) {
		if _, _, err := NewEnvBundleSource("").Bundle(ctx); err == nil {
			t.Error("Bundle() expected error for empty var name, got nil")
		}
	})
}

func TestChainedBundleSource(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)

	t.Run("first source succeeds", func(t *testing.T) {
		source := NewChainedBundleSource(
			NewStaticBundleSource(bundleExpiringAt("first", at), at),
			NewStaticBundleSource(bundleExpiringAt("second", at), at),
		)
		b, _, err := source.Bundle(ctx)
		if err != nil {
			t.Errorf("Bundle() error: %v", err)
		}
		if b.WebID != "first" {
			t.Errorf("Bundle().WebID = %q, want %q", b.WebID, "first")
		}
	})

	t.Run("fallback to second source", func(t *testing.T) {
		source := NewChainedBundleSource(
			NewStaticBundleSource(nil, at),
			NewStaticBundleSource(bundleExpiringAt("second", at), at),
		)
		b, _, err := source.Bundle(ctx)
		if err != nil {
			t.Errorf("Bundle() error: %v", err)
		}
		if b.WebID != "second" {
			t.Errorf("Bundle().WebID = %q, want %q", b.WebID, "second")
		}
	})

	t.Run("all sources fail", func(t *testing.T) {
		source := NewChainedBundleSource(
			NewStaticBundleSource(nil, at),
			NewFileBundleSource("/non/existent"),
		)
		_, _, err := source.Bundle(ctx)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Bundle() error = %v, want it to wrap ErrNotFound", err)
		}
	})

	t.Run("no sources", func(t *testing.T) {
		if _, _, err := NewChainedBundleSource().Bundle(ctx); err == nil {
			t.Error("Bundle() expected error for no sources, got nil")
		}
	})
}

func TestDefaultBundleSourcePrefersEnv(t *testing.T) {
	t.Setenv(DefaultAuthDataEnvVar, inlineBundle)
	b, _, err := DefaultBundleSource("/non/existent").Bundle(context.Background())
	if err != nil {
		t.Fatalf("Bundle() error: %v", err)
	}
	if b.WebID != "INLINE" {
		t.Errorf("Bundle().WebID = %q, want %q", b.WebID, "INLINE")
	}
}
