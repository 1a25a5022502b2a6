// SPDX-FileCopyrightText: Copyright 2025 Carabiner Systems, Inc

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/carabiner-dev/podauth/pkg/client/authdata"
)

const (
	bundleFileName = "auth-data.json"
	dirPerm        = 0700 // User-only directory permissions
	filePerm       = 0600 // User-only file permissions
)

// ErrNotFound is returned when there is no stored bundle
var ErrNotFound = errors.New("no auth data found")

// BundleFile persists an auth data bundle as a JSON file
type BundleFile struct {
	Path string
}

// DefaultBundlePath returns XDG_DATA_HOME/podauth/auth-data.json
func DefaultBundlePath() string {
	return filepath.Join(xdg.DataHome, "podauth", bundleFileName)
}

// NewBundleFile creates a store for path, the default path when empty
func NewBundleFile(path string) *BundleFile {
	if path == "" {
		path = DefaultBundlePath()
	}
	return &BundleFile{Path: path}
}

// Save stores the bundle to disk with atomic write, creating parent
// directories as needed
func (f *BundleFile) Save(_ context.Context, b *authdata.Bundle) error {
	data, err := b.Marshal()
	if err != nil {
		return err
	}
	if err := writeAtomic(f.Path, data); err != nil {
		return fmt.Errorf("writing auth data file: %w", err)
	}
	return nil
}

// Load reads the bundle. The returned time is when the file was written.
func (f *BundleFile) Load(_ context.Context) (*authdata.Bundle, time.Time, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, fmt.Errorf("%w at %s", ErrNotFound, f.Path)
		}
		return nil, time.Time{}, fmt.Errorf("reading auth data file: %w", err)
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading auth data file: %w", err)
	}

	b, err := authdata.Parse(data)
	if err != nil {
		return nil, time.Time{}, err
	}
	return b, info.ModTime(), nil
}

// Delete removes the stored bundle
func (f *BundleFile) Delete(_ context.Context) error {
	if err := os.Remove(f.Path); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("deleting auth data file: %w", err)
	}
	return nil
}

// writeAtomic writes to a temp file, then renames it over path
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, filePerm); err != nil {
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) //nolint:errcheck // Clean up temp file on error
		return err
	}
	return nil
}
