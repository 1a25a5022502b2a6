// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessions(t *testing.T) {
	t.Parallel()
	s := &Sessions{Root: t.TempDir()}

	_, _, err := s.Default()
	require.Error(t, err)

	first, err := s.EnsureBundlePath("https://idp.one/")
	require.NoError(t, err)
	require.Equal(t, bundleFileName, filepath.Base(first))
	info, err := os.Stat(filepath.Dir(first))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// Trailing slash does not create another session
	again, err := s.EnsureBundlePath("https://idp.one")
	require.NoError(t, err)
	require.Equal(t, first, again)

	second, err := s.EnsureBundlePath("https://idp.two/")
	require.NoError(t, err)
	require.NotEqual(t, filepath.Dir(first), filepath.Dir(second))

	sessions, def, err := s.List()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "https://idp.one", def)

	require.NoError(t, s.SetDefault("https://idp.two/"))
	_, def, err = s.Default()
	require.NoError(t, err)
	require.Equal(t, "https://idp.two", def)
	require.Error(t, s.SetDefault("https://unknown"))

	require.NoError(t, s.Remove("https://idp.two"))
	_, err = os.Stat(filepath.Dir(second))
	require.True(t, os.IsNotExist(err))
	_, def, err = s.Default()
	require.NoError(t, err)
	require.Equal(t, "https://idp.one", def)

	_, err = s.BundlePath("https://idp.two")
	require.Error(t, err)
	require.NoError(t, s.Remove("https://idp.two"))
}
