// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	} {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestContextLogger(t *testing.T) {
	l := zap.NewNop()
	ctx := WithContext(context.Background(), l)
	require.Same(t, l, FromContext(ctx))
	require.NotNil(t, FromContext(context.Background()))
}
