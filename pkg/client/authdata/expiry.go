// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package authdata

import "time"

// ExpiryBuffer is subtracted from the token lifetime when deciding if a
// bundle is still usable.
const ExpiryBuffer = time.Minute

// ExpirySource names where an expiry time was found.
type ExpirySource string

const (
	SourceNone            ExpirySource = ""
	SourceTokenExpiresAt  ExpirySource = "token.expires_at"
	SourceLegacyExpiresAt ExpirySource = "response.expires_at"
	SourceLegacyExpiresIn ExpirySource = "response.expires_in"
)

// ExpiryOf locates the absolute expiry of the bundle tokens. The legacy
// expires_in member is relative to capturedAt, the time the bundle was
// written.
func ExpiryOf(b *Bundle, capturedAt time.Time) (time.Time, ExpirySource) {
	if b == nil || b.AuthResponse == nil {
		return time.Time{}, SourceNone
	}
	ar := b.AuthResponse

	if ar.Token.ExpiresAt != nil {
		return time.Unix(*ar.Token.ExpiresAt, 0), SourceTokenExpiresAt
	}

	if ar.Response != nil {
		if ar.Response.ExpiresAt != nil {
			return time.Unix(*ar.Response.ExpiresAt, 0), SourceLegacyExpiresAt
		}
		if ar.Response.ExpiresIn != nil && !capturedAt.IsZero() {
			return capturedAt.Add(time.Duration(*ar.Response.ExpiresIn) * time.Second), SourceLegacyExpiresIn
		}
	}

	return time.Time{}, SourceNone
}

// IsExpired reports whether the bundle tokens expire before now plus the
// buffer. A bundle without a usable expiry is expired.
func IsExpired(b *Bundle, capturedAt, now time.Time) bool {
	exp, src := ExpiryOf(b, capturedAt)
	if src == SourceNone {
		return true
	}
	return exp.Before(now.Add(ExpiryBuffer))
}
