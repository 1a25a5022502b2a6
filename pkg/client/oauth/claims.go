// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// WebIDClaim is the Solid-OIDC claim holding the user WebID.
const WebIDClaim = "webid"

// ExtractSubject reads the WebID from an ID token, falling back to sub. The
// signature is not checked, the value is only used for labeling the bundle.
func ExtractSubject(idToken string) (string, bool) {
	if strings.Count(idToken, ".") != 2 {
		return "", false
	}

	// Only the payload is read, the header and signature may be opaque
	payload, err := jwt.NewParser(jwt.WithPaddingAllowed()).DecodeSegment(strings.Split(idToken, ".")[1])
	if err != nil {
		return "", false
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", false
	}

	for _, name := range []string{WebIDClaim, "sub"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
