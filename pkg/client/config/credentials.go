// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// TestCredentials is the login material for the automated flow.
type TestCredentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	SecurityKey string `json:"securityKey"`
	WebID       string `json:"webId"`
	PodURL      string `json:"podUrl"`
	Issuer      string `json:"issuer"`
}

const credentialsTemplate = `{
  "email": "...",
  "password": "...",
  "securityKey": "...",
  "webId": "https://<pod>/profile/card#me",
  "podUrl": "https://<pod>/",
  "issuer": "https://<issuer>/"
}`

// LoadTestCredentials reads and validates the credentials file.
func LoadTestCredentials(path string) (*TestCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf(
				"%w: test credentials file %s not found, create it with:\n%s",
				ErrConfig, path, credentialsTemplate,
			)
		}
		return nil, fmt.Errorf("%w: reading test credentials: %w", ErrConfig, err)
	}

	var creds TestCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: parsing test credentials %s: %w", ErrConfig, path, err)
	}

	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: test credentials %s: %w", ErrConfig, path, err)
	}
	return &creds, nil
}

// Validate checks every field is present.
func (c *TestCredentials) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"email", c.Email},
		{"password", c.Password},
		{"securityKey", c.SecurityKey},
		{"webId", c.WebID},
		{"podUrl", c.PodURL},
		{"issuer", c.Issuer},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("field %q is required", f.name))
		}
	}
	return errors.Join(errs...)
}
