// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/carabiner-dev/podauth/pkg/client/config"
)

const (
	sessionsFileName = "sessions.json"
	sessionDirLength = 12 // Length of random hex string for session directories
	bundleFileName   = "auth-data.json"
)

// SessionInfo holds information about a session for a specific issuer
type SessionInfo struct {
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"created_at"`
	Issuer    string    `json:"issuer,omitempty"` // Stored for reference
}

// SessionsConfig holds the mapping of issuers to session directories
type SessionsConfig struct {
	Sessions map[string]*SessionInfo `json:"sessions"`
	Default  string                  `json:"default,omitempty"`
}

// Sessions keeps one bundle directory per issuer under Root.
type Sessions struct {
	Root string
}

// DefaultSessions returns the sessions under XDG_DATA_HOME/podauth
func DefaultSessions() *Sessions {
	return &Sessions{Root: filepath.Join(xdg.DataHome, config.AppName)}
}

func sessionKey(issuer string) string {
	return strings.TrimSuffix(issuer, "/")
}

func (s *Sessions) configPath() string {
	return filepath.Join(s.Root, sessionsFileName)
}

// Load loads the sessions configuration from disk
func (s *Sessions) Load() (*SessionsConfig, error) {
	data, err := os.ReadFile(s.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &SessionsConfig{
				Sessions: make(map[string]*SessionInfo),
			}, nil
		}
		return nil, fmt.Errorf("reading sessions config: %w", err)
	}

	var cfg SessionsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sessions config: %w", err)
	}

	if cfg.Sessions == nil {
		cfg.Sessions = make(map[string]*SessionInfo)
	}

	return &cfg, nil
}

// save saves the sessions configuration to disk
func (s *Sessions) save(cfg *SessionsConfig) error {
	if err := os.MkdirAll(s.Root, 0700); err != nil {
		return fmt.Errorf("creating sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sessions config: %w", err)
	}

	// Atomic write
	path := s.configPath()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("writing sessions config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return fmt.Errorf("renaming sessions config: %w", err)
	}

	return nil
}

// generateSessionDir generates a random directory name for a session
func generateSessionDir() (string, error) {
	bytes := make([]byte, sessionDirLength/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// GetOrCreate gets an existing session for an issuer or creates a new one
func (s *Sessions) GetOrCreate(issuer string) (*SessionInfo, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}

	key := sessionKey(issuer)
	if session, exists := cfg.Sessions[key]; exists {
		return session, nil
	}

	dir, err := generateSessionDir()
	if err != nil {
		return nil, err
	}

	session := &SessionInfo{
		Dir:       dir,
		CreatedAt: time.Now(),
		Issuer:    issuer,
	}
	cfg.Sessions[key] = session

	// Set as default if it's the first session
	if cfg.Default == "" {
		cfg.Default = key
	}

	if err := s.save(cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(s.Root, dir), 0700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	return session, nil
}

// BundlePath returns the auth data path of the issuer session
func (s *Sessions) BundlePath(issuer string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}

	session, exists := cfg.Sessions[sessionKey(issuer)]
	if !exists {
		return "", fmt.Errorf("no session found for issuer %s", issuer)
	}

	return filepath.Join(s.Root, session.Dir, bundleFileName), nil
}

// EnsureBundlePath creates the issuer session if needed and returns its
// auth data path
func (s *Sessions) EnsureBundlePath(issuer string) (string, error) {
	if _, err := s.GetOrCreate(issuer); err != nil {
		return "", fmt.Errorf("getting session: %w", err)
	}
	return s.BundlePath(issuer)
}

// Default returns the default session info and its issuer, if any
func (s *Sessions) Default() (*SessionInfo, string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, "", err
	}

	if cfg.Default == "" {
		return nil, "", fmt.Errorf("no default session configured (run 'podauth generate' first)")
	}

	session, exists := cfg.Sessions[cfg.Default]
	if !exists {
		return nil, "", fmt.Errorf("default session %s not found", cfg.Default)
	}

	return session, cfg.Default, nil
}

// SetDefault sets the default session to the specified issuer
func (s *Sessions) SetDefault(issuer string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}

	key := sessionKey(issuer)
	if _, exists := cfg.Sessions[key]; !exists {
		return fmt.Errorf("no session found for issuer %s", issuer)
	}

	cfg.Default = key
	return s.save(cfg)
}

// Remove deletes the issuer session and its directory
func (s *Sessions) Remove(issuer string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}

	key := sessionKey(issuer)
	session, exists := cfg.Sessions[key]
	if !exists {
		return nil
	}

	if err := os.RemoveAll(filepath.Join(s.Root, session.Dir)); err != nil {
		return fmt.Errorf("removing session directory: %w", err)
	}

	delete(cfg.Sessions, key)
	if cfg.Default == key {
		cfg.Default = ""
		for k := range cfg.Sessions {
			cfg.Default = k
			break
		}
	}
	return s.save(cfg)
}

// List returns all configured sessions and the default issuer
func (s *Sessions) List() (map[string]*SessionInfo, string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, "", err
	}
	return cfg.Sessions, cfg.Default, nil
}
