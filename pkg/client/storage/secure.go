// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// Keys under which a session is injected into a secure store.
const (
	KeyWebID    = "web_id"
	KeyAuthData = "auth_data"
)

// StoreKeyEnvVar holds a base64 encoded 32 byte key for FileSecureStore.
const StoreKeyEnvVar = "PODAUTH_STORE_KEY"

const (
	secretsFileName = "secrets.json"
	keyFileName     = "store.key"
	nonceSize       = 24
)

// SecureStore is the key-value store the application under test reads its
// session from. Delete of a missing key is not an error.
type SecureStore interface {
	Write(ctx context.Context, key, value string) error
	Read(ctx context.Context, key string) (value string, found bool, err error)
	Delete(ctx context.Context, key string) error
}

var (
	_ SecureStore = (*MemoryStore)(nil)
	_ SecureStore = (*FileSecureStore)(nil)
)

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]string{}}
}

func (m *MemoryStore) Write(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Read(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// FileSecureStore encrypts every value with NaCl secretbox and keeps them in
// a single JSON file.
type FileSecureStore struct {
	Path string

	key [32]byte
	mu  sync.Mutex
}

// NewFileSecureStore opens the store in dir. The encryption key is read from
// PODAUTH_STORE_KEY or from dir/store.key, which is created when missing.
func NewFileSecureStore(dir string) (*FileSecureStore, error) {
	key, err := loadStoreKey(dir)
	if err != nil {
		return nil, err
	}
	s := &FileSecureStore{Path: filepath.Join(dir, secretsFileName)}
	copy(s.key[:], key)
	return s, nil
}

func loadStoreKey(dir string) ([]byte, error) {
	if v := os.Getenv(StoreKeyEnvVar); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("%s must be a base64 encoded 32 byte key", StoreKeyEnvVar)
		}
		return key, nil
	}

	path := filepath.Join(dir, keyFileName)
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(key) != 32 {
			return nil, fmt.Errorf("store key %s is corrupt", path)
		}
		return key, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading store key: %w", err)
	}

	key = make([]byte, 32)
	rand.Read(key) //nolint:errcheck
	if err := writeAtomic(path, key); err != nil {
		return nil, fmt.Errorf("writing store key: %w", err)
	}
	return key, nil
}

func (s *FileSecureStore) Write(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	var nonce [nonceSize]byte
	rand.Read(nonce[:]) //nolint:errcheck
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	entries[key] = base64.StdEncoding.EncodeToString(sealed)

	return s.save(entries)
}

func (s *FileSecureStore) Read(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", false, err
	}
	enc, ok := entries[key]
	if !ok {
		return "", false, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || len(sealed) < nonceSize {
		return "", false, fmt.Errorf("secure store entry %q is corrupt", key)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", false, fmt.Errorf("decrypting secure store entry %q", key)
	}
	return string(plain), true, nil
}

func (s *FileSecureStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.save(entries)
}

func (s *FileSecureStore) load() (map[string]string, error) {
	entries := map[string]string{}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entries, nil
		}
		return nil, fmt.Errorf("reading secure store: %w", err)
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing secure store: %w", err)
	}
	if entries == nil {
		entries = map[string]string{}
	}
	return entries, nil
}

func (s *FileSecureStore) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling secure store: %w", err)
	}
	if err := writeAtomic(s.Path, data); err != nil {
		return fmt.Errorf("writing secure store: %w", err)
	}
	return nil
}
