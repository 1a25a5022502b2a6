// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/carabiner-dev/podauth/pkg/client/authdata"
	"github.com/carabiner-dev/podauth/pkg/client/config"
	"github.com/carabiner-dev/podauth/pkg/client/oauth"
	"github.com/carabiner-dev/podauth/pkg/client/storage"
)

// ErrStale is returned when the stored session is missing or expired and
// regeneration is disabled.
var ErrStale = errors.New("auth data is stale")

// Authenticator runs a complete browser login. oauth.Flow implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, creds *config.TestCredentials) *oauth.Result
}

var _ Authenticator = (*oauth.Flow)(nil)

// State is a step of the Setup state machine.
type State string

const (
	StateLoad        State = "load"
	StateCheckExpiry State = "check-expiry"
	StateRegenerate  State = "regenerate"
	StateInject      State = "inject"
	StateInjected    State = "injected"
	StateFailed      State = "failed"
)

// Coordinator loads the persisted session, regenerates it when stale and
// injects it into the secure store.
type Coordinator struct {
	file   *storage.BundleFile
	source BundleSource
	store  storage.SecureStore

	auth           Authenticator
	loadCreds      func() (*config.TestCredentials, error)
	autoRegenerate bool
	now            func() time.Time
	logger         *zap.Logger

	group singleflight.Group

	mu    sync.Mutex
	trail []State
}

// NewCoordinator creates a coordinator for the bundle at bundlePath that
// injects into store.
func NewCoordinator(bundlePath string, store storage.SecureStore, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("a secure store is required")
	}

	c := &Coordinator{
		file:           storage.NewBundleFile(bundlePath),
		store:          store,
		autoRegenerate: true,
		now:            time.Now,
		logger:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.source == nil {
		c.source = NewFileBundleSource(c.file.Path)
	}
	if c.autoRegenerate && c.auth == nil {
		return nil, errors.New("auto regeneration needs an authenticator (use WithAuthenticator option)")
	}
	if c.loadCreds == nil {
		c.loadCreds = func() (*config.TestCredentials, error) {
			return config.LoadTestCredentials(config.DefaultCredentialsFile)
		}
	}

	return c, nil
}

// BundlePath returns where regenerated bundles are written.
func (c *Coordinator) BundlePath() string {
	return c.file.Path
}

// Setup makes sure the secure store holds a fresh session. Concurrent calls
// share a single run.
func (c *Coordinator) Setup(ctx context.Context) (*authdata.Bundle, error) {
	v, err, _ := c.group.Do(c.file.Path, func() (any, error) {
		return c.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*authdata.Bundle), nil //nolint:forcetypeassert
}

// Trail returns the states visited by the last Setup run.
func (c *Coordinator) Trail() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.trail...)
}

func (c *Coordinator) enter(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trail = append(c.trail, s)
}

func (c *Coordinator) run(ctx context.Context) (b *authdata.Bundle, err error) {
	c.mu.Lock()
	c.trail = nil
	c.mu.Unlock()

	defer func() {
		if err != nil {
			c.enter(StateFailed)
			c.logger.Error("session setup failed", zap.Error(err))
		}
	}()

	c.enter(StateLoad)
	b, capturedAt, loadErr := c.source.Bundle(ctx)

	needsRegeneration := false
	switch {
	case loadErr != nil:
		c.logger.Info("no usable auth data", zap.String("path", c.file.Path), zap.Error(loadErr))
		if !c.autoRegenerate {
			return nil, fmt.Errorf("loading auth data: %w", loadErr)
		}
		needsRegeneration = true
	default:
		c.enter(StateCheckExpiry)
		if c.CheckExpiry(b, capturedAt) {
			c.logger.Info("auth data is expired", zap.String("path", c.file.Path))
			if !c.autoRegenerate {
				return nil, fmt.Errorf("%w: tokens in %s expired, regenerate them with 'podauth generate'", ErrStale, c.file.Path)
			}
			needsRegeneration = true
		}
	}

	if needsRegeneration {
		c.enter(StateRegenerate)
		b, err = c.regenerate(ctx)
		if err != nil {
			return nil, err
		}
	}

	c.enter(StateInject)
	if err := c.inject(ctx, b); err != nil {
		return nil, err
	}

	c.enter(StateInjected)
	return b, nil
}

// CheckExpiry reports whether the bundle needs to be regenerated.
func (c *Coordinator) CheckExpiry(b *authdata.Bundle, capturedAt time.Time) bool {
	return authdata.IsExpired(b, capturedAt, c.now())
}

func (c *Coordinator) regenerate(ctx context.Context) (*authdata.Bundle, error) {
	creds, err := c.loadCreds()
	if err != nil {
		return nil, err
	}

	c.logger.Info("regenerating auth data", zap.String("issuer", creds.Issuer))
	res := c.auth.Authenticate(ctx, creds)
	if !res.Success {
		if res.Err != nil {
			return nil, fmt.Errorf("regenerating auth data: %w", res.Err)
		}
		return nil, fmt.Errorf("regenerating auth data: %s", res.Error)
	}

	if err := c.file.Save(ctx, res.Bundle); err != nil {
		return nil, err
	}

	b, _, err := c.file.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reloading regenerated auth data: %w", err)
	}
	return b, nil
}

// inject writes both keys or neither.
func (c *Coordinator) inject(ctx context.Context, b *authdata.Bundle) error {
	data, err := b.Marshal()
	if err != nil {
		return err
	}

	prev, hadPrev, err := c.store.Read(ctx, storage.KeyAuthData)
	if err != nil {
		return fmt.Errorf("reading secure store: %w", err)
	}

	if err := c.store.Write(ctx, storage.KeyAuthData, string(data)); err != nil {
		return fmt.Errorf("writing auth data to secure store: %w", err)
	}

	if err := c.store.Write(ctx, storage.KeyWebID, b.WebID); err != nil {
		var rbErr error
		if hadPrev {
			rbErr = c.store.Write(ctx, storage.KeyAuthData, prev)
		} else {
			rbErr = c.store.Delete(ctx, storage.KeyAuthData)
		}
		if rbErr != nil {
			c.logger.Error("rolling back secure store", zap.Error(rbErr))
		}
		return fmt.Errorf("writing web id to secure store: %w", err)
	}

	c.logger.Info("session injected", zap.String("web_id", b.WebID))
	return nil
}

// Clear removes the injected session from the secure store.
func (c *Coordinator) Clear(ctx context.Context) error {
	return errors.Join(
		c.store.Delete(ctx, storage.KeyAuthData),
		c.store.Delete(ctx, storage.KeyWebID),
	)
}
