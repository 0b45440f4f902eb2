// Package credentials owns the bearer token used to call the backend. The
// token is derived from a service-account key by an identity provider and
// cached until shortly before it expires.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
	"github.com/felipepmaragno/vertex-gateway/internal/metrics"
	"github.com/felipepmaragno/vertex-gateway/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// Token is a bearer token with the expiry declared by whoever issued it.
// A zero Expiry means none was declared.
type Token struct {
	Value  string
	Expiry time.Time
}

// Source obtains a fresh token from the identity provider.
type Source interface {
	Token(ctx context.Context) (Token, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Token, error)

func (f SourceFunc) Token(ctx context.Context) (Token, error) {
	return f(ctx)
}

// Store shares a token between gateway replicas. It is consulted before the
// identity provider whenever the local token is stale.
type Store interface {
	Load(ctx context.Context) (Token, bool, error)
	Save(ctx context.Context, tok Token) error
}

const refreshTimeout = 30 * time.Second

type Config struct {
	RefreshMargin time.Duration
	Lifetime      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RefreshMargin: 300 * time.Second,
		Lifetime:      3600 * time.Second,
	}
}

type Option func(*Cache)

func WithStore(store Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithRefreshErrorHook registers fn to be called with every failed refresh.
func WithRefreshErrorHook(fn func(error)) Option {
	return func(c *Cache) {
		c.onRefreshError = fn
	}
}

// Cache hands out the current bearer token, refreshing it when
// now >= expiry - RefreshMargin. Concurrent callers that find the token
// stale wait for a single in-flight refresh and share its result.
type Cache struct {
	source         Source
	store          Store
	config         Config
	now            func() time.Time
	onRefreshError func(error)

	mu     sync.RWMutex
	token  string
	expiry time.Time

	group singleflight.Group
}

func New(source Source, cfg Config, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		config: cfg,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Token returns a copy of the current bearer token. Failures wrap
// domain.ErrCredential. A caller whose ctx ends while a refresh is in flight
// returns early; the refresh carries on for the others.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		// Waiters share this refresh, so it is not tied to one caller's cancellation.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: wait for token refresh: %w", domain.ErrCredential, ctx.Err())
	}
}

// Expiry reports the expiry of the cached token, zero if none is cached.
func (c *Cache) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}

func (c *Cache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" || !c.fresh(c.expiry) {
		return "", false
	}
	return c.token, true
}

func (c *Cache) fresh(expiry time.Time) bool {
	return c.now().Before(expiry.Add(-c.config.RefreshMargin))
}

func (c *Cache) set(token string, expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiry = expiry
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "credentials.refresh")
	defer span.End()

	if c.store != nil {
		shared, ok, err := c.store.Load(ctx)
		if err != nil {
			slog.Warn("shared token store load failed", "error", err)
		} else if ok && shared.Value != "" && c.fresh(shared.Expiry) {
			c.set(shared.Value, shared.Expiry)
			metrics.RecordCredentialRefresh("shared")
			slog.Debug("adopted shared bearer token", "expiry", shared.Expiry)
			return shared.Value, nil
		}
	}

	refreshedAt := c.now()

	tok, err := c.source.Token(ctx)
	if err == nil && tok.Value == "" {
		err = fmt.Errorf("identity provider returned an empty token")
	}
	if err != nil {
		err = fmt.Errorf("%w: refresh bearer token: %w", domain.ErrCredential, err)
		metrics.RecordCredentialRefresh("error")
		telemetry.Fail(span, err)
		if c.onRefreshError != nil {
			c.onRefreshError(err)
		}
		return "", err
	}

	expiry := refreshedAt.Add(c.config.Lifetime)
	if !tok.Expiry.IsZero() && tok.Expiry.Before(expiry) {
		expiry = tok.Expiry
	}

	c.set(tok.Value, expiry)
	metrics.RecordCredentialRefresh("provider")
	slog.Info("bearer token refreshed", "expiry", expiry)

	if c.store != nil {
		if err := c.store.Save(ctx, Token{Value: tok.Value, Expiry: expiry}); err != nil {
			slog.Warn("shared token store save failed", "error", err)
		}
	}

	return tok.Value, nil
}

// Check satisfies the readiness probe: the cache is healthy when it can
// produce a token.
func (c *Cache) Check(ctx context.Context) error {
	_, err := c.Token(ctx)
	return err
}

func (c *Cache) Name() string {
	return "credentials"
}
