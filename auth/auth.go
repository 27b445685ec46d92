// Package auth maintains the access token used to authenticate every
// gRPC call made against the block engine. It runs the two-step
// challenge/sign/exchange handshake once at startup, then refreshes
// the access token in the background before it expires so request
// paths never observe a stale token.
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/shredcore/shredstream/blockenginepb"
	"github.com/shredcore/shredstream/log"
)

// Kind classifies why an auth operation failed, so callers can decide
// whether retrying is worthwhile.
type Kind int

const (
	// NotFound means the server had no record of the requested
	// resource (e.g. an unknown pubkey). Never retried.
	NotFound Kind = iota
	// BadChallenge means the server rejected the signed challenge.
	// Never retried: the keypair itself is the problem.
	BadChallenge
	// SigningFailed means the local ed25519 signing step failed.
	// Never retried: a transient signer cannot fix a malformed key.
	SigningFailed
	// TransportFailed means the RPC itself did not complete (dial,
	// timeout, connection reset). The only kind retried.
	TransportFailed
)

// Error wraps a Kind with the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("auth: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Token is a point-in-time snapshot of the current access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (t Token) valid() bool { return t.AccessToken != "" && time.Now().Before(t.ExpiresAt) }

const (
	// safetyMargin is how far ahead of actual expiry the refresher
	// fires, so a request in flight at the refresh boundary never
	// observes a token the server has already invalidated.
	safetyMargin = 30 * time.Second

	maxBackoff  = 30 * time.Second
	baseBackoff = 500 * time.Millisecond

	// retryRateLimit and retryBurst cap how often the handshake and
	// refresh loops may attempt an RPC regardless of what the
	// exponential backoff computes, so a bug that resets attempt back
	// to 0 on every failure can't spin tight against the block engine.
	retryRateLimit = 2 // per second
	retryBurst     = 3
)

// Client owns the access token lifecycle: initial handshake, a
// background refresh loop, and a read-mostly handle for request paths.
type Client struct {
	log    *log.Logger
	client blockenginepb.AuthStubClient
	signer ed25519.PrivateKey
	pubkey []byte

	mu      sync.RWMutex
	current Token
	refresh string // refresh token, held alongside current under mu

	stop     chan struct{}
	stopOnce sync.Once
	failures atomic.Uint64

	retryLimiter *rate.Limiter
}

// New constructs a Client. It does not perform the handshake; call
// Start for that.
func New(logger *log.Logger, client blockenginepb.AuthStubClient, signer ed25519.PrivateKey) *Client {
	pub, _ := signer.Public().(ed25519.PublicKey)
	return &Client{
		log:          logger,
		client:       client,
		signer:       signer,
		pubkey:       []byte(pub),
		stop:         make(chan struct{}),
		retryLimiter: rate.NewLimiter(rate.Limit(retryRateLimit), retryBurst),
	}
}

// Start runs the initial challenge/sign/exchange handshake and, on
// success, launches the background refresh loop. The returned error is
// an *Error; only TransportFailed is meaningfully retryable by the
// caller at this layer (Start itself already retries transport
// failures internally with backoff up to ctx's deadline).
func (c *Client) Start(ctx context.Context) error {
	if err := c.handshakeWithRetry(ctx); err != nil {
		return err
	}
	go c.refreshLoop()
	return nil
}

func (c *Client) handshakeWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := c.handshake(ctx)
		if err == nil {
			return nil
		}
		var authErr *Error
		if !errors.As(err, &authErr) || authErr.Kind != TransportFailed {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff(attempt)):
		}
		if err := c.retryLimiter.Wait(ctx); err != nil {
			return lastErr
		}
	}
}

func (c *Client) handshake(ctx context.Context) error {
	challengeResp, err := c.client.GenerateAuthChallenge(ctx, &blockenginepb.GenerateAuthChallengeRequest{Pubkey: c.pubkey})
	if err != nil {
		return wrap(TransportFailed, err)
	}
	if challengeResp.Challenge == "" {
		return wrap(NotFound, fmt.Errorf("empty challenge for pubkey"))
	}

	sig := ed25519.Sign(c.signer, []byte(challengeResp.Challenge))

	tokenResp, err := c.client.GenerateAuthTokens(ctx, &blockenginepb.GenerateAuthTokensRequest{
		Pubkey:          c.pubkey,
		SignedChallenge: sig,
	})
	if err != nil {
		return wrap(TransportFailed, err)
	}
	if tokenResp.AccessToken == "" {
		return wrap(BadChallenge, fmt.Errorf("server rejected signed challenge"))
	}

	c.mu.Lock()
	c.current = Token{AccessToken: tokenResp.AccessToken, ExpiresAt: time.Unix(tokenResp.AccessExpiresAt, 0)}
	c.refresh = tokenResp.RefreshToken
	c.mu.Unlock()
	return nil
}

func (c *Client) refreshLoop() {
	for {
		c.mu.RLock()
		wait := time.Until(c.current.ExpiresAt) - safetyMargin
		c.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-c.stop:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.refreshWithRetry(ctx)
		cancel()
		if err != nil {
			c.failures.Add(1)
			if c.log != nil {
				c.log.Error("access token refresh failed, re-running handshake", "err", err)
			}
			hctx, hcancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := c.handshakeWithRetry(hctx); err != nil && c.log != nil {
				c.log.Error("handshake retry after refresh failure also failed", "err", err)
			}
			hcancel()
		}
	}
}

func (c *Client) refreshWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := c.doRefresh(ctx)
		if err == nil {
			return nil
		}
		var authErr *Error
		if !errors.As(err, &authErr) || authErr.Kind != TransportFailed {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return lastErr
		case <-c.stop:
			return lastErr
		case <-time.After(backoff(attempt)):
		}
		if err := c.retryLimiter.Wait(ctx); err != nil {
			return lastErr
		}
	}
}

func (c *Client) doRefresh(ctx context.Context) error {
	c.mu.RLock()
	refreshToken := c.refresh
	c.mu.RUnlock()

	resp, err := c.client.RefreshAccessToken(ctx, &blockenginepb.RefreshAccessTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return wrap(TransportFailed, err)
	}
	if resp.AccessToken == "" {
		return wrap(BadChallenge, fmt.Errorf("server rejected refresh token"))
	}
	c.mu.Lock()
	c.current = Token{AccessToken: resp.AccessToken, ExpiresAt: time.Unix(resp.AccessExpiresAt, 0)}
	c.mu.Unlock()
	return nil
}

// Current returns the latest access token. Callers should check
// Token.valid if they need to know whether it is still live; request
// paths typically just attach AccessToken to the outgoing call and let
// the server reject expired tokens, relying on the background
// refresher to keep this rare.
func (c *Client) Current() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Client) Failures() uint64 { return c.failures.Load() }

// Stop ends the background refresh loop.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// backoff returns a capped exponential delay with full jitter for
// retry attempt n (0-indexed).
func backoff(attempt int) time.Duration {
	d := baseBackoff << attempt
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	return time.Duration(rand.Int63n(int64(d)))
}
