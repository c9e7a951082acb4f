package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/water-meter-bridge/internal/metrics"
)

// ErrCredential marks failures to obtain a push gateway access token
var ErrCredential = errors.New("credential error")

// CredentialSource fetches a fresh access token from the identity provider
type CredentialSource interface {
	Fetch(ctx context.Context) (string, error)
}

// CredentialState describes the cache from the caller's point of view
type CredentialState string

const (
	CredentialAbsent  CredentialState = "absent"
	CredentialValid   CredentialState = "valid"
	CredentialExpired CredentialState = "expired"
)

// CredentialCache keeps the last fetched access token for ttl. Refreshes
// happen under the lock, so concurrent callers that find the token expired
// share a single fetch.
type CredentialCache struct {
	source CredentialSource
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// NewCredentialCache creates a cache in the absent state
func NewCredentialCache(source CredentialSource, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// AccessToken returns the cached token while it is younger than the ttl.
// forceRefresh bypasses the cache. A failed fetch leaves the cache as it was.
func (c *CredentialCache) AccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && c.stateLocked() == CredentialValid {
		return c.token, nil
	}

	token, err := c.source.Fetch(ctx)
	if err != nil {
		metrics.CredentialFetchesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: %w", ErrCredential, err)
	}
	if token == "" {
		metrics.CredentialFetchesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: identity provider returned an empty token", ErrCredential)
	}

	metrics.CredentialFetchesTotal.WithLabelValues("success").Inc()
	c.token = token
	c.issuedAt = c.now()

	return token, nil
}

// State reports whether a usable token is cached
func (c *CredentialCache) State() CredentialState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *CredentialCache) stateLocked() CredentialState {
	if c.token == "" {
		return CredentialAbsent
	}
	if c.now().Sub(c.issuedAt) >= c.ttl {
		return CredentialExpired
	}
	return CredentialValid
}
