package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialCache_Lifecycle(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	source := &countingSource{prefix: "tok"}
	cache := NewCredentialCache(source, 50*time.Minute)
	cache.now = func() time.Time { return now }

	assert.Equal(t, CredentialAbsent, cache.State())

	tok, err := cache.AccessToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, CredentialValid, cache.State())

	now = now.Add(49 * time.Minute)
	tok, err = cache.AccessToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	now = now.Add(time.Minute)
	assert.Equal(t, CredentialExpired, cache.State())
	tok, err = cache.AccessToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)

	tok, err = cache.AccessToken(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", tok)
	assert.Equal(t, 3, source.Calls())
}

func TestCredentialCache_FailureKeepsState(t *testing.T) {
	source := &countingSource{err: errors.New("metadata server unreachable")}
	cache := NewCredentialCache(source, time.Hour)

	_, err := cache.AccessToken(context.Background(), false)
	assert.ErrorIs(t, err, ErrCredential)
	assert.Equal(t, CredentialAbsent, cache.State())

	source.err = nil
	tok, err := cache.AccessToken(context.Background(), false)
	require.NoError(t, err)

	source.err = errors.New("boom")
	_, err = cache.AccessToken(context.Background(), true)
	assert.ErrorIs(t, err, ErrCredential)
	assert.Equal(t, CredentialValid, cache.State())

	cached, err := cache.AccessToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, tok, cached)
}

func TestCredentialCache_ConcurrentCallersShareFetch(t *testing.T) {
	source := &countingSource{prefix: "tok"}
	cache := NewCredentialCache(source, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.AccessToken(context.Background(), false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, source.Calls())
}
