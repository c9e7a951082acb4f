package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu     sync.Mutex
	calls  int
	err    error
	prefix string
}

func (s *countingSource) Fetch(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("%s-%d", s.prefix, s.calls), nil
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type gateway struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	handler  func(attempt int, w http.ResponseWriter, r *http.Request)
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.requests = append(g.requests, r)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	g.bodies = append(g.bodies, body)
	attempt := len(g.requests)
	g.mu.Unlock()

	g.handler(attempt, w, r)
}

func (g *gateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func newTestClient(t *testing.T, g *gateway, source CredentialSource) *Client {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	return NewClient(ClientConfig{
		BaseURL:     srv.URL,
		ProjectID:   "aquameter",
		Timeout:     2 * time.Second,
		Credentials: NewCredentialCache(source, 50*time.Minute),
	})
}

func TestSend_EmptyTokenSkipsWithoutNetwork(t *testing.T) {
	g := &gateway{handler: func(int, http.ResponseWriter, *http.Request) {
		t.Error("gateway must not be called")
	}}
	source := &countingSource{prefix: "cred"}
	client := newTestClient(t, g, source)

	res, err := client.Send(context.Background(), "", "title", "body")

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, DetailMissingToken, res.Detail)
	assert.Equal(t, 0, g.Count())
	assert.Equal(t, 0, source.Calls())
}

func TestSend_Success(t *testing.T) {
	g := &gateway{handler: func(_ int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"projects/aquameter/messages/0:1"}`))
	}}
	client := newTestClient(t, g, &countingSource{prefix: "cred"})

	res, err := client.Send(context.Background(), "device-token", "Water usage increased", "100 to 150")

	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "projects/aquameter/messages/0:1", res.Payload["name"])

	require.Equal(t, 1, g.Count())
	req := g.requests[0]
	assert.Equal(t, "/v1/projects/aquameter/messages:send", req.URL.Path)
	assert.Equal(t, "Bearer cred-1", req.Header.Get("Authorization"))

	msg := g.bodies[0]["message"].(map[string]any)
	assert.Equal(t, "device-token", msg["token"])
	notif := msg["notification"].(map[string]any)
	assert.Equal(t, "Water usage increased", notif["title"])
	assert.Equal(t, "100 to 150", notif["body"])
}

func TestSend_ReusesCachedCredential(t *testing.T) {
	g := &gateway{handler: func(_ int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}}
	source := &countingSource{prefix: "cred"}
	client := newTestClient(t, g, source)

	for i := 0; i < 3; i++ {
		_, err := client.Send(context.Background(), "device-token", "t", "b")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, source.Calls())
}

func TestSend_NotFoundIsInvalidToken(t *testing.T) {
	g := &gateway{handler: func(_ int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"status":"NOT_FOUND"}}`))
	}}
	client := newTestClient(t, g, &countingSource{prefix: "cred"})

	res, err := client.Send(context.Background(), "stale", "t", "b")

	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidToken, res.Outcome)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSend_InvalidArgumentBodyIsInvalidToken(t *testing.T) {
	g := &gateway{handler: func(_ int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"The registration token is not a valid FCM registration token","status":"INVALID_ARGUMENT","details":[{"errorCode":"INVALID_ARGUMENT"}]}}`))
	}}
	client := newTestClient(t, g, &countingSource{prefix: "cred"})

	res, err := client.Send(context.Background(), "garbage", "t", "b")

	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidToken, res.Outcome)
}

func TestSend_OtherStatusIsError(t *testing.T) {
	g := &gateway{handler: func(_ int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"status":"UNAVAILABLE"}}`))
	}}
	client := newTestClient(t, g, &countingSource{prefix: "cred"})

	res, err := client.Send(context.Background(), "device-token", "t", "b")

	require.NoError(t, err)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, 1, g.Count())
}

func TestSend_UnauthorizedRetriesOnceWithFreshCredential(t *testing.T) {
	g := &gateway{handler: func(attempt int, w http.ResponseWriter, r *http.Request) {
		if attempt == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}}
	source := &countingSource{prefix: "cred"}
	client := newTestClient(t, g, source)

	res, err := client.Send(context.Background(), "device-token", "t", "b")

	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, 2, g.Count())
	assert.Equal(t, "Bearer cred-1", g.requests[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer cred-2", g.requests[1].Header.Get("Authorization"))
	assert.Equal(t, g.bodies[0], g.bodies[1])
	assert.Equal(t, 2, source.Calls())
}

func TestSend_SecondUnauthorizedIsRetryFailed(t *testing.T) {
	g := &gateway{handler: func(_ int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"status":"UNAUTHENTICATED"}}`))
	}}
	client := newTestClient(t, g, &countingSource{prefix: "cred"})

	res, err := client.Send(context.Background(), "device-token", "t", "b")

	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryFailed, res.Outcome)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, 2, g.Count())
}

func TestSend_RetryWithOtherFailureIsRetryFailed(t *testing.T) {
	g := &gateway{handler: func(attempt int, w http.ResponseWriter, r *http.Request) {
		if attempt == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}}
	client := newTestClient(t, g, &countingSource{prefix: "cred"})

	res, err := client.Send(context.Background(), "device-token", "t", "b")

	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryFailed, res.Outcome)
	assert.Equal(t, 2, g.Count())
}

func TestSend_TransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(ClientConfig{
		BaseURL:     url,
		ProjectID:   "aquameter",
		Timeout:     time.Second,
		Credentials: NewCredentialCache(&countingSource{prefix: "cred"}, time.Hour),
	})

	res, err := client.Send(context.Background(), "device-token", "t", "b")

	require.NoError(t, err)
	assert.Equal(t, OutcomeNetworkError, res.Outcome)
	assert.NotEmpty(t, res.Detail)
}

func TestSend_CredentialFailure(t *testing.T) {
	g := &gateway{handler: func(int, http.ResponseWriter, *http.Request) {
		t.Error("gateway must not be called without a credential")
	}}
	client := newTestClient(t, g, &countingSource{err: errors.New("invalid_grant")})

	res, err := client.Send(context.Background(), "device-token", "t", "b")

	assert.ErrorIs(t, err, ErrCredential)
	assert.Equal(t, OutcomeCredentialError, res.Outcome)
	assert.Equal(t, 0, g.Count())
}
