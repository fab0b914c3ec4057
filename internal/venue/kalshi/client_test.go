package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLimiter captures Wait calls and returns a canned error.
type recordingLimiter struct {
	calls  int
	key    string
	limit  int
	window time.Duration
	err    error
}

func (r *recordingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return r.err == nil, r.err
}

func (r *recordingLimiter) Wait(_ context.Context, key string, limit int, window time.Duration) error {
	r.calls++
	r.key, r.limit, r.window = key, limit, window
	return r.err
}

func TestThrottleDelegatesToLimiter(t *testing.T) {
	lim := &recordingLimiter{}
	c := NewClient(ClientConfig{BaseURL: "http://localhost", RateLimitPerSec: 10}, lim)

	require.NoError(t, c.throttle(context.Background()))
	assert.Equal(t, 1, lim.calls)
	assert.Equal(t, "kalshi", lim.key)
	assert.Equal(t, 10, lim.limit)
	assert.Equal(t, time.Second, lim.window)
}

func TestThrottleErrorAbortsRequest(t *testing.T) {
	limErr := errors.New("budget exhausted")
	lim := &recordingLimiter{err: limErr}
	c := NewClient(ClientConfig{BaseURL: "http://localhost", RateLimitPerSec: 10}, lim)

	_, err := c.GetMarket(context.Background(), "KXTEST-26")
	require.ErrorIs(t, err, limErr)
	assert.Equal(t, 1, lim.calls)
}

func TestThrottleSkipsWithoutLimiter(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://localhost"}, nil)
	assert.NoError(t, c.throttle(context.Background()))

	lim := &recordingLimiter{}
	c = NewClient(ClientConfig{BaseURL: "http://localhost", RateLimitPerSec: 0}, lim)
	assert.NoError(t, c.throttle(context.Background()))
	assert.Zero(t, lim.calls)
}

func testClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	c := NewClient(ClientConfig{BaseURL: srvURL, APIKeyID: "test-key"}, nil)
	require.NoError(t, c.SetRSAPrivateKey(pemBytes))
	return c
}

func TestGetMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/KXTEST-26", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		w.Write([]byte(`{"market":{"ticker":"KXTEST-26","status":"settled","result":"yes"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	m, err := c.GetMarket(context.Background(), "KXTEST-26")
	require.NoError(t, err)
	assert.Equal(t, "KXTEST-26", m.Ticker)
	assert.Equal(t, "settled", m.Status)
	assert.Equal(t, "yes", m.Result)
}

func TestGetMarketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"no such market"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.GetMarket(context.Background(), "KXGONE-26")
	require.Error(t, err)
}
