package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string, retries int) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		Timeout:        5 * time.Second,
		RateLimitDelay: time.Millisecond,
		RetryAttempts:  retries,
		RetryBaseDelay: time.Millisecond,
	})
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, outcomeOK, classifyStatus(http.StatusOK))
	assert.Equal(t, outcomeRetryable, classifyStatus(http.StatusTooManyRequests))
	assert.Equal(t, outcomeRetryable, classifyStatus(http.StatusInternalServerError))
	assert.Equal(t, outcomeRetryable, classifyStatus(http.StatusBadGateway))
	assert.Equal(t, outcomeRetryable, classifyStatus(http.StatusServiceUnavailable))
	assert.Equal(t, outcomeRetryable, classifyStatus(http.StatusGatewayTimeout))
	assert.Equal(t, outcomeFatal, classifyStatus(http.StatusBadRequest))
	assert.Equal(t, outcomeFatal, classifyStatus(http.StatusUnauthorized))
	assert.Equal(t, outcomeFatal, classifyStatus(http.StatusForbidden))
	assert.Equal(t, outcomeFatal, classifyStatus(http.StatusNotFound))
}

func TestBackoffIsPureAndExponential(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Duration(0), Backoff(base, 0))
	assert.Equal(t, 1*time.Second, Backoff(base, 1))
	assert.Equal(t, 2*time.Second, Backoff(base, 2))
	assert.Equal(t, 4*time.Second, Backoff(base, 3))

	// Same inputs, same output
	assert.Equal(t, Backoff(base, 2), Backoff(base, 2))
}

func TestGetRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	body, err := c.get(context.Background(), "leaguegamefinder", nil)
	require.NoError(t, err, "Should succeed after retrying the 429")
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "Should have made exactly 2 requests")
}

func TestGetDoesNotRetryFatalStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.get(context.Background(), "leaguegamefinder", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "Fatal status must not burn the retry budget")

	var collErr *CollectionError
	require.ErrorAs(t, err, &collErr)
	assert.Equal(t, "leaguegamefinder", collErr.Endpoint)
	assert.Equal(t, 1, collErr.Attempts)
}

func TestGetExhaustsRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	_, err := c.get(context.Background(), "boxscoresummaryv2", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "Initial attempt plus 2 retries")

	var collErr *CollectionError
	require.ErrorAs(t, err, &collErr)
	assert.Equal(t, "boxscoresummaryv2", collErr.Endpoint)
	assert.Equal(t, 3, collErr.Attempts)
	assert.ErrorContains(t, collErr, "503")
}

func TestGetEnforcesInterCallDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:        srv.URL,
		Timeout:        5 * time.Second,
		RateLimitDelay: 60 * time.Millisecond,
		RetryAttempts:  0,
		RetryBaseDelay: time.Millisecond,
	})

	ctx := context.Background()
	start := time.Now()
	_, err := c.get(ctx, "a", nil)
	require.NoError(t, err)
	_, err = c.get(ctx, "b", nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond,
		"Second call should wait for the inter-call delay")
}

func TestGetHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:        srv.URL,
		Timeout:        5 * time.Second,
		RateLimitDelay: time.Millisecond,
		RetryAttempts:  5,
		RetryBaseDelay: time.Minute, // backoff long enough that cancel wins
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.get(ctx, "leaguegamefinder", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "Cancellation should surface, got: %v", err)
}

func TestGetSendsStatsHeaders(t *testing.T) {
	var gotUA, gotOrigin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotOrigin = r.Header.Get("x-nba-stats-origin")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	_, err := c.get(context.Background(), "leaguegamefinder", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, gotUA)
	assert.Equal(t, "stats", gotOrigin)
}
