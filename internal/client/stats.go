package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"nbapred/pipeline/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Request outcome classes. Every response is classified exactly once;
// the retry loop acts on the class, never on the raw error.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetryable
	outcomeFatal
)

// classifyStatus maps an HTTP status code to a retry outcome.
// Rate limiting and server-side failures are retryable; any other
// client error is fatal and must not burn the retry budget.
func classifyStatus(status int) outcome {
	switch {
	case status == http.StatusOK:
		return outcomeOK
	case status == http.StatusTooManyRequests:
		return outcomeRetryable
	case status >= 500:
		return outcomeRetryable
	default:
		return outcomeFatal
	}
}

// Backoff returns the delay before the given retry attempt (1-based).
// Pure function of the attempt number: base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base * time.Duration(1<<uint(attempt-1))
}

// CollectionError is returned when a fetch ultimately fails, either
// because the retry budget ran out or because the upstream answered
// with a non-retryable status. Callers skip the affected work item.
type CollectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection failed for %s after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Config holds stats client settings.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	RateLimitDelay time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Client is the NBA stats API client. All requests share one pacing
// limiter, so the minimum inter-call delay holds across endpoints.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// The stats API rejects requests without browser-like headers.
var statsHeaders = map[string]string{
	"User-Agent":         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Accept":             "application/json",
	"Referer":            "https://stats.nba.com/",
	"x-nba-stats-origin": "stats",
	"x-nba-stats-token":  "true",
}

// NewClient creates a new stats API client
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:        cfg.BaseURL,
		limiter:        rate.NewLimiter(rate.Every(cfg.RateLimitDelay), 1),
		maxRetries:     cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// get performs a GET request to a stats endpoint with pacing and retry.
// The returned error is always a *CollectionError when the fetch failed
// upstream, so callers classify with a single errors.As check.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	requestURL := fmt.Sprintf("%s/%s", c.baseURL, endpoint)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := Backoff(c.retryBaseDelay, attempt)
			log.Info().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying API request after backoff")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		// Pacing: every attempt waits for the inter-call delay
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		for key, value := range statsHeaders {
			req.Header.Set(key, value)
		}

		if len(params) > 0 {
			req.URL.RawQuery = params.Encode()
		}

		log.Debug().
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Msg("Making API request")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordAPICall(endpoint, "error", time.Since(start).Seconds())
			lastErr = fmt.Errorf("API request failed: %w", err)
			if attempt < c.maxRetries {
				continue
			}
			break
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			if attempt < c.maxRetries {
				continue
			}
			break
		}

		switch classifyStatus(resp.StatusCode) {
		case outcomeOK:
			metrics.RecordAPICall(endpoint, "ok", time.Since(start).Seconds())
			log.Debug().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Int("size", len(body)).
				Msg("API request successful")
			return body, nil

		case outcomeRetryable:
			metrics.RecordAPICall(endpoint, "retryable", time.Since(start).Seconds())
			lastErr = fmt.Errorf("API returned retryable status %d", resp.StatusCode)
			if attempt < c.maxRetries {
				log.Warn().
					Str("endpoint", endpoint).
					Int("status", resp.StatusCode).
					Int("attempt", attempt+1).
					Msg("Received retryable error, will retry")
				continue
			}

		case outcomeFatal:
			metrics.RecordAPICall(endpoint, "fatal", time.Since(start).Seconds())
			return nil, &CollectionError{
				Endpoint: endpoint,
				Attempts: attempt + 1,
				Err:      fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(body, 200)),
			}
		}

		// Retryable failure with an exhausted budget falls through
		break
	}

	return nil, &CollectionError{
		Endpoint: endpoint,
		Attempts: c.maxRetries + 1,
		Err:      lastErr,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
