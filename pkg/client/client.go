// Package client provides an HTTP client for a remote gallery API. It serves
// as a pagination.Fetcher with error classification and retries.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gallery-pager/pkg/logging"
	"github.com/Sternrassler/gallery-pager/pkg/pagination"
)

// GalleryPath is the remote endpoint serving raw gallery windows.
const GalleryPath = "/v1/gallery"

// maxBodyBytes caps a gallery response body (records embed whole images).
const maxBodyBytes = 256 << 20

// Prometheus metrics for remote gallery operations.
var (
	galleryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_remote_requests_total",
		Help: "Total remote gallery requests by status",
	}, []string{"status"})

	galleryRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_remote_request_duration_seconds",
		Help:    "Remote gallery request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	galleryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_remote_errors_total",
		Help: "Total remote gallery errors by class",
	}, []string{"class"})

	galleryRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_remote_retries_total",
		Help: "Total number of remote gallery retry attempts by error class",
	}, []string{"error_class"})

	galleryRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gallery_remote_retry_backoff_seconds",
		Help:    "Backoff duration for remote gallery retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	galleryRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_remote_retry_exhausted_total",
		Help: "Total number of times remote gallery retries were exhausted by error class",
	}, []string{"error_class"})
)

var _ pagination.Fetcher = (*Client)(nil)

// RateLimiter gates remote requests on a rate limit shared between instances.
// *ratelimit.Tracker implements it.
type RateLimiter interface {
	ShouldAllowRequest(ctx context.Context) (allowed bool, wait time.Duration, err error)
	RecordRateLimit(ctx context.Context, retryAfter time.Duration) error
}

// Client fetches raw gallery windows from a remote gallery API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the remote gallery API (REQUIRED), e.g. "http://gallery:8080"
	BaseURL string

	// User-Agent header
	UserAgent string

	// Timeout per HTTP request
	Timeout time.Duration

	// Retry policy for server, rate limit and network errors
	Retry RetryConfig

	// RateLimiter is optional. When set, requests are withheld while it
	// reports a block and 429 responses are recorded in it.
	RateLimiter RateLimiter
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "gallery-pager/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new remote gallery client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("base url has no host (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "gallery-pager/0.1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Retry = cfg.Retry.withDefaults()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		config:  cfg,
		logger:  logging.NewLogger("gallery-client"),
	}, nil
}

// FetchPage implements pagination.Fetcher.
// Server, rate limit and network errors are retried; the returned error is a
// *GalleryError, possibly wrapped in ErrRetryExhausted.
func (c *Client) FetchPage(ctx context.Context, limit, offset int) ([]pagination.RawRecord, error) {
	endpoint := c.pageURL(limit, offset)

	var records []pagination.RawRecord
	err := retryWithBackoff(ctx, c.config.Retry, func() error {
		fetched, err := c.fetchOnce(ctx, endpoint)
		if err != nil {
			return err
		}
		records = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// fetchOnce performs a single GET of a gallery window.
func (c *Client) fetchOnce(ctx context.Context, endpoint string) ([]pagination.RawRecord, error) {
	startTime := time.Now()
	defer func() {
		galleryRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	if c.config.RateLimiter != nil {
		allowed, wait, err := c.config.RateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			// Fail open: a broken limiter must not take the gallery down.
			c.logger.Warn().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			galleryErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &GalleryError{
				StatusCode: http.StatusTooManyRequests,
				ErrorClass: ErrorClassRateLimit,
				Message:    "blocked by shared rate limit",
				RetryAfter: wait,
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", endpoint).Msg("Executing gallery request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		galleryRequestsTotal.WithLabelValues("network_error").Inc()
		galleryErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		c.logger.Warn().Err(err).Str("url", endpoint).Msg("Gallery request failed")
		return nil, &GalleryError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	galleryRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		errClass := classifyStatus(resp.StatusCode)
		galleryErrorsTotal.WithLabelValues(string(errClass)).Inc()
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		c.logger.Warn().
			Str("url", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Gallery request error")

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if errClass == ErrorClassRateLimit && c.config.RateLimiter != nil {
			if err := c.config.RateLimiter.RecordRateLimit(ctx, retryAfter); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record rate limit")
			}
		}

		return nil, &GalleryError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
			RetryAfter: retryAfter,
		}
	}

	var records []pagination.RawRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&records); err != nil {
		galleryErrorsTotal.WithLabelValues(string(ErrorClassResponse)).Inc()
		return nil, &GalleryError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassResponse,
			Message:    "invalid response body",
			Err:        err,
		}
	}
	if records == nil {
		records = []pagination.RawRecord{}
	}

	return records, nil
}

// pageURL builds the request URL of a gallery window.
func (c *Client) pageURL(limit, offset int) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + GalleryPath
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	u.RawQuery = query.Encode()
	return u.String()
}

// parseRetryAfter parses a Retry-After header given in seconds.
// HTTP-date values and garbage yield 0.
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
