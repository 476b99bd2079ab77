// Package client provides the jobs API HTTP client with throttling, retries,
// a circuit breaker and an optional page cache.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mcf-jobs-export/pkg/cache"
	"github.com/Sternrassler/mcf-jobs-export/pkg/ratelimit"
	"github.com/Sternrassler/mcf-jobs-export/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const (
	// DefaultBaseURL is the public MyCareersFuture job search endpoint.
	DefaultBaseURL = "https://api.mycareersfuture.gov.sg/v2/jobs/"

	// DefaultUserAgent identifies the exporter to the API.
	DefaultUserAgent = "mcf-jobs-export/0.1.0"
)

// Prometheus metrics for jobs API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcf_requests_total",
		Help: "Total jobs API requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcf_request_duration_seconds",
		Help:    "Jobs API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcf_errors_total",
		Help: "Total jobs API errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcf_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcf_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcf_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcf_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	})
)

// Client fetches pages from the jobs API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	breaker    *gobreaker.CircuitBreaker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the jobs collection; limit and offset are added per page.
	BaseURL string

	// User-Agent header sent with every request
	UserAgent string

	// Timeout per HTTP request
	Timeout time.Duration

	// Retry policy for transient failures
	Retry RetryConfig

	// Circuit breaker: open after BreakerThreshold consecutive transient failures
	// and stay open for BreakerCooldown. A threshold of 0 disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Limiter spaces requests; nil means unthrottled.
	Limiter *ratelimit.Limiter

	// Cache stores page bodies; nil disables caching.
	Cache *cache.Manager

	// CacheTTL is used when a response carries no Expires header.
	CacheTTL time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		UserAgent:        DefaultUserAgent,
		Timeout:          30 * time.Second,
		Retry:            DefaultRetryConfig(),
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		CacheTTL:         cache.DefaultTTL,
	}
}

// New creates a new jobs API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}

	logger := log.With().Str("component", "jobs-client").Logger()

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited()
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		limiter: limiter,
		cache:   cfg.Cache,
		config:  cfg,
		logger:  logger,
	}

	if cfg.BreakerThreshold > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "jobs-api",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
			},
			IsSuccessful: func(err error) bool {
				// Only failures that say something about the remote's health count
				return err == nil || !IsRetryable(err)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				breakerState.Set(float64(to))
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		})
	}

	return c, nil
}

// FetchPage fetches one page of job postings:
// GET {BaseURL}?limit={limit}&offset={offset}, returning the "results" array.
func (c *Client) FetchPage(ctx context.Context, limit, offset int) ([]record.Record, error) {
	pageURL := c.pageURL(limit, offset)
	cacheKey := cache.KeyForURL(pageURL)

	if c.cache != nil {
		if records, ok := c.fromCache(ctx, cacheKey, offset); ok {
			return records, nil
		}
	}

	c.logger.Debug().
		Str("url", pageURL.String()).
		Int("limit", limit).
		Int("offset", offset).
		Msg("Fetching page")

	var page *cache.Page
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var attemptErr error
		page, attemptErr = c.attempt(ctx, pageURL)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	records, err := decodePage(page.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: page.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "malformed results page",
			Err:        err,
		}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, page); err != nil {
			c.logger.Warn().Err(err).Int("offset", offset).Msg("Failed to cache page")
		} else {
			c.logger.Debug().
				Int("offset", offset).
				Dur("ttl", page.TTL()).
				Msg("Cached page")
		}
	}

	return records, nil
}

// fromCache returns the decoded page when a fresh cache entry exists.
func (c *Client) fromCache(ctx context.Context, key cache.CacheKey, offset int) ([]record.Record, bool) {
	page, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Int("offset", offset).Msg("Cache get error")
		}
		return nil, false
	}

	records, err := decodePage(page.Body)
	if err != nil {
		c.logger.Warn().Err(err).Int("offset", offset).Msg("Discarding undecodable cache entry")
		_ = c.cache.Delete(ctx, key)
		return nil, false
	}

	requestsTotal.WithLabelValues("cache").Inc()
	c.logger.Debug().
		Int("offset", offset).
		Dur("age", page.Age()).
		Msg("Page served from cache")
	return records, true
}

// attempt performs one throttled request through the circuit breaker.
func (c *Client) attempt(ctx context.Context, pageURL *url.URL) (*cache.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if c.breaker == nil {
		return c.roundTrip(ctx, pageURL)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, pageURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			errorsTotal.WithLabelValues(string(ErrorClassCircuitOpen)).Inc()
			requestsTotal.WithLabelValues("circuit_open").Inc()
			return nil, &APIError{
				ErrorClass: ErrorClassCircuitOpen,
				Message:    "circuit breaker open",
				Err:        err,
			}
		}
		return nil, err
	}

	return result.(*cache.Page), nil
}

// roundTrip executes a single GET and turns any non-2xx outcome into an APIError.
func (c *Client) roundTrip(ctx context.Context, pageURL *url.URL) (*cache.Page, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Str("url", pageURL.String()).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: errClass,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errClass := c.classifyError(resp, nil)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Str("url", pageURL.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Jobs API request error")

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if body := strings.TrimSpace(string(snippet)); body != "" {
			apiErr.Err = errors.New(body)
		}
		return nil, apiErr
	}

	page, err := cache.PageFromResponse(resp, c.config.CacheTTL)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	return page, nil
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		c.logger.Debug().Str("class", string(ErrorClassNetwork)).Msg("Error classified")
		return ErrorClassNetwork
	}

	var class ErrorClass
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return ""
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == 520:
		class = ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		class = ErrorClassClient
	case resp.StatusCode >= 500:
		class = ErrorClassServer
	default:
		class = ErrorClassUnexpected
	}

	c.logger.Debug().Str("class", string(class)).Msg("Error classified")
	return class
}

// pageURL builds the request URL for one page. Existing query parameters of the
// base URL are kept; limit and offset always win.
func (c *Client) pageURL(limit, offset int) *url.URL {
	u := *c.baseURL
	query := u.Query()
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	u.RawQuery = query.Encode()
	return &u
}

// BaseURL returns the configured collection URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// BreakerState returns the circuit breaker state ("closed", "half-open", "open"),
// or "disabled" when no breaker is configured.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Limiter returns the request throttle.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// pageEnvelope is the subset of the API response the exporter reads.
type pageEnvelope struct {
	Results json.RawMessage `json:"results"`
}

var errMissingResults = errors.New(`response has no "results" array`)

// decodePage extracts the results array from a response body.
func decodePage(body []byte) ([]record.Record, error) {
	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	results := strings.TrimSpace(string(envelope.Results))
	if results == "" || results == "null" || results[0] != '[' {
		return nil, errMissingResults
	}

	var records []record.Record
	if err := json.Unmarshal(envelope.Results, &records); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if records == nil {
		records = []record.Record{}
	}
	return records, nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
