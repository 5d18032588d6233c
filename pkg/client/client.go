// Package client provides the ArcGIS REST request executor: token merging,
// bounded retry with backoff, response decoding and error classification.
package client

import (
	"bytes"
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

	"github.com/Sternrassler/arcgis-client/pkg/auth"
	"github.com/Sternrassler/arcgis-client/pkg/cache"
	"github.com/Sternrassler/arcgis-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_requests_total",
		Help: "Total ArcGIS HTTP attempts by endpoint and outcome",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arcgis_request_duration_seconds",
		Help:    "ArcGIS request duration in seconds by endpoint, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_errors_total",
		Help: "Total classified ArcGIS errors by kind",
	}, []string{"kind"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arcgis_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcgis_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"kind"})
)

// Default request parameters.
const (
	ParamFormat   = "f"
	ParamToken    = "token"
	DefaultFormat = "json"
)

// Client executes requests against ArcGIS REST endpoints.
type Client struct {
	httpClient *http.Client
	auth       *auth.Context
	cache      *cache.Manager
	retrier    *retrier
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// UserAgent header sent with every request.
	UserAgent string

	// Auth holds the default token. Clients sharing one Context share its token.
	// A private empty Context is created when nil.
	Auth *auth.Context

	// HTTPClient overrides the outbound client. RequestTimeout is ignored when set.
	HTTPClient *http.Client

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration

	// Retry
	MaxRetries     int // total attempts per request, including the first
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffJitter  float64

	// Metadata caching (0 TTL disables it)
	MetadataCacheTTL time.Duration
	MemoryCacheSize  int           // entries kept in the in-process LRU layer
	Redis            *redis.Client // optional shared layer
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	retry := DefaultRetryConfig()
	return Config{
		UserAgent:        userAgent,
		RequestTimeout:   30 * time.Second,
		MaxRetries:       retry.MaxAttempts,
		InitialBackoff:   retry.InitialBackoff,
		MaxBackoff:       retry.MaxBackoff,
		BackoffJitter:    retry.Jitter,
		MetadataCacheTTL: 5 * time.Minute,
		MemoryCacheSize:  256,
	}
}

// New creates a new ArcGIS client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}

	if cfg.InitialBackoff < 0 || cfg.MaxBackoff < 0 {
		return nil, fmt.Errorf("backoff durations must not be negative")
	}

	if cfg.BackoffJitter < 0 || cfg.BackoffJitter >= 1 {
		return nil, fmt.Errorf("backoff_jitter must be in [0, 1) (got %v)", cfg.BackoffJitter)
	}

	logger := logging.NewLogger("arcgis-client")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	authCtx := cfg.Auth
	if authCtx == nil {
		authCtx = auth.NewContext("")
	}

	var cacheManager *cache.Manager
	if cfg.MetadataCacheTTL > 0 && (cfg.Redis != nil || cfg.MemoryCacheSize > 0) {
		m, err := cache.NewManager(cfg.Redis, cfg.MemoryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create metadata cache: %w", err)
		}
		cacheManager = m
	}

	retryCfg := DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.MaxRetries
	retryCfg.InitialBackoff = cfg.InitialBackoff
	retryCfg.MaxBackoff = cfg.MaxBackoff
	retryCfg.Jitter = cfg.BackoffJitter
	retry := newRetrier(retryCfg, logger)

	return &Client{
		httpClient: httpClient,
		auth:       authCtx,
		cache:      cacheManager,
		retrier:    retry,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Request describes one logical call. Retries reuse it unchanged.
type Request struct {
	// URL is the full endpoint URL, e.g. ".../FeatureServer/0/query".
	URL string

	// Params are the endpoint parameters; token and f are merged in.
	Params url.Values

	// Method is GET (default) or POST. POST sends the parameters as a form body.
	Method string

	// Token overrides the auth context's default when non-empty.
	Token string
}

// Execute performs req with retry and returns the decoded body or a
// *ClassifiedError.
func (c *Client) Execute(ctx context.Context, req Request) (Body, error) {
	endpoint := endpointLabel(req.URL)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, NewError(KindClient, 0, fmt.Sprintf("unsupported method %q", req.Method), nil)
	}

	values := c.mergeParams(req)

	c.logger.Debug().
		Str("url", req.URL).
		Str("method", method).
		Msg("Executing ArcGIS request")

	var body Body
	err := c.retrier.do(ctx, func(attempt int) error {
		b, aerr := c.attempt(ctx, method, req.URL, values)
		if aerr != nil {
			var ce *ClassifiedError
			if errors.As(aerr, &ce) {
				errorsTotal.WithLabelValues(string(ce.Kind)).Inc()
				requestsTotal.WithLabelValues(endpoint, statusLabel(ce)).Inc()
				c.logger.Warn().
					Str("url", req.URL).
					Int("attempt", attempt).
					Str("error_kind", string(ce.Kind)).
					Int("code", ce.Code).
					Bool("retryable", ce.Retryable).
					Msg("ArcGIS request error")
			}
			return aerr
		}
		requestsTotal.WithLabelValues(endpoint, "ok").Inc()
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Metadata fetches the JSON description of a service or layer. Responses are
// served from the metadata cache when one is configured.
func (c *Client) Metadata(ctx context.Context, serviceURL, token string) (Body, error) {
	return c.metadata(ctx, serviceURL, token, true)
}

// RefreshMetadata fetches metadata from the server, bypassing cached entries,
// and stores the fresh copy.
func (c *Client) RefreshMetadata(ctx context.Context, serviceURL, token string) (Body, error) {
	return c.metadata(ctx, serviceURL, token, false)
}

func (c *Client) metadata(ctx context.Context, serviceURL, token string, useCache bool) (Body, error) {
	resolved := c.auth.Resolve(token)
	key := cache.CacheKey{ServiceURL: serviceURL, Token: resolved}

	if c.cache != nil && useCache {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			var b Body
			if jerr := json.Unmarshal(entry.Data, &b); jerr == nil {
				c.logger.Debug().Str("url", serviceURL).Msg("Metadata served from cache")
				return b, nil
			}
			c.logger.Warn().Str("url", serviceURL).Msg("Discarding undecodable cached metadata")
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("url", serviceURL).Msg("Metadata cache get error")
		}
	}

	body, err := c.Execute(ctx, Request{URL: serviceURL, Token: token})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		data, merr := json.Marshal(body)
		if merr == nil {
			if serr := c.cache.Set(ctx, key, cache.NewEntry(data, c.config.MetadataCacheTTL)); serr != nil {
				c.logger.Warn().Err(serr).Str("url", serviceURL).Msg("Failed to cache metadata")
			}
		}
	}

	return body, nil
}

// attempt performs a single HTTP round trip and decodes it.
func (c *Client) attempt(ctx context.Context, method, target string, values url.Values) (Body, error) {
	httpReq, err := buildHTTPRequest(ctx, method, target, values)
	if err != nil {
		return nil, NewError(KindClient, 0, "build request", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransport(ctx, fmt.Errorf("read response body: %w", err))
	}

	return Decode(resp.StatusCode, raw)
}

// mergeParams copies the caller's params and adds the resolved token and the
// response format.
func (c *Client) mergeParams(req Request) url.Values {
	values := make(url.Values, len(req.Params)+2)
	for k, v := range req.Params {
		values[k] = append([]string(nil), v...)
	}
	if values.Get(ParamFormat) == "" {
		values.Set(ParamFormat, DefaultFormat)
	}
	if tok := c.auth.Resolve(req.Token); tok != "" {
		values.Set(ParamToken, tok)
	}
	return values
}

func buildHTTPRequest(ctx context.Context, method, target string, values url.Values) (*http.Request, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if method == http.MethodPost {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewBufferString(values.Encode()))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	q := u.Query()
	for k, v := range values {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// endpointLabel keeps metric cardinality low: only the operation is recorded.
func endpointLabel(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "invalid"
	}
	if strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/query") {
		return "query"
	}
	return "metadata"
}

func statusLabel(ce *ClassifiedError) string {
	if ce.Code != 0 {
		return strconv.Itoa(ce.Code)
	}
	return string(ce.Kind)
}

// Auth returns the token context used by this client.
func (c *Client) Auth() *auth.Context {
	return c.auth
}

// Close releases cached state. The Redis client, if any, is owned by the caller.
func (c *Client) Close() error {
	if c.cache != nil {
		c.cache.Purge()
	}
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the metadata cache manager, nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
