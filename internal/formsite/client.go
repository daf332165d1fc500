package formsite

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	CollectorKind = "formsite"

	DefaultTimeout        = 60 * time.Second
	DefaultMaxRetries     = 4
	DefaultRateLimitDelay = 60 * time.Second
)

var (
	defaultHeaders = map[string]string{
		"User-Agent":      "fsexport/0.1.0",
		"Accept":          "application/json",
		"Accept-Encoding": "gzip",
	}
)

type Config struct {
	Token     string
	Server    string
	Directory string
	// BaseURL overrides https://{server}.formsite.com/api/v2/{directory}.
	BaseURL        string
	Headers        map[string]string
	Timeout        time.Duration
	MaxRetries     int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	RateLimitDelay time.Duration
}

// Client talks to the Formsite API of one server and directory.
type Client struct {
	server     string
	directory  string
	baseURL    *url.URL
	httpClient *http.Client
	headers    map[string]string
	logger     *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.Token == "" || cfg.Server == "" || cfg.Directory == "" {
		return nil, ErrMissingCredential
	}

	raw := cfg.BaseURL
	if raw == "" {
		raw = fmt.Sprintf("https://%s.formsite.com/api/v2/%s", cfg.Server, cfg.Directory)
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url '%s': %w", raw, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https scheme, got: %s", parsedURL.Scheme)
	}
	parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/") + "/"

	headers := lo.Assign(defaultHeaders, cfg.Headers)
	headers["Authorization"] = "bearer " + cfg.Token

	client := &Client{
		server:    cfg.Server,
		directory: cfg.Directory,
		baseURL:   parsedURL,
		headers:   headers,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		client.httpClient = newRetryingClient(cfg, client.logger)
	}

	return client, nil
}

// newRetryingClient retries connection errors, 429 and 5xx responses. A 429
// without Retry-After waits the rate limit delay.
func newRetryingClient(cfg Config, logger *zap.Logger) *http.Client {
	timeout := lo.CoalesceOrEmpty(cfg.Timeout, DefaultTimeout)
	rateLimitDelay := lo.CoalesceOrEmpty(cfg.RateLimitDelay, DefaultRateLimitDelay)

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: cleanhttp.DefaultPooledTransport(),
		Timeout:   timeout,
	}
	rc.RetryMax = DefaultMaxRetries
	if cfg.MaxRetries > 0 {
		rc.RetryMax = cfg.MaxRetries
	}
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.Logger = &retryLogger{logger: logger.Named("http")}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests && resp.Header.Get("Retry-After") == "" {
			return rateLimitDelay
		}
		return retryablehttp.DefaultBackoff(min, max, attempt, resp)
	}

	return rc.StandardClient()
}

func (c *Client) Name() string {
	return fmt.Sprintf("%s(%s/%s)", CollectorKind, c.server, c.directory)
}

func (c *Client) Kind() string {
	return CollectorKind
}

func (c *Client) Start(ctx context.Context) error {
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) Server() string {
	return c.server
}

func (c *Client) Directory() string {
	return c.directory
}

func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	return c.httpClient.Do(req)
}

// getJSON decodes the JSON response of a GET request to path (relative to the
// base url) into out. Numbers decode as json.Number.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) (http.Header, error) {
	reqURL := c.baseURL.JoinPath(path)
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() { _ = gzipReader.Close() }()
		body = gzipReader
	}

	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response from %s: %w", path, err)
	}

	return resp.Header, nil
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *zap.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Sugar().Warnw(msg, keysAndValues...)
}

var _ engine.Collector = (*Client)(nil)
