package exchange

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultUserAgent    = "crypto-market-server"
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
)

// Client is the JSON REST client shared by the adapters. Each adapter owns
// one Client and installs the ErrorDecoder for its exchange's error bodies.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	decodeError ErrorDecoder

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		logger:       slog.Default(),
		userAgent:    defaultUserAgent,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// useErrorDecoder installs d unless a decoder was already set by option.
func (c *Client) useErrorDecoder(d ErrorDecoder) {
	if c.decodeError == nil {
		c.decodeError = d
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times 5xx and 429 responses are retried and the
// initial backoff between attempts.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithErrorDecoder overrides the adapter's error body decoder.
func WithErrorDecoder(d ErrorDecoder) ClientOption {
	return func(c *Client) { c.decodeError = d }
}
