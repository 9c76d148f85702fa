package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfter caps how long a Retry-After header can hold up a request.
const maxRetryAfter = 30 * time.Second

// ErrorDecoder reads an exchange's error body. It returns the exchange's own
// message ("" keeps the HTTP status text) and whether the response means the
// requested instrument does not exist.
type ErrorDecoder func(status int, body []byte) (message string, notFound bool)

// APIError is a non-2xx response from an exchange API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte

	// RetryAfter is the delay requested by the exchange, zero if none.
	RetryAfter time.Duration

	// NotFound marks unknown symbol or product responses.
	NotFound bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrNotFound) match unknown-instrument responses.
func (e *APIError) Unwrap() error {
	if e.NotFound {
		return ErrNotFound
	}
	return nil
}

// IsRetryable reports whether the request may succeed if sent again.
func (e *APIError) IsRetryable() bool {
	if e.NotFound {
		return false
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// doRequest performs a GET against path and returns the raw body.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, c.apiError(resp, body)
	}
	return body, nil
}

// apiError builds the APIError for a failed response, letting the exchange's
// decoder fill in its message and not-found signal.
func (c *Client) apiError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	if c.decodeError != nil {
		msg, notFound := c.decodeError(resp.StatusCode, body)
		if msg != "" {
			apiErr.Message = msg
		}
		apiErr.NotFound = notFound
	}
	return apiErr
}

// parseRetryAfter reads a Retry-After value in delta-seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// retryWait jitters backoff into [0.5, 1.5) of itself. A longer Retry-After
// from the exchange wins, up to maxRetryAfter.
func retryWait(backoff, after time.Duration) time.Duration {
	wait := backoff / 2
	if backoff > 0 {
		wait += time.Duration(rand.Int64N(int64(backoff)))
	}
	if after > wait {
		wait = min(after, maxRetryAfter)
	}
	return wait
}

// doWithRetry retries 5xx and 429 responses with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	backoff := c.retryBackoff

	for attempt := 0; ; attempt++ {
		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		wait := retryWait(backoff, apiErr.RetryAfter)
		c.logger.Debug("retrying request",
			"attempt", attempt+1,
			"status", apiErr.StatusCode,
			"wait", wait,
			"path", path,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// get performs a GET with retries and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
