package firefly

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	defaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "firefly-go/0.1"
)

// Query parameter names carrying the device credentials on every request.
const (
	paramDeviceID = "ffauth_device_id"
	paramSecret   = "ffauth_secret" //nolint:gosec // G101: parameter name, not a credential
)

// Credentials identify a registered device. The secret is issued by the
// portal's login page for the device ID.
type Credentials struct {
	DeviceID string
	Secret   string
}

// CredentialSource provides device credentials. Defined at the consumer per
// Go convention "accept interfaces, return structs".
type CredentialSource interface {
	Credentials() (Credentials, error)
}

// StaticCredentials is a CredentialSource that always returns itself.
type StaticCredentials Credentials

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials() (Credentials, error) {
	if s.DeviceID == "" || s.Secret == "" {
		return Credentials{}, fmt.Errorf("firefly: credentials incomplete (login required)")
	}

	return Credentials(s), nil
}

// Client is an HTTP client for one Firefly school host. It handles request
// construction, credential query parameters, retry with exponential backoff
// for idempotent requests, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	logger     *slog.Logger
	userAgent  string
	maxRetries int
	recipient  User

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// nowFunc stamps confirmation events the server returns without a time.
	nowFunc func() time.Time
}

// NewClient creates a client for the school host at baseURL, typically
// "https://<hostname>" as returned by LookupHostname.
func NewClient(baseURL string, httpClient *http.Client, creds CredentialSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
		userAgent:  userAgent,
		maxRetries: defaultMaxRetries,
		sleepFunc:  timeSleep,
		nowFunc:    time.Now,
	}
}

// BaseURLForHost returns the API base URL for a school hostname.
func BaseURLForHost(hostname string) string {
	return "https://" + hostname
}

// SetMaxRetries overrides the retry budget for idempotent requests.
// Negative values are treated as zero.
func (c *Client) SetMaxRetries(n int) {
	c.maxRetries = max(n, 0)
}

// SetRecipient sets the user on whose behalf responses are posted.
func (c *Client) SetRecipient(u User) {
	c.recipient = u
}

// request describes one API call. Only idempotent requests are retried:
// resubmitting a response event would duplicate it on the server.
type request struct {
	method      string
	path        string // appended to baseURL; absolute URLs are used verbatim
	query       url.Values
	body        []byte
	contentType string
	idempotent  bool
	anonymous   bool // skip credential parameters
}

// do executes req and returns the response for a 2xx status. The caller is
// responsible for closing the response body on success.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	target, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	retries := 0
	if req.idempotent {
		retries = c.maxRetries
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, req, target)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("firefly: request canceled: %w", ctx.Err())
			}

			if attempt < retries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", req.method),
					slog.String("path", req.path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("firefly: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("firefly: %s %s failed after %d attempts: %w", req.method, req.path, attempt+1, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < retries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("firefly: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// buildURL resolves the request path against the base URL and appends the
// credential parameters. Credentials are never logged.
func (c *Client) buildURL(req request) (string, error) {
	raw := req.path
	if !strings.HasPrefix(raw, "http") {
		raw = c.baseURL + req.path
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("firefly: invalid request URL: %w", err)
	}

	q := u.Query()
	for k, vs := range req.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	if !req.anonymous {
		if c.creds == nil {
			return "", fmt.Errorf("firefly: no credentials configured")
		}

		creds, err := c.creds.Credentials()
		if err != nil {
			return "", fmt.Errorf("firefly: obtaining credentials: %w", err)
		}

		q.Set(paramDeviceID, creds.DeviceID)
		q.Set(paramSecret, creds.Secret)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// doOnce executes a single HTTP request (no retry). The body is rebuilt on
// every attempt from the request's byte slice.
func (c *Client) doOnce(ctx context.Context, req request, target string) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	return c.httpClient.Do(httpReq)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
