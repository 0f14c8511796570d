package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Client is a JSON-over-HTTP client with per-host rate limits and bounded
// retries on transport errors, 429 and 5xx responses.
type Client struct {
	client       *http.Client
	userAgent    string
	maxRetries   uint64
	backoff      time.Duration
	defaultRate  rate.Limit
	defaultBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type FetchError struct {
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch error (status %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("fetch error (status %d): %v", e.Status, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRetries sets how many times a failed request is retried and the initial
// backoff, which doubles on every attempt.
func WithRetries(n uint64, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithRateLimit allows one request per `per` with the given burst, per host.
func WithRateLimit(per time.Duration, burst int) Option {
	return func(c *Client) {
		if per > 0 && burst > 0 {
			c.defaultRate = rate.Every(per)
			c.defaultBurst = burst
		}
	}
}

func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.client.Jar = jar
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 30 * time.Second},
		userAgent:    "telemetry-relay/1.0",
		maxRetries:   3,
		backoff:      500 * time.Millisecond,
		defaultRate:  rate.Every(time.Second),
		defaultBurst: 2,
		limiters:     map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	host = normalizeHost(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(c.defaultRate, c.defaultBurst)
	c.limiters[host] = l
	return l
}

// Do sends the request and returns the body of a 2xx response. Non-2xx
// responses come back as *FetchError once retries are exhausted or the status
// is not retryable.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, header http.Header) ([]byte, int, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return nil, 0, err
	}
	limiter := c.limiterFor(target.Hostname())

	var (
		respBody []byte
		status   int
	)
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(&FetchError{Err: err})
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(&FetchError{Status: status, Err: err})
		}

		if status >= 200 && status < 300 {
			respBody = data
			return nil
		}

		fe := &FetchError{Status: status, Body: truncate(string(data), maxErrorBody)}
		if shouldRetry(status) {
			return retry.RetryableError(fe)
		}
		return fe
	})
	if err != nil {
		return nil, status, err
	}
	return respBody, status, nil
}

func shouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == status
}

func normalizeURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, errors.New("empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u, nil
}

// JoinURL appends path to base, keeping exactly one slash between them.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "default"
	}
	return host
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
