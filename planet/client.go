package planet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.planet.com/data/v1"

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string

	// PageSize is passed as _page_size on searches. Zero leaves it to the server.
	PageSize int

	// RequestsPerSecond paces every outgoing call. Default: 5
	RequestsPerSecond float64

	// RateLimitRetries is how many times a 429 response is retried by the
	// transport before it is handed back to the caller. Default: 4
	RateLimitRetries int

	// Timeout bounds a single HTTP exchange, excluding body streaming on downloads.
	// Default: 60s
	Timeout time.Duration
}

// DefaultOptions returns options pointing at the public Data API.
func DefaultOptions() Options {
	return Options{
		BaseURL:           DefaultBaseURL,
		RequestsPerSecond: 5,
		RateLimitRetries:  4,
		Timeout:           60 * time.Second,
	}
}

// Client talks to the Planet Data API. It is safe for concurrent use; all
// workers of a download batch share one Client.
type Client struct {
	APIKey string

	opts    Options
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

func newHTTP(opts Options) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = nil
	if log.GetLevel() >= log.DebugLevel {
		c.Logger = log.StandardLogger()
	}
	c.RetryMax = opts.RateLimitRetries
	c.CheckRetry = retryRateLimited
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.HTTPClient.Timeout = 0
	if t, ok := c.HTTPClient.Transport.(*http.Transport); ok {
		t.ResponseHeaderTimeout = opts.Timeout
	}
	return c
}

// retryRateLimited retries only throttled responses. Everything else is
// classified by the caller, which owns the retry budget for its operation.
func retryRateLimited(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusTooManyRequests, nil
}

// New builds a Client. An empty APIKey is allowed; requests will then fail
// with 401 from the service.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = def.RequestsPerSecond
	}
	if opts.RateLimitRetries < 0 {
		opts.RateLimitRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		APIKey:  opts.APIKey,
		opts:    opts,
		http:    newHTTP(opts),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
	}
}

func (p *Client) do(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(p.APIKey, "")

	res, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		buf := new(strings.Builder)
		io.Copy(buf, io.LimitReader(res.Body, 4096))
		return nil, &APIError{
			StatusCode: res.StatusCode,
			Status:     res.Status,
			Body:       strings.TrimSpace(buf.String()),
		}
	}
	return res, nil
}

func (p *Client) url(format string, args ...interface{}) string {
	return p.opts.BaseURL + fmt.Sprintf(format, args...)
}
