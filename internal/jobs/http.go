package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yairfalse/vahti/pkg/config"
)

const maxRedirects = 10

var errTooManyRedirects = errors.New("too many redirects")

// HTTPClient performs the requests of URL jobs with a rate limit per host
type HTTPClient struct {
	client    *http.Client
	userAgent string
	rps       float64
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPClient creates a client from the http configuration section
func NewHTTPClient(cfg config.HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("%w (%d)", errTooManyRedirects, len(via))
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		rps:       cfg.RequestsPerSecond,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Do sends req once the host's rate limit allows it
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if limiter := c.limiter(req.URL.Host); limiter != nil {
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.client.Do(req)
}

// limiter returns the limiter of host; nil when requests are not limited
func (c *HTTPClient) limiter(host string) *rate.Limiter {
	if c.rps <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.rps), c.burst)
		c.limiters[host] = l
	}
	return l
}

// withTimeout bounds ctx by a per-job timeout given in seconds
func withTimeout(ctx context.Context, seconds float64) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(seconds*float64(time.Second)))
}
