// Package fetch performs the outbound HTTP GETs for pages and images.
//
// Every request is validated against SSRF (http/https only, optional private IP denial, same check
// on each redirect), rate limited, run through a per-host circuit breaker and read with a size cap.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/cheahjs/og-image-proxy/internal/resilience"
)

var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrPrivateIP        = errors.New("URL resolves to a private address")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrBodyTooLarge     = errors.New("response body too large")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

const maxTrackedHostBreakers = 1024

// StatusError is returned for a non-2xx response. It matches ErrUnexpectedStatus.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d fetching %s", ErrUnexpectedStatus, e.StatusCode, e.URL)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// hostHealthy reports whether err leaves the host's breaker untouched. Only transport failures
// and 5xx responses say something about the host; a missing page or an oversized body does not.
func hostHealthy(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode < http.StatusInternalServerError
	}
	return errors.Is(err, ErrBodyTooLarge) ||
		errors.Is(err, ErrTooManyRedirects) ||
		errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, ErrPrivateIP) ||
		errors.Is(err, context.Canceled)
}

// Config controls a Fetcher.
type Config struct {
	// Name labels the breakers and logs, e.g. "page" or "image".
	Name           string
	Timeout        time.Duration
	MaxBodySize    int64
	MaxRedirects   int
	UserAgent      string
	Accept         string
	DenyPrivateIPs bool
	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	Breaker           resilience.BreakerConfig
}

func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		Timeout:           10 * time.Second,
		MaxBodySize:       10 << 20,
		MaxRedirects:      5,
		UserAgent:         "og-image-proxy/1.0",
		DenyPrivateIPs:    true,
		RequestsPerSecond: 0,
		Burst:             1,
		Breaker:           resilience.DefaultBreakerConfig(name),
	}
}

// Document is a fetched response body together with the URL it was finally served from.
type Document struct {
	URL         *url.URL
	ContentType string
	Body        []byte
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	config   Config
	limiter  *rate.Limiter
	breakers *lru.Cache[string, *resilience.Breaker]
}

func New(config Config) (*Fetcher, error) {
	breakers, err := lru.New[string, *resilience.Breaker](maxTrackedHostBreakers)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker cache: %w", err)
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	if config.Breaker.IsSuccessful == nil {
		config.Breaker.IsSuccessful = hostHealthy
	}

	f := &Fetcher{
		config:   config,
		limiter:  rate.NewLimiter(limit, burst),
		breakers: breakers,
	}
	f.client = &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.config.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", ErrTooManyRedirects, len(via))
			}
			if err := ValidateURL(req.URL.String(), f.config.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}
	return f, nil
}

// Get fetches rawURL and returns its body. Non-2xx responses are errors.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Document, error) {
	if err := ValidateURL(rawURL, f.config.DenyPrivateIPs); err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u, _ := url.Parse(rawURL)
	breaker := f.breakerFor(u.Host)
	return resilience.Execute(breaker, func() (*Document, error) {
		return f.do(ctx, rawURL)
	})
}

func (f *Fetcher) breakerFor(host string) *resilience.Breaker {
	if b, ok := f.breakers.Get(host); ok {
		return b
	}
	cfg := f.config.Breaker
	cfg.Name = f.config.Name + ":" + host
	b := resilience.NewBreaker(cfg)
	// Another goroutine may have raced us; keep whichever got in first.
	if prev, ok, _ := f.breakers.PeekOrAdd(host, b); ok {
		return prev
	}
	return b
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if f.config.Accept != "" {
		req.Header.Set("Accept", f.config.Accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && (errors.Is(urlErr.Err, ErrTooManyRedirects) || errors.Is(urlErr.Err, ErrPrivateIP) || errors.Is(urlErr.Err, ErrInvalidURL)) {
			return nil, urlErr.Err
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBodySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, rawURL, f.config.MaxBodySize)
	}

	finalURL := resp.Request.URL
	if finalURL == nil {
		finalURL, _ = url.Parse(rawURL)
	}

	return &Document{
		URL:         finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
