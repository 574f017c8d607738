package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBytes     = 8 << 20
	defaultFallbackSize = 128
)

// ErrFetch is returned when neither the primary nor the fallback avatar could be retrieved.
var ErrFetch = errors.New("avatar fetch failed")

// Config tunes the fetcher. Zero values select the defaults.
type Config struct {
	Timeout      time.Duration
	MaxBytes     int64
	FallbackSize int
	// RequestsPerSecond paces outbound fetches; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Fetcher downloads avatar images with a bounded timeout per attempt and a
// lower resolution fallback.
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBytes     int64
	fallbackSize int
	limiter      *rate.Limiter
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// New constructs a fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:      cfg.Timeout,
		maxBytes:     cfg.MaxBytes,
		fallbackSize: cfg.FallbackSize,
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.maxBytes <= 0 {
		f.maxBytes = defaultMaxBytes
	}
	if f.fallbackSize <= 0 {
		f.fallbackSize = defaultFallbackSize
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the avatar at rawURL, retrying once against the fallback URL
// when the first attempt fails for any reason.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, primaryErr := f.get(ctx, rawURL)
	if primaryErr == nil {
		return body, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, ctx.Err())
	}
	fallback, err := FallbackURL(rawURL, f.fallbackSize)
	if err != nil {
		return nil, fmt.Errorf("%w: primary: %w; fallback: %w", ErrFetch, primaryErr, err)
	}
	body, fallbackErr := f.get(ctx, fallback)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: primary: %w; fallback: %w", ErrFetch, primaryErr, fallbackErr)
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("avatar exceeds %d bytes", f.maxBytes)
	}
	if len(body) == 0 {
		return nil, errors.New("empty avatar body")
	}
	return body, nil
}

// FallbackURL rewrites the size query parameter of an avatar URL, matching the
// CDN convention for requesting a smaller rendition.
func FallbackURL(rawURL string, size int) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("avatar url %q is not absolute", rawURL)
	}
	if size <= 0 {
		size = defaultFallbackSize
	}
	query := parsed.Query()
	query.Set("size", strconv.Itoa(size))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
