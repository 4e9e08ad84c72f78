// Package fetch is the shared outbound HTTP client for enrichers and web
// search: per-host rate limiting, bounded bodies, typed status errors and a
// short-lived response cache for spot quotes.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// #region types

// MaxBodySize bounds every response body read.
const MaxBodySize = 1 << 20

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with one of codes.
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.Code == c {
			return true
		}
	}
	return false
}

// Config tunes a Fetcher.
type Config struct {
	Timeout       time.Duration
	RatePerSecond float64 // per host; 0 disables limiting
	Burst         int
	CacheSize     int
	CacheTTL      time.Duration
	UserAgent     string
}

// DefaultConfig returns the enricher defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		RatePerSecond: 5,
		Burst:         5,
		CacheSize:     256,
		CacheTTL:      60 * time.Second,
		UserAgent:     "olga-assistant/1.0",
	}
}

// #endregion types

// #region fetcher

// Fetcher performs outbound requests.
type Fetcher struct {
	client *http.Client
	cfg    Config
	cache  *expirable.LRU[string, []byte]

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Fetcher{
		client:   client,
		cfg:      cfg,
		cache:    expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	if f.cfg.RatePerSecond <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RatePerSecond), f.cfg.Burst)
		f.limiters[host] = l
	}
	return l
}

// Do sends req and returns the body of a 2xx response.
func (f *Fetcher) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	if l := f.limiter(req.URL.Host); l != nil {
		if err := l.Wait(ctx); err != nil {
			// Wait fails early when the next token lands after the deadline.
			cause := ctx.Err()
			if cause == nil {
				cause = context.DeadlineExceeded
			}
			return nil, fmt.Errorf("rate limit %s: %w: %w", req.URL.Host, err, cause)
		}
	}
	if f.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req.WithContext(ctx))
	if err != nil {
		// Drop the URL so query-string credentials stay out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return body, nil
}

// Get fetches rawURL with optional headers.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return f.Do(ctx, req)
}

// GetCached is Get behind the TTL cache, keyed by URL.
func (f *Fetcher) GetCached(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	if body, ok := f.cache.Get(rawURL); ok {
		return body, nil
	}
	body, err := f.Get(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	f.cache.Add(rawURL, body)
	return body, nil
}

// GetJSON fetches rawURL and decodes the body into out.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out interface{}) error {
	body, err := f.Get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// GetJSONCached is GetJSON behind the TTL cache.
func (f *Fetcher) GetJSONCached(ctx context.Context, rawURL string, headers map[string]string, out interface{}) error {
	body, err := f.GetCached(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// PostJSON sends payload as JSON and decodes the response into out.
func (f *Fetcher) PostJSON(ctx context.Context, rawURL string, headers map[string]string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	body, err := f.Do(ctx, req)
	if err != nil {
		return err
	}
	return decode(body, out)
}

func decode(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// #endregion fetcher
