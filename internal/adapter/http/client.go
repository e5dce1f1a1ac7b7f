// Package adapthttp is the driven HTTP adapter: a client for the parking
// monitoring REST API.
package adapthttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parkmon/internal/domain"
)

const (
	pathCodeToken     = "auth/v1/get-code/"
	pathAuthToken     = "auth/v1/auth/"
	pathRefresh       = "auth/v1/refresh/"
	pathVerify        = "auth/v1/verify/"
	pathRegions       = "monitoring/v1/region/"
	pathRegionStats   = "monitoring/v1/region_statistics/"
	pathValidParkings = "monitoring/v1/valid_parking/"
	pathExport        = "monitoring/v1/export/download/"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Decorator rewrites outgoing requests, typically to add credentials.
type Decorator interface {
	Decorate(req *http.Request) *http.Request
}

// Client talks to the monitoring API. It implements domain.AuthAPI and
// domain.MonitoringAPI.
type Client struct {
	base *url.URL
	hc   *http.Client
	log  *slog.Logger
	auth *authTransport
}

var (
	_ domain.AuthAPI       = (*Client)(nil)
	_ domain.MonitoringAPI = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the innermost round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.auth.next = rt }
}

// WithTimeout bounds each request. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithLogger sets the logger used for request logs.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	c := &Client{
		base: base,
		log:  slog.Default(),
		auth: &authTransport{next: http.DefaultTransport},
		hc:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.hc.Transport = &loggingTransport{next: c.auth, log: c.log}
	return c, nil
}

// Use installs d as the request decorator. Passing nil removes it.
func (c *Client) Use(d Decorator) {
	c.auth.set(d)
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// endpoint returns the absolute URL of an API path.
func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// resolve turns a possibly relative locator into an absolute URL, relative
// to from.
func resolve(from, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse next page url %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	f, err := url.Parse(from)
	if err != nil {
		return "", fmt.Errorf("parse page url %q: %w", from, err)
	}
	return f.ResolveReference(r).String(), nil
}
