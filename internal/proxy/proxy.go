// Package proxy relays requests to downstream services. Bodies are treated
// as opaque bytes; the gateway never parses or rewrites downstream payloads.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"skylink.org/internal/obs"
)

// Response is a downstream reply relayed verbatim to the caller.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Forwarder relays one request to a fixed downstream base URL.
type Forwarder interface {
	Forward(ctx context.Context, req Request) (*Response, error)
}

// Request describes what to relay. Header carries only the passthrough
// headers (Authorization, X-Trace-Id); hop-by-hop headers never cross.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// ErrUpstreamTimeout marks a downstream that did not answer in time.
var ErrUpstreamTimeout = errors.New("proxy: upstream timeout")

// ErrUpstreamUnreachable marks a downstream connection failure.
var ErrUpstreamUnreachable = errors.New("proxy: upstream unreachable")

// HTTPForwarder relays over plain HTTP with a per-request timeout.
type HTTPForwarder struct {
	base    string
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// Option tunes a forwarder.
type Option func(*HTTPForwarder)

// WithTimeout bounds each relayed request. Default 10s.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPForwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithClient substitutes the HTTP client. Useful for tests.
func WithClient(c *http.Client) Option {
	return func(f *HTTPForwarder) {
		if c != nil {
			f.client = c
		}
	}
}

// NewHTTPForwarder builds a forwarder rooted at base.
func NewHTTPForwarder(base string, opts ...Option) (*HTTPForwarder, error) {
	if base == "" {
		return nil, errors.New("proxy: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.New("proxy: invalid base URL")
	}
	f := &HTTPForwarder{
		base:    strings.TrimRight(base, "/"),
		client:  &http.Client{},
		timeout: 10 * time.Second,
		log:     obs.Logger().With().Str("component", "proxy").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *HTTPForwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := f.base + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, ErrUpstreamUnreachable
	}
	for _, h := range []string{"Authorization", "X-Trace-Id", "Content-Type", "Accept-Language"} {
		if v := req.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			f.log.Warn().Str("path", req.Path).Dur("elapsed", time.Since(start)).Msg("upstream timeout")
			return nil, ErrUpstreamTimeout
		}
		f.log.Warn().Err(err).Str("path", req.Path).Msg("upstream unreachable")
		return nil, ErrUpstreamUnreachable
	}
	defer resp.Body.Close()

	// 4 MiB cap keeps a misbehaving downstream from exhausting memory.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrUpstreamTimeout
		}
		return nil, ErrUpstreamUnreachable
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
