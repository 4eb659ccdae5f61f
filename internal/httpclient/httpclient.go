// Package httpclient implements the HTTP capability of spec.md §6.3:
// connect+total timeouts, streaming bounded reads (size cap), SOCKS5
// proxy, optional TLS-verify override, and response tracing hooks, used
// for NIP-11 fetches and Finder's external-API source fetches. The
// Monitor HTTP probe does not use it: it reads the headers of the
// transport connection's WebSocket upgrade.
//
// Grounded on the teacher's use of net/http throughout cmd/nophr (no
// third-party HTTP client in the corpus beats the stdlib one once
// httptrace and a custom dialer are wired in — see DESIGN.md).
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ErrBodyTooLarge is returned by ReadBounded when the response body
// exceeds the configured size cap.
var ErrBodyTooLarge = errors.New("httpclient: response body exceeds size cap")

// Config parameterizes one Client.
type Config struct {
	// ConnectTimeout bounds TCP+TLS establishment.
	ConnectTimeout time.Duration
	// TotalTimeout bounds the entire request/response round trip.
	TotalTimeout time.Duration
	// MaxResponseSize caps the bytes read from a response body.
	MaxResponseSize int64
	// ProxyURL, if set, is a socks5://host:port URL used for overlay
	// network relays' NIP-11 fetches.
	ProxyURL string
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 30 * time.Second
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = 5 << 20 // 5 MiB, spec.md §4.5.2 external-API default
	}
}

// Trace captures per-request tracing for general observability — filled
// in by Do via httptrace. The NIP-66 HTTP probe does not use it.
type Trace struct {
	ConnectDuration time.Duration
	TLSDuration     time.Duration
}

// Client wraps *http.Client with the bounded-read/proxy/trace contract.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client from cfg, applying defaults for unset fields.
func New(cfg Config) (*Client, error) {
	cfg.setDefaults()

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	var dial func(network, addr string) (net.Conn, error)
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("httpclient: invalid proxy url: %w", err)
		}
		d, err := proxy.FromURL(u, dialer)
		if err != nil {
			return nil, fmt.Errorf("httpclient: proxy dialer: %w", err)
		}
		dial = d.Dial
	} else {
		dial = dialer.Dial
	}

	transport := &http.Transport{
		Dial: dial,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport, Timeout: cfg.TotalTimeout},
	}, nil
}

// Do performs req (already built by the caller with method/URL/headers),
// bounding total round-trip time and attaching a Trace populated via
// httptrace. The caller must close the returned response body — or, for
// a size-capped read in one shot, use ReadBounded.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, *Trace, error) {
	trace := &Trace{}
	var connectStart, tlsStart time.Time
	clientTrace := &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) { connectStart = time.Now() },
		ConnectDone: func(network, addr string, err error) {
			if !connectStart.IsZero() {
				trace.ConnectDuration = time.Since(connectStart)
			}
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if !tlsStart.IsZero() {
				trace.TLSDuration = time.Since(tlsStart)
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(ctx, clientTrace))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, trace, fmt.Errorf("httpclient: request failed: %w", err)
	}
	return resp, trace, nil
}

// ReadBounded reads resp.Body up to MaxResponseSize+1 bytes and returns
// ErrBodyTooLarge if the cap was exceeded, implementing spec.md §6.3's
// "streaming bounded reads (size cap)" without buffering unbounded input.
func (c *Client) ReadBounded(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, c.cfg.MaxResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxResponseSize {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
