// Package transport implements the RelayTransport capability (spec.md
// §6.2): connect to a relay's WebSocket endpoint, optionally through a
// SOCKS5 proxy for overlay networks, send raw JSON messages, iterate
// incoming messages, close. Validator, Monitor, and Synchronizer consume
// it behind the RelayTransport interface rather than a concrete SDK
// type, so the protocol stack stays swappable (spec.md §9 design note).
//
// Grounded on the teacher's internal/nostr/client.go, which wraps
// nostr.SimplePool directly inside services; here the wrapping is
// generalized one level further, into an explicit interface plus two
// implementations: a go-nostr-pool-backed PoolClient, which Monitor uses
// to publish events, and a raw coder/websocket RelayTransport, which
// gives the NIP-66 RTT/HTTP-header probes the frame-level timing the pool
// does not expose and also carries Validator/Synchronizer REQ/EVENT
// traffic.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/proxy"
)

// Dialer describes how to reach a relay: its URL plus network-specific
// connection parameters (spec.md §6.2's "optional SOCKS5 proxy").
type Dialer struct {
	// ProxyURL is a socks5://host:port URL. Empty means dial directly.
	ProxyURL string
	// InsecureSkipVerify disables certificate verification (clearnet
	// relays only; overlay relays never use TLS per spec.md glossary).
	InsecureSkipVerify bool
	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration
}

// RelayTransport is the capability every probe and service consumes:
// connect, send, iterate incoming messages, close (spec.md §6.2).
type RelayTransport interface {
	// Connect opens the WebSocket to relayURL. OpenDuration reports the
	// wall-clock time the handshake took, needed by the NIP-66 RTT probe's
	// open phase (spec.md §4.7.1).
	Connect(ctx context.Context, relayURL string) (Conn, time.Duration, error)
}

// Conn is one live WebSocket connection to a relay.
type Conn interface {
	// SendJSON marshals v with encoding/json and writes it as a text frame.
	SendJSON(ctx context.Context, v any) error
	// ReadMessage blocks for the next incoming text frame.
	ReadMessage(ctx context.Context) ([]byte, error)
	// ResponseHeader returns the HTTP response header captured during the
	// WebSocket upgrade — the source of the NIP-66 HTTP probe's Server /
	// X-Powered-By headers (spec.md §4.7.1), with no extra HTTP request.
	ResponseHeader() map[string][]string
	Close() error
}

// WebsocketTransport implements RelayTransport with coder/websocket
// directly, giving callers handshake timing and raw frame access —
// needed by the NIP-66 RTT and HTTP-header probes, and reused by
// Validator/Synchronizer for ordinary protocol traffic so the whole
// stack shares one dialer/proxy configuration.
type WebsocketTransport struct {
	dialer Dialer
}

// NewWebsocketTransport builds a transport using d for every Connect call.
func NewWebsocketTransport(d Dialer) *WebsocketTransport {
	return &WebsocketTransport{dialer: d}
}

func (t *WebsocketTransport) Connect(ctx context.Context, relayURL string) (Conn, time.Duration, error) {
	httpClient, err := t.buildHTTPClient(relayURL)
	if err != nil {
		return nil, 0, err
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if t.dialer.HandshakeTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, t.dialer.HandshakeTimeout)
		defer cancel()
	}

	start := time.Now()
	c, resp, err := websocket.Dial(dialCtx, relayURL, &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, fmt.Errorf("transport: connect %s: %w", relayURL, err)
	}
	c.SetReadLimit(32 << 20)

	var header map[string][]string
	if resp != nil {
		header = map[string][]string(resp.Header)
	}
	return &wsConn{c: c, header: header}, elapsed, nil
}

// buildHTTPClient wires the SOCKS5/TLS-override transport used for the
// initial HTTP upgrade request, mirroring the spec.md §6.2 "optional
// SOCKS5 proxy for overlay networks" requirement.
func (t *WebsocketTransport) buildHTTPClient(relayURL string) (*http.Client, error) {
	base := &net.Dialer{Timeout: 30 * time.Second}

	var dial func(network, addr string) (net.Conn, error)
	if t.dialer.ProxyURL != "" {
		u, err := url.Parse(t.dialer.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid proxy url: %w", err)
		}
		d, err := proxy.FromURL(u, base)
		if err != nil {
			return nil, fmt.Errorf("transport: proxy dialer: %w", err)
		}
		dial = d.Dial
	} else {
		dial = base.Dial
	}

	transport := &http.Transport{
		Dial: dial,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: t.dialer.InsecureSkipVerify,
		},
	}
	return &http.Client{Transport: transport}, nil
}

type wsConn struct {
	c      *websocket.Conn
	header map[string][]string
}

func (w *wsConn) SendJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal message: %w", err)
	}
	return w.c.Write(ctx, websocket.MessageText, b)
}

func (w *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, b, err := w.c.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: read message: %w", err)
	}
	return b, nil
}

func (w *wsConn) ResponseHeader() map[string][]string { return w.header }

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "done")
}
