package nip66

import (
	"context"

	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// HTTPResult is the NIP-66 HTTP probe's metadata value (spec.md
// §4.7.1: Server and X-Powered-By headers captured during the
// WebSocket upgrade, not a separate HTTP request).
type HTTPResult struct {
	Server       string `json:"server,omitempty"`
	XPoweredBy   string `json:"x_powered_by,omitempty"`
}

// HTTPProbe reads the response headers captured by a transport
// connection's upgrade handshake. The caller opens conn beforehand
// (Monitor opens a dedicated connection for this probe, separate from the
// RTT probe's); no separate HTTP request is made.
func HTTPProbe(_ context.Context, conn transport.Conn) (HTTPResult, Logs) {
	header := conn.ResponseHeader()
	if header == nil {
		return HTTPResult{}, Fail("no response header captured during upgrade")
	}
	result := HTTPResult{}
	if v := first(header["Server"]); v != "" {
		result.Server = v
	}
	if v := first(header["X-Powered-By"]); v != "" {
		result.XPoweredBy = v
	}
	if result.Server == "" && result.XPoweredBy == "" {
		return result, Fail("no Server or X-Powered-By header present")
	}
	return result, Ok()
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
