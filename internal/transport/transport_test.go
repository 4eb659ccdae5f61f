package transport

import (
	"context"
	"testing"
	"time"
)

func TestBuildHTTPClientDirectNoProxy(t *testing.T) {
	tr := NewWebsocketTransport(Dialer{HandshakeTimeout: time.Second})
	client, err := tr.buildHTTPClient("wss://relay.example.com")
	if err != nil {
		t.Fatalf("buildHTTPClient: %v", err)
	}
	if client == nil || client.Transport == nil {
		t.Fatal("expected a configured http.Client")
	}
}

func TestBuildHTTPClientRejectsInvalidProxyURL(t *testing.T) {
	tr := NewWebsocketTransport(Dialer{ProxyURL: "://not-a-url"})
	if _, err := tr.buildHTTPClient("wss://relay.example.com"); err == nil {
		t.Fatal("expected error for invalid proxy URL")
	}
}

func TestBuildHTTPClientAcceptsSocks5Proxy(t *testing.T) {
	tr := NewWebsocketTransport(Dialer{ProxyURL: "socks5://127.0.0.1:9050"})
	client, err := tr.buildHTTPClient("ws://abcd.onion")
	if err != nil {
		t.Fatalf("buildHTTPClient: %v", err)
	}
	if client == nil {
		t.Fatal("expected a configured http.Client")
	}
}

func TestWithTimeoutZeroMeansNoDeadline(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 0)
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("expected no deadline when d<=0")
	}
}

func TestWithTimeoutPositiveSetsDeadline(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline when d>0")
	}
}
