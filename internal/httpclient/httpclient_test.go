package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{}
	c.setDefaults()
	if c.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", c.ConnectTimeout)
	}
	if c.TotalTimeout != 30*time.Second {
		t.Errorf("TotalTimeout = %v, want 30s", c.TotalTimeout)
	}
	if c.MaxResponseSize != 5<<20 {
		t.Errorf("MaxResponseSize = %d, want 5MiB", c.MaxResponseSize)
	}
}

func TestNewRejectsInvalidProxyURL(t *testing.T) {
	_, err := New(Config{ProxyURL: "://bad"})
	if err == nil {
		t.Fatal("expected error for invalid proxy URL")
	}
}

func TestNewAcceptsValidConfig(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
}

func TestReadBoundedAcceptsWithinCap(t *testing.T) {
	c, err := New(Config{MaxResponseSize: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp := &http.Response{Body: io.NopCloser(bytes.NewReader([]byte("0123456789")))}
	body, err := c.ReadBounded(resp)
	if err != nil {
		t.Fatalf("ReadBounded: %v", err)
	}
	if len(body) != 10 {
		t.Fatalf("len(body) = %d, want 10", len(body))
	}
}

func TestReadBoundedRejectsOverCap(t *testing.T) {
	c, err := New(Config{MaxResponseSize: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp := &http.Response{Body: io.NopCloser(bytes.NewReader([]byte("0123456789")))}
	_, err = c.ReadBounded(resp)
	if err != ErrBodyTooLarge {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}
