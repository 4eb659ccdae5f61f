package validator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bigbrotr/bigbrotr/internal/relay"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn feeds a canned sequence of frames to probe() without a real
// socket.
type fakeConn struct {
	frames [][]byte
	idx    int
	sent   []any
	closed bool
}

func (c *fakeConn) SendJSON(_ context.Context, v any) error {
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) ReadMessage(_ context.Context) ([]byte, error) {
	if c.idx >= len(c.frames) {
		return nil, errors.New("no more frames")
	}
	f := c.frames[c.idx]
	c.idx++
	return f, nil
}

func (c *fakeConn) ResponseHeader() map[string][]string { return nil }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeTransport struct {
	conn    transport.Conn
	connErr error
}

func (t *fakeTransport) Connect(_ context.Context, _ string) (transport.Conn, time.Duration, error) {
	if t.connErr != nil {
		return nil, 0, t.connErr
	}
	return t.conn, 10 * time.Millisecond, nil
}

func newValidatorWithTransport(tr transport.RelayTransport) *Validator {
	return New(nil, tr, discardLogger(), Config{})
}

func TestProbeAcceptsEOSE(t *testing.T) {
	v := newValidatorWithTransport(&fakeTransport{conn: &fakeConn{frames: [][]byte{[]byte(`["EOSE","sub"]`)}}})
	ok, err := v.probe(context.Background(), "wss://relay.example.com", time.Second)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !ok {
		t.Fatal("expected valid result on EOSE")
	}
}

func TestProbeAcceptsNotice(t *testing.T) {
	v := newValidatorWithTransport(&fakeTransport{conn: &fakeConn{frames: [][]byte{[]byte(`["NOTICE","hello"]`)}}})
	ok, err := v.probe(context.Background(), "wss://relay.example.com", time.Second)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !ok {
		t.Fatal("expected valid result on NOTICE")
	}
}

func TestProbeSkipsUnrecognizedFramesThenAccepts(t *testing.T) {
	v := newValidatorWithTransport(&fakeTransport{conn: &fakeConn{frames: [][]byte{
		[]byte(`["UNKNOWN"]`),
		[]byte(`not json`),
		[]byte(`["AUTH","challenge"]`),
	}}})
	ok, err := v.probe(context.Background(), "wss://relay.example.com", time.Second)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !ok {
		t.Fatal("expected valid result once AUTH frame seen")
	}
}

func TestProbeInvalidWhenConnectionCloses(t *testing.T) {
	v := newValidatorWithTransport(&fakeTransport{conn: &fakeConn{frames: nil}})
	ok, err := v.probe(context.Background(), "wss://relay.example.com", time.Second)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if ok {
		t.Fatal("expected invalid result when no recognized frame arrives before close")
	}
}

func TestProbeInvalidOnConnectError(t *testing.T) {
	v := newValidatorWithTransport(&fakeTransport{connErr: errors.New("refused")})
	ok, err := v.probe(context.Background(), "wss://relay.example.com", time.Second)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if ok {
		t.Fatal("expected invalid result on connect failure, not a hard error")
	}
}

func TestCleanupConfigDefaultMaxFailures(t *testing.T) {
	c := CleanupConfig{}
	c.setDefaults()
	if c.MaxFailures != 100 {
		t.Fatalf("MaxFailures = %d, want 100", c.MaxFailures)
	}
}

func TestConfigSetDefaultsChunkSize(t *testing.T) {
	c := Config{}
	c.setDefaults()
	if c.ChunkSize != 100 {
		t.Fatalf("ChunkSize = %d, want 100", c.ChunkSize)
	}
}

func TestNetworkPolicyMapKeyedByNetwork(t *testing.T) {
	cfg := Config{Networks: map[relay.Network]NetworkPolicy{
		relay.Clearnet: {Enabled: true, MaxTask: 5, Timeout: time.Second},
	}}
	pol, ok := cfg.Networks[relay.Clearnet]
	if !ok || !pol.Enabled || pol.MaxTask != 5 {
		t.Fatalf("unexpected policy lookup: %+v, %v", pol, ok)
	}
}
