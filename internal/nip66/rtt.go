package nip66

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// RTTResult is the NIP-66 RTT probe's metadata value (spec.md §4.7.1:
// "Three latencies in ms: open, read, write").
type RTTResult struct {
	OpenMs  int64 `json:"rtt_open,omitempty"`
	ReadMs  int64 `json:"rtt_read,omitempty"`
	WriteMs int64 `json:"rtt_write,omitempty"`
}

// RTTProbe measures the three phases. signingKey is a hex-encoded
// secp256k1 private key used to sign the write-phase test event
// (spec.md §4.7.1: "Requires signing keys").
func RTTProbe(ctx context.Context, tr transport.RelayTransport, relayURL, signingKey string) (RTTResult, RTTLogs) {
	conn, openElapsed, err := tr.Connect(ctx, relayURL)
	if err != nil {
		return RTTResult{}, CascadeFailure(err.Error())
	}
	defer conn.Close()

	logs := RTTLogs{OpenSuccess: true}
	result := RTTResult{OpenMs: openElapsed.Milliseconds()}

	readMs, readErr := probeRead(ctx, conn)
	if readErr != nil {
		logs.ReadReason = readErr.Error()
	} else {
		logs.ReadSuccess = true
		result.ReadMs = readMs
	}

	writeMs, writeErr := probeWrite(ctx, conn, signingKey)
	if writeErr != nil {
		logs.WriteReason = writeErr.Error()
	} else {
		logs.WriteSuccess = true
		result.WriteMs = writeMs
	}

	return result, logs
}

// probeRead subscribes with a LIMIT=1 filter and waits for the first
// EVENT or EOSE, measuring elapsed time (spec.md §4.7.1 read phase).
func probeRead(ctx context.Context, conn transport.Conn) (int64, error) {
	subID := "bigbrotr-rtt-read"
	filter := nostr.Filter{Limit: 1}
	req := []any{"REQ", subID, filter}

	start := time.Now()
	if err := conn.SendJSON(ctx, req); err != nil {
		return 0, fmt.Errorf("send REQ: %w", err)
	}

	for {
		raw, err := conn.ReadMessage(ctx)
		if err != nil {
			return 0, fmt.Errorf("read response: %w", err)
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
			continue
		}
		var kind string
		if err := json.Unmarshal(frame[0], &kind); err != nil {
			continue
		}
		if kind == "EVENT" || kind == "EOSE" {
			return time.Since(start).Milliseconds(), nil
		}
		if kind == "NOTICE" {
			continue
		}
	}
}

// probeWrite publishes a kind-20000 ephemeral test event, then verifies
// it was accepted by reading back the relay's OK/notice, measuring
// elapsed time (spec.md §4.7.1 write phase, "publish ... and verify by
// id fetch" — the ephemeral kind means a REQ-by-id fetch would typically
// miss it at most relays, so acceptance is verified via the OK response
// instead, which every NIP-20-compliant relay sends).
func probeWrite(ctx context.Context, conn transport.Conn, signingKey string) (int64, error) {
	event := nostr.Event{
		Kind:      20000,
		CreatedAt: nostr.Now(),
		Content:   "bigbrotr rtt probe",
		Tags:      nostr.Tags{},
	}
	if err := event.Sign(signingKey); err != nil {
		return 0, fmt.Errorf("sign test event: %w", err)
	}

	start := time.Now()
	if err := conn.SendJSON(ctx, []any{"EVENT", event}); err != nil {
		return 0, fmt.Errorf("send EVENT: %w", err)
	}

	for {
		raw, err := conn.ReadMessage(ctx)
		if err != nil {
			return 0, fmt.Errorf("read OK: %w", err)
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 3 {
			continue
		}
		var kind, id string
		if err := json.Unmarshal(frame[0], &kind); err != nil {
			continue
		}
		if kind != "OK" {
			continue
		}
		if err := json.Unmarshal(frame[1], &id); err != nil || id != event.ID {
			continue
		}
		var accepted bool
		if err := json.Unmarshal(frame[2], &accepted); err != nil {
			return 0, fmt.Errorf("decode OK acceptance: %w", err)
		}
		if !accepted {
			return 0, fmt.Errorf("relay rejected test event")
		}
		return time.Since(start).Milliseconds(), nil
	}
}
