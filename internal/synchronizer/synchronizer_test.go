package synchronizer

import (
	"errors"
	"testing"
	"time"

	"github.com/bigbrotr/bigbrotr/internal/relay"
)

func TestRelayTimeoutsForNetworkFallsBackToClearnet(t *testing.T) {
	rt := RelayTimeouts{Clearnet: 30 * time.Second}
	if got := rt.ForNetwork(relay.Tor); got != 30*time.Second {
		t.Fatalf("ForNetwork(Tor) = %v, want clearnet fallback", got)
	}
}

func TestRelayTimeoutsForNetworkUsesOverlayValue(t *testing.T) {
	rt := RelayTimeouts{Clearnet: 30 * time.Second, Tor: 60 * time.Second}
	if got := rt.ForNetwork(relay.Tor); got != 60*time.Second {
		t.Fatalf("ForNetwork(Tor) = %v, want 60s override", got)
	}
}

func TestRelayTimeoutsForNetworkDefaultsWhenUnset(t *testing.T) {
	rt := RelayTimeouts{}
	if got := rt.ForNetwork(relay.Clearnet); got != 1800*time.Second {
		t.Fatalf("ForNetwork(Clearnet) = %v, want 1800s default", got)
	}
}

func TestConfigSetDefaults(t *testing.T) {
	c := Config{}
	c.setDefaults()
	if c.LookbackSeconds != 86400 {
		t.Fatalf("LookbackSeconds = %d, want 86400", c.LookbackSeconds)
	}
	if c.PaginationLimit != 500 {
		t.Fatalf("PaginationLimit = %d, want 500", c.PaginationLimit)
	}
	if c.PaginationMax != 5000 {
		t.Fatalf("PaginationMax = %d, want 5000", c.PaginationMax)
	}
	if c.CursorFlushInterval != 50 {
		t.Fatalf("CursorFlushInterval = %d, want 50", c.CursorFlushInterval)
	}
}

func TestConfigSetDefaultsClampsLimitToMax(t *testing.T) {
	c := Config{PaginationLimit: 9000, PaginationMax: 2000}
	c.setDefaults()
	if c.PaginationLimit != 2000 {
		t.Fatalf("PaginationLimit = %d, want clamped to 2000", c.PaginationLimit)
	}
}

func TestCountersAccumulateConcurrently(t *testing.T) {
	var c Counters
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			c.addSynced(1)
			c.addInvalid(1)
			c.addSkipped(1)
			c.incFailedRelay()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	snap := c.snapshot()
	if snap.SyncedEvents != 10 || snap.InvalidEvents != 10 || snap.SkippedEvents != 10 || snap.FailedRelays != 10 {
		t.Fatalf("snapshot = %+v, want all counters at 10", snap)
	}
}

func TestFatalErrorUnwraps(t *testing.T) {
	inner := errors.New("db unreachable")
	fe := &fatalError{err: inner}
	if fe.Unwrap() != inner {
		t.Fatal("Unwrap did not return the wrapped error")
	}
	if fe.Error() != inner.Error() {
		t.Fatalf("Error() = %q, want %q", fe.Error(), inner.Error())
	}
	if !errors.As(error(fe), new(*fatalError)) {
		t.Fatal("errors.As should find *fatalError in the chain")
	}
}

func TestRelayEntryMergeSkipsDuplicateOverride(t *testing.T) {
	seen := map[string]bool{"wss://known.example.com": true}
	overrides := []string{"wss://known.example.com", "wss://new.example.com"}
	var added []string
	for _, url := range overrides {
		if seen[url] {
			continue
		}
		added = append(added, url)
	}
	if len(added) != 1 || added[0] != "wss://new.example.com" {
		t.Fatalf("added = %v, want only the new override", added)
	}
}
